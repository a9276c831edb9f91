package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/noah-isme/survey-archive-api/internal/models"
)

// SurveyCodec reads and writes the raw export file of an archive.
type SurveyCodec struct{}

// NewSurveyCodec constructs the codec.
func NewSurveyCodec() *SurveyCodec {
	return &SurveyCodec{}
}

// Encode writes bundle as indented JSON.
func (c *SurveyCodec) Encode(w io.Writer, bundle *models.SurveyBundle) error {
	if bundle == nil || bundle.Survey == nil {
		return fmt.Errorf("survey bundle has no survey")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		return fmt.Errorf("encode survey bundle: %w", err)
	}
	return nil
}

// Decode parses a raw export. A document without a survey yields (nil, nil): the file was
// readable but holds nothing importable.
func (c *SurveyCodec) Decode(r io.Reader) (*models.SurveyBundle, error) {
	var bundle models.SurveyBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode survey bundle: %w", err)
	}
	if bundle.Survey == nil {
		return nil, nil
	}
	return &bundle, nil
}

package export

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// Document is a single page PDF: a heading, an optional subtitle and a two-or-more column table.
type Document struct {
	Title    string
	Subtitle string
	Data     Dataset
}

// PDFExporter renders documents with gofpdf core fonts.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render writes doc as PDF to w.
func (e *PDFExporter) Render(w io.Writer, doc Document) error {
	if len(doc.Data.Headers) == 0 {
		return fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.MultiCell(0, 8, tr(doc.Title), "", "L", false)
	}
	if doc.Subtitle != "" {
		pdf.SetFont("Arial", "I", 10)
		pdf.MultiCell(0, 6, tr(doc.Subtitle), "", "L", false)
	}
	pdf.Ln(4)

	colWidth := 180.0 / float64(len(doc.Data.Headers))
	pdf.SetFont("Arial", "B", 10)
	for _, header := range doc.Data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range doc.Data.Rows {
		for i := range doc.Data.Headers {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			pdf.CellFormat(colWidth, 7, tr(value), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

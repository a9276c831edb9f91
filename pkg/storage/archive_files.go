package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
)

// ArchiveFileKind names one derived file of an archived survey.
type ArchiveFileKind string

const (
	KindRaw           ArchiveFileKind = "raw"
	KindPDF           ArchiveFileKind = "pdf"
	KindStatisticsPDF ArchiveFileKind = "statistics-pdf"
	KindStatisticsXLS ArchiveFileKind = "statistics-xls"
	KindResultsXLS    ArchiveFileKind = "results-xls"
	KindResultsZIP    ArchiveFileKind = "results-zip"
	KindResultsXLSZIP ArchiveFileKind = "results-xls-zip"
)

// tempPattern names the staging files Write creates next to their target.
const tempPattern = ".tmp-*"

// archiveKinds is ordered; the suffix is appended to the survey UID to form the file name.
var archiveKinds = []struct {
	kind   ArchiveFileKind
	suffix string
}{
	{KindRaw, ""},
	{KindPDF, ".pdf"},
	{KindStatisticsPDF, "statistics.pdf"},
	{KindStatisticsXLS, "statistics.xls"},
	{KindResultsXLS, "results.xls"},
	{KindResultsZIP, "results.zip"},
	{KindResultsXLSZIP, "results.xls.zip"},
}

// ArchiveFileKinds lists every managed kind in a stable order.
func ArchiveFileKinds() []ArchiveFileKind {
	kinds := make([]ArchiveFileKind, 0, len(archiveKinds))
	for _, k := range archiveKinds {
		kinds = append(kinds, k.kind)
	}
	return kinds
}

// Suffix returns the file name suffix for kind.
func (k ArchiveFileKind) Suffix() (string, bool) {
	for _, entry := range archiveKinds {
		if entry.kind == k {
			return entry.suffix, true
		}
	}
	return "", false
}

// ArchiveLayout maps a survey UID to file locations under one on-disk scheme.
type ArchiveLayout interface {
	Name() string
	FilePath(surveyUID, suffix string) string
	// Folder returns the per-archive folder, if the layout has one.
	Folder(surveyUID string) (string, bool)
}

// CurrentLayout keeps each archive in its own folder: {root}/{uid}/{uid}{suffix}.
type CurrentLayout struct {
	Root string
}

func (l CurrentLayout) Name() string { return "current" }

func (l CurrentLayout) FilePath(surveyUID, suffix string) string {
	return filepath.Join(l.Root, surveyUID, surveyUID+suffix)
}

func (l CurrentLayout) Folder(surveyUID string) (string, bool) {
	return filepath.Join(l.Root, surveyUID), true
}

// LegacyLayout is the flat directory used before per-archive folders: {root}/{uid}{suffix}.
type LegacyLayout struct {
	Root string
}

func (l LegacyLayout) Name() string { return "legacy" }

func (l LegacyLayout) FilePath(surveyUID, suffix string) string {
	return filepath.Join(l.Root, surveyUID+suffix)
}

func (l LegacyLayout) Folder(string) (string, bool) { return "", false }

// CleanupFailure records one path that could not be removed during DeleteAll.
type CleanupFailure struct {
	Path string
	Err  error
}

func (f *CleanupFailure) Error() string {
	return fmt.Sprintf("remove %s: %v", f.Path, f.Err)
}

func (f *CleanupFailure) Unwrap() error { return f.Err }

// CleanupFailures flattens the aggregated error returned by DeleteAll.
func CleanupFailures(err error) []*CleanupFailure {
	var failures []*CleanupFailure
	for _, e := range multierr.Errors(err) {
		var failure *CleanupFailure
		if errors.As(e, &failure) {
			failures = append(failures, failure)
		}
	}
	return failures
}

// ArchiveFileSet manages the derived files of archived surveys across layouts.
// Layouts are listed in resolution priority.
type ArchiveFileSet struct {
	layouts []ArchiveLayout
}

// NewArchiveFileSet builds a file set with the current layout under root and the legacy layout under legacyRoot.
func NewArchiveFileSet(root, legacyRoot string) *ArchiveFileSet {
	return &ArchiveFileSet{layouts: []ArchiveLayout{
		CurrentLayout{Root: root},
		LegacyLayout{Root: legacyRoot},
	}}
}

// Resolve returns the first existing path for kind, falling back to the last layout's path.
func (s *ArchiveFileSet) Resolve(surveyUID string, kind ArchiveFileKind) (string, error) {
	suffix, ok := kind.Suffix()
	if !ok {
		return "", fmt.Errorf("unknown archive file kind %q", kind)
	}
	if err := validateUID(surveyUID); err != nil {
		return "", err
	}
	var path string
	for _, layout := range s.layouts {
		path = layout.FilePath(surveyUID, suffix)
		if s.Exists(path) {
			return path, nil
		}
	}
	return path, nil
}

// ResolveRawFile locates the raw export to restore from. Existence is left to the caller.
func (s *ArchiveFileSet) ResolveRawFile(surveyUID string) (string, error) {
	return s.Resolve(surveyUID, KindRaw)
}

// CurrentPath returns where kind is written for new archives.
func (s *ArchiveFileSet) CurrentPath(surveyUID string, kind ArchiveFileKind) (string, error) {
	suffix, ok := kind.Suffix()
	if !ok {
		return "", fmt.Errorf("unknown archive file kind %q", kind)
	}
	if err := validateUID(surveyUID); err != nil {
		return "", err
	}
	return s.layouts[0].FilePath(surveyUID, suffix), nil
}

// Exists reports whether path is a regular file.
func (s *ArchiveFileSet) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Paths lists every managed path for surveyUID: each layout's files, then its folder.
func (s *ArchiveFileSet) Paths(surveyUID string) []string {
	paths := make([]string, 0, len(s.layouts)*(len(archiveKinds)+1))
	for _, layout := range s.layouts {
		for _, entry := range archiveKinds {
			paths = append(paths, layout.FilePath(surveyUID, entry.suffix))
		}
		if folder, ok := layout.Folder(surveyUID); ok {
			paths = append(paths, folder)
		}
	}
	return paths
}

// DeleteAll removes every managed path of surveyUID. Missing paths are not errors and a
// failure never stops the sweep; failures are returned as *CleanupFailure values combined
// with multierr.
func (s *ArchiveFileSet) DeleteAll(surveyUID string) error {
	if err := validateUID(surveyUID); err != nil {
		return err
	}
	var result error
	for _, path := range append(s.strayTempFiles(surveyUID), s.Paths(surveyUID)...) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierr.Append(result, &CleanupFailure{Path: path, Err: err})
		}
	}
	return result
}

// strayTempFiles lists temp files an interrupted Write left in the folders of surveyUID.
func (s *ArchiveFileSet) strayTempFiles(surveyUID string) []string {
	var stray []string
	for _, layout := range s.layouts {
		folder, ok := layout.Folder(surveyUID)
		if !ok {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(folder, tempPattern))
		if err != nil {
			continue
		}
		stray = append(stray, matches...)
	}
	return stray
}

// EnsureFolder creates the current-layout folder for surveyUID.
func (s *ArchiveFileSet) EnsureFolder(surveyUID string) error {
	if err := validateUID(surveyUID); err != nil {
		return err
	}
	folder, ok := s.layouts[0].Folder(surveyUID)
	if !ok {
		return nil
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create archive folder: %w", err)
	}
	return nil
}

// Write streams r into the current-layout file for kind through a temp file so readers never
// observe a partial export.
func (s *ArchiveFileSet) Write(surveyUID string, kind ArchiveFileKind, r io.Reader) (string, error) {
	path, err := s.CurrentPath(surveyUID, kind)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare archive folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", fmt.Errorf("write archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", fmt.Errorf("commit archive file: %w", err)
	}
	return path, nil
}

// Open returns a read handle for the resolved file of kind.
func (s *ArchiveFileSet) Open(surveyUID string, kind ArchiveFileKind) (*os.File, error) {
	path, err := s.Resolve(surveyUID, kind)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive file: %w", err)
	}
	return file, nil
}

// A UID with separators could escape the archive roots.
func validateUID(surveyUID string) error {
	if surveyUID == "" || surveyUID == "." || surveyUID == ".." || strings.ContainsAny(surveyUID, `/\`) {
		return fmt.Errorf("invalid survey uid %q", surveyUID)
	}
	return nil
}

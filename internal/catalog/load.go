package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"poextract/internal"
	"poextract/internal/storage"
)

// LoadFile reads a catalog from disk, choosing the reader by extension.
func LoadFile(path string) ([]internal.CatalogEntry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadBytes(filepath.Base(path), content)
}

func LoadBytes(name string, content []byte) ([]internal.CatalogEntry, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".csv", ".tsv", ".txt":
		entries, err := ParseText(string(content))
		if err != nil {
			return nil, withSource(err, name)
		}
		return entries, nil
	case ".xlsx", ".xlsm":
		grid, err := ReadXLSX(bytes.NewReader(content))
		if err != nil {
			return nil, withSource(err, name)
		}
		return ParseGrid(grid), nil
	case ".html", ".htm", ".xls":
		if !looksLikeHTML(content) {
			return nil, &ParseError{Source: name, Err: fmt.Errorf("legacy %s workbooks are not supported, save as .xlsx or .csv", ext)}
		}
		grid, err := ReadHTML(bytes.NewReader(content))
		if err != nil {
			return nil, withSource(err, name)
		}
		return ParseGrid(grid), nil
	default:
		return nil, &ParseError{Source: name, Err: fmt.Errorf("unsupported catalog extension %q", ext)}
	}
}

type Service struct {
	db *storage.DB
}

func NewService(db *storage.DB) *Service {
	return &Service{db: db}
}

// Import parses a catalog file and swaps it in as the active catalog. When
// parsing fails the stored catalog is left untouched.
func (s *Service) Import(path string) (int, error) {
	entries, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	err = s.db.ImportCatalog(entries, map[string]string{
		"catalog.source_name": filepath.Base(path),
		"catalog.loaded_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *Service) Entries() ([]internal.CatalogEntry, error) {
	return s.db.ListCatalog()
}

// SourceName returns the file name of the active catalog, or "" when none was loaded.
func (s *Service) SourceName() string {
	name, err := s.db.GetMetadata("catalog.source_name")
	if err != nil || name == nil {
		return ""
	}
	return *name
}

func (s *Service) Clear() error {
	return s.db.ImportCatalog(nil, map[string]string{"catalog.source_name": ""})
}

func withSource(err error, name string) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return &ParseError{Source: name, Err: pe.Err}
	}
	return &ParseError{Source: name, Err: err}
}

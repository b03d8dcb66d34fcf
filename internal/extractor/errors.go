package extractor

import (
	"errors"
	"fmt"
)

var ErrUnsupportedMediaType = errors.New("unsupported media type")

// Error is returned for any failure to turn a document into an extraction:
// transport, API status, truncated output or unparseable JSON.
type Error struct {
	DocumentID string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	prefix := "extraction failed"
	if e.DocumentID != "" {
		prefix += " for " + e.DocumentID
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", prefix, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	var xerr *Error
	if errors.As(err, &xerr) {
		return err
	}
	return &Error{Err: err}
}

// WithDocument tags err with the document it belongs to.
func WithDocument(err error, documentID string) error {
	if err == nil {
		return nil
	}
	var xerr *Error
	if errors.As(err, &xerr) {
		xerr.DocumentID = documentID
		return err
	}
	return &Error{DocumentID: documentID, Err: err}
}

package api

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrNotFound is returned by stores when an owner-scoped lookup finds nothing.
var ErrNotFound = errors.New("not found")

// ValidationError reports user input that was rejected, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field. The first message per field wins.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// Empty reports whether no field was rejected.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// OrNil returns e when any field was rejected and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, field+": "+e.Fields[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// UpstreamFetchError is returned when the fiscal document page could not be retrieved.
type UpstreamFetchError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("fetching %s: timed out", e.URL)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	}
	return "fetching " + e.URL + ": failed"
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// ExtractionError is returned when a fetched page yields neither an access key nor a payable amount.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "extracting document: " + e.Reason
}

// PersistenceError wraps a storage failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorKind classifies errors for callers such as the HTTP layer.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindUpstream    ErrorKind = "upstream_fetch"
	KindExtraction  ErrorKind = "extraction"
	KindPersistence ErrorKind = "persistence"
	KindNotFound    ErrorKind = "not_found"
	KindInternal    ErrorKind = "internal"
)

// KindOf returns the kind of the first taxonomy error found in err's chain.
// A PersistenceError wins over a not-found error it wraps: a missing row seen
// while writing is a storage failure, not a missing resource.
func KindOf(err error) ErrorKind {
	var (
		validationErr  *ValidationError
		upstreamErr    *UpstreamFetchError
		extractionErr  *ExtractionError
		persistenceErr *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &upstreamErr):
		return KindUpstream
	case errors.As(err, &extractionErr):
		return KindExtraction
	case errors.As(err, &persistenceErr):
		return KindPersistence
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}

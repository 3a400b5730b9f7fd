package domain

import (
	"errors"
	"fmt"
)

// ErrEmptySelection is the hard precondition failure: no panels and no files.
var ErrEmptySelection = errors.New("empty selection: no panels selected and no files uploaded")

// UpstreamUnavailableError reports a transient registry failure (network error,
// timeout, 5xx, open circuit). Callers may retry.
type UpstreamUnavailableError struct {
	Source Source
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("registry %s unavailable during %s: %v", e.Source, e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}

// UpstreamFormatError reports an upstream payload that does not match the
// expected schema. Row-level occurrences are skipped and counted; this error
// surfaces only when the response as a whole is undecodable.
type UpstreamFormatError struct {
	Source Source
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *UpstreamFormatError) Error() string {
	return fmt.Sprintf("registry %s returned unexpected payload during %s: %s", e.Source, e.Op, e.Detail)
}

// IngestErrorKind classifies upload parsing failures.
type IngestErrorKind string

// Ingest error kinds. KindNoGeneColumn is a warning: the parser still returns
// an empty-gene PanelDetail so the caller can report rather than abort.
const (
	KindNoGeneColumn      IngestErrorKind = "no_gene_column"
	KindEmptyFile         IngestErrorKind = "empty_file"
	KindUnsupportedFormat IngestErrorKind = "unsupported_format"
	KindUnreadable        IngestErrorKind = "unreadable"
)

// IngestError reports a problem with one uploaded file. It is non-fatal to the
// overall merge: the failed file is recorded and skipped.
type IngestError struct {
	Kind     IngestErrorKind
	Filename string
	Detail   string
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ingest %s: %s", e.Filename, e.Kind)
	}
	return fmt.Sprintf("ingest %s: %s (%s)", e.Filename, e.Kind, e.Detail)
}

// IsUpstreamUnavailable reports whether err is (or wraps) an UpstreamUnavailableError.
func IsUpstreamUnavailable(err error) bool {
	var ue *UpstreamUnavailableError
	return errors.As(err, &ue)
}

// IsNoGeneColumn reports whether err is the NoGeneColumn warning.
func IsNoGeneColumn(err error) bool {
	var ie *IngestError
	return errors.As(err, &ie) && ie.Kind == KindNoGeneColumn
}

package rag

import (
	"errors"
)

var (
	// ErrNotFound indicates a missing file or folder, or an unsupported document.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates empty or invalid input.
	ErrValidation = errors.New("validation failed")

	// ErrStorage indicates a vector store read or write failure.
	ErrStorage = errors.New("storage failure")

	// ErrIO indicates a filesystem read or write failure.
	ErrIO = errors.New("io failure")

	// ErrUnsupportedFormat indicates a document extension no converter handles.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Kind classifies an error for callers that map failures to status codes.
type Kind string

const (
	KindNone        Kind = ""
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindUnsupported Kind = "unsupported"
	KindStorage     Kind = "storage"
	KindIO          Kind = "io"
	KindInternal    Kind = "internal"
)

// KindOf returns the kind of err. Unsupported is checked before not-found
// because unsupported documents are also reported as missing.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupported
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}

package ingest

import (
	"errors"
	"fmt"
)

// Kind classifies why a run failed. Kinds are comparable with errors.Is.
type Kind string

const (
	StorageNotFound   Kind = "StorageNotFound"
	MalformedDocument Kind = "MalformedDocument"
	UnsupportedCRS    Kind = "UnsupportedCrs"
	TransformFailure  Kind = "TransformFailure"
	PersistFailure    Kind = "PersistFailure"
	// Timeout marks an attempt aborted by its deadline.
	Timeout Kind = "Timeout"
)

func (k Kind) Error() string { return string(k) }

// Step names recorded in error messages and step metrics.
const (
	StepLoadLayer = "load_layer"
	StepRead      = "read"
	StepParse     = "parse"
	StepDetect    = "detect_crs"
	StepTransform = "transform"
	StepSave      = "save_transformed"
	StepMetadata  = "extract_metadata"
	StepPersist   = "persist"
)

// StepError is returned by Process for every failed run.
type StepError struct {
	Kind Kind
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func fail(kind Kind, step string, err error) *StepError {
	return &StepError{Kind: kind, Step: step, Err: err}
}

// Retryable reports whether another attempt could change the outcome.
// Missing uploads and documents that failed to parse or reproject fail the
// same way every time.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, StorageNotFound), errors.Is(err, MalformedDocument),
		errors.Is(err, UnsupportedCRS), errors.Is(err, TransformFailure):
		return false
	}
	return true
}

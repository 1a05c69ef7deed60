// Package apperr holds the error taxonomy shared by the classifier packages.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotSupported is returned when a component does not expose the
	// requested capability, e.g. feature names of an unfitted vectorizer.
	ErrNotSupported = errors.New("operation not supported")

	// ErrProbabilityUnsupported is returned by models that cannot produce
	// class probabilities with their current configuration.
	ErrProbabilityUnsupported = errors.New("probability estimates are not available for this model")

	// ErrNotFitted is returned when a model or vectorizer is used before Fit.
	ErrNotFitted = errors.New("estimator is not fitted")
)

// ConfigurationError reports an unreadable, malformed or invalid configuration.
type ConfigurationError struct {
	Path   string
	Fields []string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Path != "" {
		fmt.Fprintf(&b, " in %s", e.Path)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Fields, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DataLoadError wraps failures reading a dataset file.
type DataLoadError struct {
	Path string
	Err  error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("failed to load data from %s: %v", e.Path, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// UnsupportedTypeError reports an unknown vectorizer, classifier, file or
// pipeline kind.
type UnsupportedTypeError struct {
	Category string
	Type     string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported %s type: %s", e.Category, e.Type)
}

// TrainingError is returned when a training run fails in any state.
type TrainingError struct {
	State string
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed during %s: %v", e.State, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// InferenceError is returned when transform or predict fails.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsClientError reports whether err was caused by bad caller input rather
// than a server-side failure.
func IsClientError(err error) bool {
	var unsupported *UnsupportedTypeError
	var cfgErr *ConfigurationError
	return errors.As(err, &unsupported) || errors.As(err, &cfgErr)
}

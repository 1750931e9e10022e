package agewatch

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the agewatch package.
var (
	// ErrConfig is matched by every configuration error.
	ErrConfig = errors.New("configuration error")

	// ErrData is matched by every error raised while loading or validating a series.
	ErrData = errors.New("data error")

	// ErrExecution is matched by failures of the sampler, the supervisor or a model fit.
	ErrExecution = errors.New("execution error")

	// ErrUnknownModel is returned when the model name is not one of the known kinds.
	ErrUnknownModel = errors.New("unknown model")

	// ErrModelNotTrained is returned when results are requested before Train.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrSinkNotFound is returned when the sink file does not exist.
	ErrSinkNotFound = errors.New("sink not found")

	// ErrFitDiverged is returned when a model fit produces non-finite values.
	ErrFitDiverged = errors.New("model fit diverged")
)

// ConfigError describes an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func newConfigError(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// DataErrorType categorizes data errors.
type DataErrorType int

const (
	// DataErrorTypeUnknown is an unclassified data error.
	DataErrorTypeUnknown DataErrorType = iota
	// DataErrorTypeNotFound indicates the sink does not exist.
	DataErrorTypeNotFound
	// DataErrorTypeEmpty indicates the sink holds no samples.
	DataErrorTypeEmpty
	// DataErrorTypeMalformed indicates a row or header could not be parsed.
	DataErrorTypeMalformed
	// DataErrorTypeOrdering indicates timestamps are not strictly increasing.
	DataErrorTypeOrdering
	// DataErrorTypeMissingColumn indicates a required resource column is absent.
	DataErrorTypeMissingColumn
)

func (t DataErrorType) String() string {
	switch t {
	case DataErrorTypeNotFound:
		return "not_found"
	case DataErrorTypeEmpty:
		return "empty"
	case DataErrorTypeMalformed:
		return "malformed"
	case DataErrorTypeOrdering:
		return "ordering"
	case DataErrorTypeMissingColumn:
		return "missing_column"
	default:
		return "unknown"
	}
}

// DataError provides detailed information about a series that cannot be used.
type DataError struct {
	Type    DataErrorType
	Message string
	Path    string
	// Row is the 1-based data row (header excluded); 0 when not row specific.
	Row   int
	Cause error
}

func (e *DataError) Error() string {
	msg := e.Message
	if e.Row > 0 {
		msg = fmt.Sprintf("%s (row %d)", msg, e.Row)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *DataError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for DataError.
func (e *DataError) Is(target error) bool {
	switch target {
	case ErrData:
		return true
	case ErrSinkNotFound:
		return e.Type == DataErrorTypeNotFound
	}
	return false
}

func newDataError(errType DataErrorType, message, path string, row int, cause error) *DataError {
	return &DataError{
		Type:    errType,
		Message: message,
		Path:    path,
		Row:     row,
		Cause:   cause,
	}
}

// ExecutionError wraps a failure that happened while the pipeline was running.
type ExecutionError struct {
	// Stage names the pipeline step, e.g. "sampler", "monitoring", "train".
	Stage string
	Cause error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Cause)
	}
	return e.Stage + " failed"
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

func newExecutionError(stage string, cause error) *ExecutionError {
	return &ExecutionError{Stage: stage, Cause: cause}
}

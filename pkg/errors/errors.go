package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel errors shared by the hub and its stages
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnavailable        = errors.New("service unavailable")
	ErrCanceled           = errors.New("operation canceled")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrMalformedCommand   = errors.New("malformed command")
	ErrStageFault         = errors.New("stage fault")
	ErrStoreUnavailable   = errors.New("call history store unavailable")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrNoOpenRecord       = errors.New("no open call record")
	ErrCallInProgress     = errors.New("call already in progress")
	ErrNoActiveCall       = errors.New("no active call")
)

// Error is a structured error carrying context fields and its creation site
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int

	// Code is an optional machine-readable category
	Code string
}

func newError(original error, message string, skip int, fields []map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(skip)

	fieldMap := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			fieldMap[k] = v
		}
	}

	return &Error{
		original: original,
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
	}
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	return newError(errors.New(message), message, 2, fields)
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	return newError(err, message, 2, fields)
}

func (e *Error) clone(extra int) *Error {
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+extra),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return result
}

// WithField returns a copy of the error with one more context field
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(1)
	result.fields[key] = value
	return result
}

// WithFields returns a copy of the error with the given context fields added
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode returns a copy of the error tagged with code
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(0)
	result.Code = code
	return result
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" || e.message == e.original.Error() {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Is reports whether the wrapped error matches target
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// NewMalformedCommand reports a command whose canonical text could not be parsed
func NewMalformedCommand(text, details string) *Error {
	err := newError(ErrMalformedCommand, fmt.Sprintf("malformed command %q: %s", text, details), 2, nil)
	err.fields["command"] = text
	err.Code = "MALFORMED_COMMAND"
	return err
}

// NewUnknownCommand reports a command name no receiver understands
func NewUnknownCommand(name string) *Error {
	err := newError(ErrUnknownCommand, fmt.Sprintf("unknown command: %s", name), 2, nil)
	err.fields["command"] = name
	err.Code = "UNKNOWN_COMMAND"
	return err
}

// NewInvalidConfig reports a configuration value that cannot be used
func NewInvalidConfig(key, details string) *Error {
	err := newError(ErrInvalidConfig, fmt.Sprintf("invalid %s: %s", key, details), 2, nil)
	err.fields["key"] = key
	err.Code = "INVALID_CONFIG"
	return err
}

// StageFaultError is raised when a stage's work step fails or panics. It
// carries enough context to log the fault once, at the supervisor.
type StageFaultError struct {
	Stage string
	Panic interface{}
	Stack string
	Err   error
}

func (e *StageFaultError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	case e.Panic != nil:
		return fmt.Sprintf("stage %s panicked: %v", e.Stage, e.Panic)
	default:
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
}

// Unwrap returns the underlying error, if any
func (e *StageFaultError) Unwrap() error {
	return e.Err
}

// Is makes every StageFaultError match ErrStageFault
func (e *StageFaultError) Is(target error) bool {
	return target == ErrStageFault
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}

// GetErrorFields extracts fields from an error if it's a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}

// Is mirrors the standard library errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As mirrors the standard library errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

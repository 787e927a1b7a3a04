// Package errors provides structured error types for the surrogate codec.
// All errors include a category, code, message, and retryable flag so callers
// can tell a corrupt blob from a schema mismatch from a storage hiccup.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure kind.
type ErrorCategory string

const (
	ErrCategoryValidation  ErrorCategory = "VALIDATION"
	ErrCategoryDecode      ErrorCategory = "DECODE"
	ErrCategorySchema      ErrorCategory = "SCHEMA"
	ErrCategoryCompression ErrorCategory = "COMPRESSION"
	ErrCategoryConstraint  ErrorCategory = "CONSTRAINT"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategorySource      ErrorCategory = "SOURCE"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeNilArgument     = "NIL_ARGUMENT"
	CodeInvalidArgument = "INVALID_ARGUMENT"

	// Decode codes
	CodeTruncated          = "TRUNCATED"
	CodeInvalidRowState    = "INVALID_ROW_STATE"
	CodeCorruptStream      = "CORRUPT_STREAM"
	CodeUnknownTag         = "UNKNOWN_TAG"
	CodeOrdinalOutOfRange  = "ORDINAL_OUT_OF_RANGE"
	CodeChecksumMismatch   = "CHECKSUM_MISMATCH"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"

	// Schema codes
	CodeSchemaMismatch = "SCHEMA_MISMATCH"

	// Compression codes
	CodeCompressFailed = "COMPRESS_FAILED"

	// Constraint codes
	CodeNullNotAllowed  = "NULL_NOT_ALLOWED"
	CodeUniqueViolation = "UNIQUE_VIOLATION"
	CodeFKViolation     = "FK_VIOLATION"
	CodeReadOnly        = "READ_ONLY"
	CodeDeletedRow      = "DELETED_ROW"
	CodeMaxLength       = "MAX_LENGTH"
	CodeTypeMismatch    = "TYPE_MISMATCH"
	CodeDuplicateName   = "DUPLICATE_NAME"
	CodeInvalidState    = "INVALID_STATE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeDeleteFailed   = "DELETE_FAILED"
	CodeListFailed     = "LIST_FAILED"
	CodeInvalidKey     = "INVALID_KEY"

	// Source codes
	CodeUnsupportedDialect = "UNSUPPORTED_DIALECT"
	CodeConnectFailed      = "CONNECT_FAILED"
	CodeQueryFailed        = "QUERY_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// SurrogateError is the structured error type used throughout the module.
type SurrogateError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SurrogateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SurrogateError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SurrogateError) Is(target error) bool {
	var t *SurrogateError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SurrogateError.
func New(category ErrorCategory, code, message string) *SurrogateError {
	return &SurrogateError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new SurrogateError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *SurrogateError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new SurrogateError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SurrogateError {
	return &SurrogateError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SurrogateError) WithDetails(details map[string]interface{}) *SurrogateError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SurrogateError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SurrogateError.
func GetCategory(err error) ErrorCategory {
	var se *SurrogateError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SurrogateError.
func GetCode(err error) string {
	var se *SurrogateError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable reports whether a failure may succeed on an identical retry.
// Codec failures are deterministic; only storage transfers are retryable.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategorySource && code == CodeConnectFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewNilArgument(name string) *SurrogateError {
	return Newf(ErrCategoryValidation, CodeNilArgument, "%s must not be nil", name)
}

func NewDecodeError(code, message string) *SurrogateError {
	return New(ErrCategoryDecode, code, message)
}

func NewSchemaError(message string) *SurrogateError {
	return New(ErrCategorySchema, CodeSchemaMismatch, message)
}

func NewConstraintError(code, message string) *SurrogateError {
	return New(ErrCategoryConstraint, code, message)
}

func NewStorageError(code, message string, cause error) *SurrogateError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewSourceError(code, message string, cause error) *SurrogateError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewInternalError(message string, cause error) *SurrogateError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

package model

import "errors"

// Common errors surfaced to MCP callers. Handlers map these onto the
// structured {success:false, error:..., message:...} envelope.
var (
	ErrNotFound             = errors.New("not found")
	ErrUnsupportedFormat    = errors.New("unsupported file format")
	ErrEmptyFile            = errors.New("file is empty")
	ErrFileTooLarge         = errors.New("file exceeds maximum size")
	ErrInvalidFilename      = errors.New("invalid filename")
	ErrInvalidContextName   = errors.New("context name must match [A-Za-z0-9_-]{1,64}")
	ErrReservedContext      = errors.New("context name is reserved")
	ErrDuplicateContext     = errors.New("context already exists")
	ErrEmptyQuery           = errors.New("query cannot be empty")
	ErrConfirmationRequired = errors.New("confirmation required")
)

// ErrorKind returns the short machine-readable kind carried in tool result
// envelopes for a known error, or "internal_error" for anything else.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConfirmationRequired):
		return "confirmation_required"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrEmptyFile), errors.Is(err, ErrFileTooLarge), errors.Is(err, ErrInvalidFilename):
		return "invalid_file"
	case errors.Is(err, ErrInvalidContextName), errors.Is(err, ErrReservedContext):
		return "invalid_context"
	case errors.Is(err, ErrDuplicateContext):
		return "context_exists"
	case errors.Is(err, ErrEmptyQuery):
		return "invalid_query"
	default:
		return "internal_error"
	}
}

package mirror

import "fmt"

// Kind tags an Error by semantics rather than by Go type, so the worker loop
// and API handlers can decide whether a failure reflects a bad request, an
// upstream problem, or an internal bug.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindUpstream           Kind = "upstream_error"
	KindDownload           Kind = "download_error"
	KindStorage            Kind = "storage_error"
	KindInvariantViolation Kind = "invariant_violation"
)

// Error is the tagged, wrapped error every fallible mirror-engine/intake
// step returns, used in place of exceptions-for-control-flow.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...interface{}) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...), nil)
}

// Upstreamf builds an UpstreamError wrapping err.
func Upstreamf(err error, format string, args ...interface{}) *Error {
	return newError(KindUpstream, fmt.Sprintf(format, args...), err)
}

// Downloadf builds a DownloadError wrapping err.
func Downloadf(err error, format string, args ...interface{}) *Error {
	return newError(KindDownload, fmt.Sprintf(format, args...), err)
}

// Storagef builds a StorageError wrapping err.
func Storagef(err error, format string, args ...interface{}) *Error {
	return newError(KindStorage, fmt.Sprintf(format, args...), err)
}

// Invariantf builds an InvariantViolation wrapping err.
func Invariantf(err error, format string, args ...interface{}) *Error {
	return newError(KindInvariantViolation, fmt.Sprintf(format, args...), err)
}

package errors

// ErrorCode names a failure class. Packages declare their own codes next to
// the code that returns them (loadcell_not_ready, esc_bad_hex, ...); the
// shared ones live in codes.go.
type ErrorCode string

// Error is a coded failure. Data carries the subject of the failure, such as
// a channel name or a serial port, and Unwrap exposes the underlying cause.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors. Call sites take one with New() and keep it
// for the function body.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, cause error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}

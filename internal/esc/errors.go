package esc

import "codeberg.org/mutker/thrustbench/internal/errors"

const (
	// Decode Errors
	ErrBadLength   = errors.ErrorCode("esc_bad_length")
	ErrBadHex      = errors.ErrorCode("esc_bad_hex")
	ErrBadChecksum = errors.ErrorCode("esc_bad_checksum")

	// Transport Errors
	ErrOpenPort      = errors.ErrOpenSerial
	ErrWriteFailed   = errors.ErrorCode("esc_write_failed")
	ErrReadFailed    = errors.ErrorCode("esc_read_failed")
	ErrFlushFailed   = errors.ErrorCode("esc_flush_failed")
	ErrReadTimeout   = errors.ErrorCode("esc_read_timeout")
	ErrFrameAttempts = errors.ErrorCode("esc_frame_attempts_exhausted")
	ErrClosed        = errors.ErrorCode("esc_link_closed")
)

// IsDecodeError reports whether err is a rejected telemetry line rather than
// a transport failure.
func IsDecodeError(err error) bool {
	return errors.HasCode(err, ErrBadLength) ||
		errors.HasCode(err, ErrBadHex) ||
		errors.HasCode(err, ErrBadChecksum)
}

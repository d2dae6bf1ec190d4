package loadcell

import "codeberg.org/mutker/thrustbench/internal/errors"

const (
	// Channel Errors
	ErrNotReady     = errors.ErrorCode("loadcell_not_ready")
	ErrFramingError = errors.ErrorCode("loadcell_framing_error")
	ErrLineFault    = errors.ErrorCode("loadcell_line_fault")

	// Reader Errors
	ErrNoChannels = errors.ErrorCode("loadcell_no_channels")
)

package gpio

import "codeberg.org/mutker/thrustbench/internal/errors"

const (
	ErrOpenChip      = errors.ErrOpenGPIO
	ErrRequestLine   = errors.ErrorCode("gpio_request_line_failed")
	ErrUnknownDriver = errors.ErrorCode("gpio_unknown_driver")
	ErrSimulated     = errors.ErrorCode("gpio_simulated_driver")
	ErrCloseLines    = errors.ErrorCode("gpio_close_failed")
)

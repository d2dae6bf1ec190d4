package calibration

import "codeberg.org/mutker/thrustbench/internal/errors"

const (
	ErrInterrupted      = errors.ErrorCode("calibration_interrupted")
	ErrChannelMismatch  = errors.ErrorCode("calibration_channel_mismatch")
	ErrInvalidGradient  = errors.ErrorCode("calibration_invalid_gradient")
	ErrTooFewPoints     = errors.ErrorCode("calibration_too_few_points")
	ErrDegenerateSeries = errors.ErrorCode("calibration_degenerate_series")
)

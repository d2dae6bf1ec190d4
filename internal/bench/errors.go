package bench

import "codeberg.org/mutker/thrustbench/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrCalibration   = errors.ErrorCode("bench_calibration_failed")
	ErrTransport     = errors.ErrorCode("bench_transport_failed")
	ErrShutdown      = errors.ErrShutdownFailed
)

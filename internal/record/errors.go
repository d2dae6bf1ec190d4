package record

import "codeberg.org/mutker/thrustbench/internal/errors"

const (
	ErrOpenFile    = errors.ErrOpenRecorder
	ErrWriteRow    = errors.ErrorCode("record_write_failed")
	ErrFlush       = errors.ErrorCode("record_flush_failed")
	ErrConnect     = errors.ErrorCode("record_mqtt_connect_failed")
	ErrPublish     = errors.ErrorCode("record_mqtt_publish_failed")
	ErrEncode      = errors.ErrorCode("record_encode_failed")
	ErrCloseSinks  = errors.ErrShutdownFailed
	ErrInvalidPath = errors.ErrInvalidOutput
)

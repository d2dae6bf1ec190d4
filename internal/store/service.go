package store

import (
	"time"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/logger"
	"codeberg.org/mutker/thrustbench/internal/record"
)

type service struct {
	repo  Repository
	runID int64
	now   func() time.Time
}

// No-op implementation
type noopRecorder struct{}

// NewService opens the run database and starts a run. When the store is
// disabled it returns a recorder that discards everything.
func NewService(cfg Config, run Run, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if log == nil {
		log = logger.Default()
	}

	if !cfg.Enabled {
		log.Debug().Msg("Run database disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create run repository")
		return nil, err
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	id, err := repo.BeginRun(run)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	log.Info().
		Int64("run_id", id).
		Str("db_path", cfg.DBPath).
		Msg("Recording run")

	return &service{repo: repo, runID: id, now: time.Now}, nil
}

func (s *service) RunID() int64 {
	return s.runID
}

func (s *service) Write(row record.Row) error {
	if err := s.repo.RecordSample(s.runID, row); err != nil {
		return errors.New().Wrap(ErrRecordSample, err)
	}
	return nil
}

func (s *service) WriteCalibration(entries []record.CalibrationEntry) error {
	return s.repo.RecordCalibration(s.runID, entries)
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.EndRun(s.runID, s.now()); err != nil {
		_ = s.repo.Close()
		return errFactory.Wrap(ErrStorageClose, err)
	}
	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}

// No-op implementation
func (*noopRecorder) RunID() int64                                     { return 0 }
func (*noopRecorder) Write(record.Row) error                           { return nil }
func (*noopRecorder) WriteCalibration([]record.CalibrationEntry) error { return nil }
func (*noopRecorder) Close() error                                     { return nil }

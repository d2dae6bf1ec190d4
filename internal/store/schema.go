package store

import (
	"database/sql"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS runs (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       started_at  REAL NOT NULL,
	       ended_at    REAL,
	       output      TEXT NOT NULL,
	       step        INTEGER NOT NULL CHECK (step > 0),
	       ceiling     INTEGER NOT NULL,
	       channels    TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       run_id       INTEGER NOT NULL REFERENCES runs(id),
	       timestamp    REAL NOT NULL,
	       throttle     INTEGER NOT NULL CHECK (typeof(throttle) = 'integer'),
	       thrust       REAL,
	       channels     TEXT NOT NULL,
	       voltage      REAL NOT NULL,
	       current_a    REAL NOT NULL,
	       temperature  INTEGER NOT NULL,
	       consumed_mah REAL NOT NULL,
	       erpm         REAL NOT NULL,
	       omega        REAL NOT NULL,
	       PRIMARY KEY (run_id, throttle)
	   );
	   CREATE TABLE IF NOT EXISTS calibrations (
	       run_id       INTEGER NOT NULL REFERENCES runs(id),
	       timestamp    REAL NOT NULL,
	       channel      TEXT NOT NULL,
	       gradient     REAL NOT NULL,
	       zero_offset  REAL,
	       noise_stdev  REAL,
	       samples      INTEGER NOT NULL,
	       PRIMARY KEY (run_id, channel)
	   );`

	insertRunSQL = `
    INSERT INTO runs (started_at, output, step, ceiling, channels)
    VALUES (?, ?, ?, ?, ?)`

	endRunSQL = `UPDATE runs SET ended_at = ? WHERE id = ?`

	insertSampleSQL = `
    INSERT INTO samples (
        run_id, timestamp, throttle, thrust, channels,
        voltage, current_a, temperature, consumed_mah, erpm, omega
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertCalibrationSQL = `
    INSERT INTO calibrations (
        run_id, timestamp, channel, gradient, zero_offset, noise_stdev, samples
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}

package record

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/thrustbench/internal/errors"
)

// Header is the first record of every sample file.
var Header = []string{"Timestamp", "DShot_cmd", "Thrust", "Voltage", "Omega"}

// CSVSink appends rows to a CSV file.
type CSVSink struct {
	file *os.File
	w    *csv.Writer
}

// OpenCSV opens path for appending and writes the header if the file is
// empty.
func OpenCSV(path string) (*CSVSink, error) {
	errFactory := errors.New()

	if !strings.HasSuffix(path, ".csv") {
		return nil, errFactory.WithData(ErrInvalidPath, path)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenFile, err).WithData(path)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errFactory.Wrap(ErrOpenFile, err).WithData(path)
	}

	s := &CSVSink{file: file, w: csv.NewWriter(file)}

	if info.Size() == 0 {
		if err := s.w.Write(Header); err != nil {
			_ = file.Close()
			return nil, errFactory.Wrap(ErrWriteRow, err)
		}
		if err := s.flush(); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	return s, nil
}

// Write appends one record and flushes it, so a killed run keeps every
// completed step.
func (s *CSVSink) Write(row Row) error {
	record := []string{
		strconv.FormatFloat(unixSeconds(row.Timestamp), 'f', -1, 64),
		strconv.Itoa(row.Throttle),
		formatFloat(row.Thrust),
		formatFloat(row.Voltage),
		formatFloat(row.Omega),
	}

	if err := s.w.Write(record); err != nil {
		return errors.New().Wrap(ErrWriteRow, err)
	}

	return s.flush()
}

func (s *CSVSink) Close() error {
	if s.file == nil {
		return nil
	}

	err := s.flush()
	if cerr := s.file.Close(); err == nil && cerr != nil {
		err = errors.New().Wrap(ErrFlush, cerr)
	}
	s.file = nil

	return err
}

func (s *CSVSink) flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return errors.New().Wrap(ErrFlush, err)
	}

	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

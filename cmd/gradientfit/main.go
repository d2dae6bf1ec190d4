package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/thrustbench/internal/calibration"
	"codeberg.org/mutker/thrustbench/internal/errors"
	"codeberg.org/mutker/thrustbench/internal/logger"
	"github.com/spf13/pflag"
)

const (
	// Errors
	errReadPoints = errors.ErrorCode("gradientfit_read_points_failed")
	errParsePoint = errors.ErrorCode("gradientfit_parse_point_failed")
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := pflag.NewFlagSet("gradientfit", pflag.ContinueOnError)
	channel := fs.String("channel", "lc0", "Channel name for the printed config snippet")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warning, error)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gradientfit [flags] <points.csv>\n\n"+
			"Fits reading = gradient * weight_g + intercept from weight_g,reading rows.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	logger.Init(*logLevel, logger.IsService())

	weights, readings, err := readPoints(fs.Arg(0))
	if err != nil {
		logCoded(err, "Failed to read calibration points")
		return 1
	}

	fit, err := calibration.FitGradient(weights, readings)
	if err != nil {
		logCoded(err, "Failed to fit gradient")
		return 1
	}

	logger.Info().
		Int("points", fit.Points).
		Float64("gradient", fit.Gradient).
		Float64("intercept", fit.Intercept).
		Float64("r_squared", fit.RSquared).
		Msg("Gradient fitted")

	fmt.Fprintf(out, "[[loadcell.channels]]\nname = %q\ngradient = %.9e\n", *channel, fit.Gradient)

	return 0
}

// readPoints parses weight_g,reading rows. A non-numeric first row is
// treated as a header.
func readPoints(path string) (weights, readings []float64, err error) {
	errFactory := errors.New()

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errFactory.Wrap(errReadPoints, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true
	r.Comment = '#'

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, errFactory.Wrap(errReadPoints, err)
	}

	for i, rec := range records {
		w, werr := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		v, verr := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if werr != nil || verr != nil {
			if i == 0 {
				continue
			}
			return nil, nil, errFactory.WithData(errParsePoint, fmt.Sprintf("line %d", i+1))
		}
		weights = append(weights, w)
		readings = append(readings, v)
	}

	return weights, readings, nil
}

func logCoded(err error, msg string) {
	var e errors.Error
	if errors.As(err, &e) {
		logger.ErrorWithCode(e).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}

package calibration

import (
	"math"

	"codeberg.org/mutker/thrustbench/internal/errors"
	"gonum.org/v1/gonum/stat"
)

// Fit is a least-squares line through (weight, reading) points.
type Fit struct {
	Gradient  float64 // reading per gram
	Intercept float64 // reading at zero load
	RSquared  float64
	Points    int
}

// FitGradient fits readings taken under known reference weights (grams).
func FitGradient(weights, readings []float64) (Fit, error) {
	errFactory := errors.New()

	if len(weights) != len(readings) {
		return Fit{}, errFactory.WithData(ErrChannelMismatch, len(readings))
	}
	if len(weights) < 2 {
		return Fit{}, errFactory.WithData(ErrTooFewPoints, len(weights))
	}

	intercept, gradient := stat.LinearRegression(weights, readings, nil, false)
	if gradient == 0 || math.IsNaN(gradient) || math.IsInf(gradient, 0) {
		return Fit{}, errFactory.New(ErrDegenerateSeries)
	}

	return Fit{
		Gradient:  gradient,
		Intercept: intercept,
		RSquared:  stat.RSquared(weights, readings, nil, intercept, gradient),
		Points:    len(weights),
	}, nil
}

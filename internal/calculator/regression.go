package calculator

import (
	"errors"
	"math"
)

// LinearFit is an ordinary least-squares line y = Intercept + Slope*x fitted
// over x = 0, 1, ..., N-1.
type LinearFit struct {
	N         int
	Slope     float64
	Intercept float64
	RSquared  float64
	MSE       float64
	RMSE      float64
	MAE       float64
}

// FitLine fits close prices against their index. Sums are taken around the
// means of x and y so large price levels do not swamp the variance terms.
//
// A series of identical values yields slope 0 and R² 1: the flat
// line explains it perfectly. R² is clamped to [0, 1].
func FitLine(ys []float64) (LinearFit, error) {
	n := len(ys)
	if n < 2 {
		return LinearFit{}, errors.New("need at least two points to fit a line")
	}
	for _, y := range ys {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return LinearFit{}, errors.New("series contains non-finite values")
		}
	}

	xMean := float64(n-1) / 2
	yMean := 0.0
	for _, y := range ys {
		yMean += y
	}
	yMean /= float64(n)

	var sxx, sxy, sst float64
	for i, y := range ys {
		dx := float64(i) - xMean
		dy := y - yMean
		sxx += dx * dx
		sxy += dx * dy
		sst += dy * dy
	}

	fit := LinearFit{N: n}
	flat := true
	for _, y := range ys[1:] {
		if y != ys[0] {
			flat = false
			break
		}
	}
	if flat {
		fit.Slope = 0
		fit.Intercept = yMean
		fit.RSquared = 1
	} else {
		fit.Slope = sxy / sxx
		fit.Intercept = yMean - fit.Slope*xMean
	}

	var sse, sae float64
	for i, y := range ys {
		r := y - fit.At(float64(i))
		sse += r * r
		sae += math.Abs(r)
	}
	fit.MSE = sse / float64(n)
	fit.RMSE = math.Sqrt(fit.MSE)
	fit.MAE = sae / float64(n)

	if !flat {
		fit.RSquared = clamp01(1 - sse/sst)
	}
	return fit, nil
}

// At evaluates the fitted line at x.
func (f LinearFit) At(x float64) float64 {
	return f.Intercept + f.Slope*x
}

// Project evaluates the line horizon steps past the last observed index.
func (f LinearFit) Project(horizon int) float64 {
	return f.At(float64(f.N - 1 + horizon))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

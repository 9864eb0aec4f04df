package predictor

import (
	"context"
	"fmt"
	"time"

	"StockOracle/internal/calculator"
	"StockOracle/internal/model"
	"StockOracle/internal/store"
)

// Predictor fits a least-squares trend over the trailing window of a stored
// series and projects it forward.
type Predictor struct {
	store     store.Store
	window    int
	minPoints int
	now       func() time.Time
}

// New returns a Predictor reading at most window trailing bars. minPoints is
// raised to 2 if smaller, since a line needs two points.
func New(s store.Store, window, minPoints int) *Predictor {
	if minPoints < 2 {
		minPoints = 2
	}
	if window < minPoints {
		window = minPoints
	}
	return &Predictor{store: s, window: window, minPoints: minPoints, now: time.Now}
}

// Predict projects the close horizonDays bars past the last stored bar.
// A horizon of 0 evaluates the fit at the last bar.
func (p *Predictor) Predict(ctx context.Context, symbol string, horizonDays int) (*model.Prediction, error) {
	symbol = model.NormalizeSymbol(symbol)
	if horizonDays < 0 {
		return nil, fmt.Errorf("predict %s: horizon %d: %w", symbol, horizonDays, model.ErrInvalidHorizon)
	}

	points, err := p.store.Tail(ctx, symbol, p.window)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", symbol, err)
	}
	if len(points) < p.minPoints {
		return nil, &model.InsufficientDataError{Symbol: symbol, Have: len(points), Need: p.minPoints}
	}

	closes := make([]float64, len(points))
	for i, pt := range points {
		closes[i] = pt.Close
	}
	fit, err := calculator.FitLine(closes)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", symbol, err)
	}

	return &model.Prediction{
		Symbol:         symbol,
		GeneratedAt:    p.now().UTC(),
		HorizonDays:    horizonDays,
		Slope:          fit.Slope,
		Intercept:      fit.Intercept,
		ProjectedPrice: fit.Project(horizonDays),
		RSquared:       fit.RSquared,
		SampleSize:     fit.N,
		From:           points[0].Time,
		To:             points[len(points)-1].Time,
		MSE:            fit.MSE,
		RMSE:           fit.RMSE,
		MAE:            fit.MAE,
	}, nil
}

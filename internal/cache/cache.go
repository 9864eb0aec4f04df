package cache

import (
	"context"

	"StockOracle/internal/model"
)

// PredictionCache holds recent predictions keyed by symbol and horizon.
// A miss is (nil, false, nil); errors are reserved for a broken backend.
type PredictionCache interface {
	Get(ctx context.Context, symbol string, horizon int) (*model.Prediction, bool, error)
	Put(ctx context.Context, p *model.Prediction) error
	// Invalidate drops every horizon cached for symbol.
	Invalidate(ctx context.Context, symbol string) error
	Close() error
}

package forecast

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"StockOracle/internal/cache"
	"StockOracle/internal/calculator"
	"StockOracle/internal/collector"
	"StockOracle/internal/ingest"
	"StockOracle/internal/logger"
	"StockOracle/internal/metrics"
	"StockOracle/internal/model"
	"StockOracle/internal/predictor"
	"StockOracle/internal/store"
)

// ErrCatalogueUnsupported is returned when the provider publishes no symbol list.
var ErrCatalogueUnsupported = errors.New("provider has no symbol catalogue")

// Service is the single entry point for front ends: it serves stored series
// and cached predictions and triggers refreshes.
type Service struct {
	store       store.Store
	coordinator *ingest.Coordinator
	predictor   *predictor.Predictor
	cache       cache.PredictionCache
	lister      collector.SymbolLister
	symbols     []string

	// gen counts series changes per symbol. A prediction computed under an
	// older generation is never cached. cacheMu orders the generation check
	// and Put against the bump and Invalidate of a refresh.
	cacheMu sync.Mutex
	gen     map[string]uint64
}

// Deps are the collaborators a Service composes. Lister may be nil.
type Deps struct {
	Store       store.Store
	Coordinator *ingest.Coordinator
	Predictor   *predictor.Predictor
	Cache       cache.PredictionCache
	Lister      collector.SymbolLister
	// Symbols is the watch list refreshed by RefreshAll.
	Symbols []string
}

func NewService(d Deps) *Service {
	syms := make([]string, 0, len(d.Symbols))
	for _, s := range d.Symbols {
		if s = model.NormalizeSymbol(s); s != "" {
			syms = append(syms, s)
		}
	}
	return &Service{
		store:       d.Store,
		coordinator: d.Coordinator,
		predictor:   d.Predictor,
		cache:       d.Cache,
		lister:      d.Lister,
		symbols:     syms,
		gen:         make(map[string]uint64),
	}
}

// WatchList returns the configured symbols.
func (s *Service) WatchList() []string {
	return append([]string(nil), s.symbols...)
}

// Series returns stored bars in [from, to]; zero bounds are open. An unknown
// symbol yields an empty series.
func (s *Service) Series(ctx context.Context, symbol string, from, to time.Time) (model.Series, error) {
	symbol = model.NormalizeSymbol(symbol)
	points, err := s.store.Read(ctx, symbol, from, to)
	if err != nil {
		return model.Series{}, fmt.Errorf("series %s: %w", symbol, err)
	}
	return model.Series{Symbol: symbol, Points: points}, nil
}

// Tail returns the newest n bars.
func (s *Service) Tail(ctx context.Context, symbol string, n int) (model.Series, error) {
	symbol = model.NormalizeSymbol(symbol)
	points, err := s.store.Tail(ctx, symbol, n)
	if err != nil {
		return model.Series{}, fmt.Errorf("tail %s: %w", symbol, err)
	}
	return model.Series{Symbol: symbol, Points: points}, nil
}

// Prediction returns a cached projection when one is live, computing and
// caching it otherwise. Cache failures degrade to a recomputation.
func (s *Service) Prediction(ctx context.Context, symbol string, horizon int) (*model.Prediction, error) {
	symbol = model.NormalizeSymbol(symbol)
	log := logger.WithComponent("forecast").WithField("symbol", symbol)

	if s.cache != nil && horizon >= 0 {
		p, ok, err := s.cache.Get(ctx, symbol, horizon)
		if err != nil {
			log.WithError(err).Warn("prediction cache read failed")
		}
		metrics.RecordCache(ok)
		if ok {
			return p, nil
		}
	}

	gen := s.generation(symbol)
	p, err := s.predictor.Predict(ctx, symbol, horizon)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cacheMu.Lock()
		if s.gen[symbol] == gen {
			if err := s.cache.Put(ctx, p); err != nil {
				log.WithError(err).Warn("prediction cache write failed")
			}
		} else {
			log.Debug("series changed while predicting, result not cached")
		}
		s.cacheMu.Unlock()
	}
	return p, nil
}

func (s *Service) generation(symbol string) uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gen[symbol]
}

// Refresh syncs symbol from the provider and drops its cached predictions
// when the stored series changed.
func (s *Service) Refresh(ctx context.Context, symbol string) (*model.SyncResult, error) {
	res, err := s.coordinator.SyncSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, res)
	return res, nil
}

// RefreshAll refreshes the whole watch list.
func (s *Service) RefreshAll(ctx context.Context) []ingest.Outcome {
	outcomes := s.coordinator.SyncAll(ctx, s.symbols)
	for _, o := range outcomes {
		if o.Err == nil {
			s.invalidate(ctx, o.Result)
		}
	}
	return outcomes
}

func (s *Service) invalidate(ctx context.Context, res *model.SyncResult) {
	if s.cache == nil || res == nil || res.Merged == 0 {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen[res.Symbol]++
	if err := s.cache.Invalidate(ctx, res.Symbol); err != nil {
		logger.WithComponent("forecast").WithField("symbol", res.Symbol).
			WithError(err).Error("prediction cache invalidation failed")
	}
}

// Indicators summarizes the stored series: moving averages, RSI and where the
// last close sits in the trailing year's range.
func (s *Service) Indicators(ctx context.Context, symbol string) (*model.Indicators, error) {
	symbol = model.NormalizeSymbol(symbol)
	bars, err := s.store.Tail(ctx, symbol, calculator.TradingYear)
	if err != nil {
		return nil, fmt.Errorf("indicators %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, &model.InsufficientDataError{Symbol: symbol, Have: 0, Need: 1}
	}

	closes := model.Series{Symbol: symbol, Points: bars}.Closes()
	last := closes[len(closes)-1]
	ind := &model.Indicators{Symbol: symbol, Last: last}

	// a short history leaves the longer averages at zero
	if v, err := calculator.SMA(closes, 20); err == nil {
		ind.SMA20 = v
	}
	if v, err := calculator.SMA(closes, 50); err == nil {
		ind.SMA50 = v
	}
	if v, err := calculator.RSI(closes, 14); err == nil {
		ind.RSI14 = v
	}
	if h, l, err := calculator.HighLow(bars, calculator.TradingYear); err == nil {
		ind.High, ind.Low = h, l
		ind.Position = calculator.Position(last, h, l)
	}
	return ind, nil
}

// Symbols lists the symbols that have stored data.
func (s *Service) Symbols(ctx context.Context) ([]string, error) {
	syms, err := s.store.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	return syms, nil
}

// ProviderSymbols lists what the upstream provider can serve.
func (s *Service) ProviderSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	if s.lister == nil {
		return nil, ErrCatalogueUnsupported
	}
	return s.lister.ListSymbols(ctx)
}

var csvHeader = []string{"date", "open", "high", "low", "close", "volume"}

// ExportCSV writes the stored bars in [from, to] as CSV and returns the
// number of rows written.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, symbol string, from, to time.Time) (int, error) {
	series, err := s.Series(ctx, symbol, from, to)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range series.Points {
		rec := []string{
			formatTime(p.Time),
			formatFloat(p.Open),
			formatFloat(p.High),
			formatFloat(p.Low),
			formatFloat(p.Close),
			strconv.FormatFloat(p.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return series.Len(), nil
}

func formatTime(t time.Time) string {
	if t.Equal(model.DayStart(t)) {
		return t.Format("2006-01-02")
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

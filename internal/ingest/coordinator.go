package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"StockOracle/internal/collector"
	"StockOracle/internal/logger"
	"StockOracle/internal/metrics"
	"StockOracle/internal/model"
	"StockOracle/internal/store"

	"github.com/sirupsen/logrus"
)

// Options controls the sync window and fan-out.
type Options struct {
	Overlap     time.Duration // re-fetch this far behind the newest stored bar
	HistoryDays int           // backfill depth for a symbol with no data
	Workers     int           // parallel symbols in SyncAll
}

// Coordinator fetches bars from the provider and merges them into the store.
// Syncs of one symbol never overlap; different symbols run in parallel.
type Coordinator struct {
	store   store.Store
	fetcher collector.Fetcher
	opts    Options
	locks   *keyLock
	now     func() time.Time
}

// NewCoordinator wires a coordinator. Zero options fall back to a 5 day
// overlap, a year of history and two workers.
func NewCoordinator(s store.Store, f collector.Fetcher, opts Options) *Coordinator {
	if opts.Overlap < 0 {
		opts.Overlap = 0
	} else if opts.Overlap == 0 {
		opts.Overlap = 5 * 24 * time.Hour
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 365
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	return &Coordinator{
		store:   s,
		fetcher: f,
		opts:    opts,
		locks:   newKeyLock(),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock, for tests and replays.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// SyncSymbol brings the stored series of symbol up to date.
//
// The window starts Overlap before the newest stored bar (or HistoryDays ago
// for an empty series) and ends now. Re-fetched bars overwrite stored ones.
// A fetch that returns no bars is a successful sync with Fetched == 0.
func (c *Coordinator) SyncSymbol(ctx context.Context, symbol string) (*model.SyncResult, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, &model.ValidationError{Reason: "empty symbol"}
	}
	log := logger.WithComponent("ingest").WithField("symbol", symbol)

	unlock, err := c.locks.Lock(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("sync %s: wait for lock: %w", symbol, err)
	}
	defer unlock()

	res, err := c.sync(ctx, symbol)
	if err != nil {
		metrics.RecordSync("error", 0, 0, 0)
		log.WithError(err).Warn("sync failed")
		return nil, err
	}

	metrics.RecordSync("ok", res.Inserted, res.Updated, res.Rejected)
	log.WithFields(logrus.Fields{
		"fetched":  res.Fetched,
		"inserted": res.Inserted,
		"updated":  res.Updated,
		"rejected": res.Rejected,
	}).Info("sync done")
	return res, nil
}

func (c *Coordinator) sync(ctx context.Context, symbol string) (*model.SyncResult, error) {
	to := c.now().UTC()
	latest, ok, err := c.store.LatestTimestamp(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("sync %s: latest timestamp: %w", symbol, err)
	}
	from := to.AddDate(0, 0, -c.opts.HistoryDays)
	if ok {
		from = latest.Add(-c.opts.Overlap)
	}

	res := &model.SyncResult{Symbol: symbol, From: from, To: to}

	batch, err := c.fetcher.Fetch(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("sync %s: fetch: %w", symbol, err)
	}
	res.Fetched = len(batch.Points) + batch.Anomalies
	res.Rejected = batch.Anomalies
	if len(batch.Points) == 0 {
		res.Skipped = res.Fetched
		return res, nil
	}

	points, dups := collapseDuplicates(batch.Points)
	res.Duplicates = dups

	up, err := c.store.Upsert(ctx, symbol, points)
	if err != nil {
		return nil, fmt.Errorf("sync %s: upsert: %w", symbol, err)
	}
	res.Inserted = up.Inserted
	res.Updated = up.Updated
	res.Merged = up.Inserted + up.Updated
	res.Rejected += len(up.Rejected)
	res.Skipped = res.Fetched - res.Merged

	for _, r := range up.Rejected {
		logger.WithComponent("ingest").WithField("symbol", symbol).Debugf("rejected: %v", r)
	}
	return res, nil
}

// collapseDuplicates keeps the last bar seen for each timestamp, preserving
// first-seen order.
func collapseDuplicates(points []model.PricePoint) ([]model.PricePoint, int) {
	seen := make(map[int64]int, len(points))
	out := make([]model.PricePoint, 0, len(points))
	for _, p := range points {
		key := p.Time.UTC().Truncate(time.Second).Unix()
		if i, ok := seen[key]; ok {
			out[i] = p
			continue
		}
		seen[key] = len(out)
		out = append(out, p)
	}
	return out, len(points) - len(out)
}

// Outcome is the result of one symbol inside SyncAll.
type Outcome struct {
	Symbol string
	Result *model.SyncResult
	Err    error
}

// SyncAll syncs every symbol with at most Workers in flight. Outcomes come
// back in input order; one failing symbol does not stop the others. Symbols
// that normalize to the same ticker are synced once.
func (c *Coordinator) SyncAll(ctx context.Context, symbols []string) []Outcome {
	var uniq []string
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = model.NormalizeSymbol(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		uniq = append(uniq, s)
	}

	out := make([]Outcome, len(uniq))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < c.opts.Workers && w < len(uniq); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := c.SyncSymbol(ctx, uniq[i])
				out[i] = Outcome{Symbol: uniq[i], Result: res, Err: err}
			}
		}()
	}

	for i := range uniq {
		if ctx.Err() != nil {
			out[i] = Outcome{Symbol: uniq[i], Err: ctx.Err()}
			continue
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// Failed returns the outcomes that carry an error.
func Failed(outcomes []Outcome) []Outcome {
	var bad []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			bad = append(bad, o)
		}
	}
	return bad
}

// IsRetryable reports whether a sync error is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrTransientFetch) || errors.Is(err, model.ErrStorage) ||
		errors.Is(err, context.DeadlineExceeded)
}

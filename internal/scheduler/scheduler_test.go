package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"StockOracle/internal/cache"
	"StockOracle/internal/collector"
	"StockOracle/internal/forecast"
	"StockOracle/internal/ingest"
	"StockOracle/internal/model"
	"StockOracle/internal/predictor"
	"StockOracle/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) SendWithRetry(_ context.Context, text string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

var now = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func uptrend(n int) []model.PricePoint {
	out := make([]model.PricePoint, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = model.PricePoint{Time: now.AddDate(0, 0, i-n+1), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return out
}

func newTestScheduler(t *testing.T, f collector.Fetcher, watch ...string) (*Scheduler, *recordingNotifier) {
	t.Helper()
	s := store.NewMemoryStore()
	coord := ingest.NewCoordinator(s, f, ingest.Options{Overlap: 24 * time.Hour, HistoryDays: 30, Workers: 2})
	coord.SetClock(func() time.Time { return now })
	svc := forecast.NewService(forecast.Deps{
		Store:       s,
		Coordinator: coord,
		Predictor:   predictor.New(s, 90, 2),
		Cache:       cache.NewMemoryCache(16, time.Minute),
		Symbols:     watch,
	})
	n := &recordingNotifier{}
	return NewScheduler(context.Background(), svc, n, 1), n
}

func TestHandleCommand_RefreshPredictSeries(t *testing.T) {
	sched, _ := newTestScheduler(t, &collector.MockFetcher{Points: uptrend(5)})
	ctx := context.Background()

	reply := sched.HandleCommand(ctx, "/predict AAPL")
	assert.Contains(t, reply, "Not enough history for AAPL")

	reply = sched.HandleCommand(ctx, "/refresh aapl")
	assert.Contains(t, reply, "AAPL</b> refreshed: 5 fetched, 5 new")

	reply = sched.HandleCommand(ctx, "/predict@OracleBot AAPL 2")
	assert.Contains(t, reply, "in 2 day(s)")
	assert.Contains(t, reply, "Projected close: 106.00")

	reply = sched.HandleCommand(ctx, "/series AAPL 2")
	assert.Contains(t, reply, "last 2 bars")
	assert.Contains(t, reply, now.Format("2006-01-02"))

	reply = sched.HandleCommand(ctx, "/stats AAPL")
	assert.Contains(t, reply, "Last close: 104.00")

	reply = sched.HandleCommand(ctx, "/symbols")
	assert.Contains(t, reply, "AAPL")
}

func TestHandleCommand_BadInput(t *testing.T) {
	sched, _ := newTestScheduler(t, &collector.MockFetcher{Points: uptrend(5)})
	ctx := context.Background()

	assert.Contains(t, sched.HandleCommand(ctx, "/predict"), "Usage")
	assert.Contains(t, sched.HandleCommand(ctx, "/predict AAPL soon"), "Usage")
	assert.Contains(t, sched.HandleCommand(ctx, "/series AAPL -3"), "Usage")
	assert.Contains(t, sched.HandleCommand(ctx, "/predict AAPL -1"), "Horizon")
	assert.Contains(t, sched.HandleCommand(ctx, "hello"), "Available commands")
	assert.Contains(t, sched.HandleCommand(ctx, ""), "Available commands")
}

func TestHandleCommand_ProviderErrors(t *testing.T) {
	sched, _ := newTestScheduler(t, &collector.MockFetcher{Err: &model.FetchError{Provider: "mock", Permanent: true}})
	assert.Contains(t, sched.HandleCommand(context.Background(), "/refresh NOPE"), "Invalid symbol")

	sched, _ = newTestScheduler(t, &collector.MockFetcher{Err: &model.FetchError{Provider: "mock"}})
	assert.Contains(t, sched.HandleCommand(context.Background(), "/refresh AAPL"), "temporarily unavailable")
}

func TestRefreshTask_ReportsOnlyFailures(t *testing.T) {
	sched, n := newTestScheduler(t, &collector.MockFetcher{Points: uptrend(3)}, "AAPL", "MSFT")
	sched.RunRefreshNow()
	assert.Empty(t, n.messages())

	bad, n := newTestScheduler(t, &collector.MockFetcher{Err: &model.FetchError{Provider: "mock"}}, "AAPL")
	bad.RunRefreshNow()
	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "0/1 ok")
}

func TestReportTask(t *testing.T) {
	sched, n := newTestScheduler(t, &collector.MockFetcher{Points: uptrend(4)}, "AAPL", "MSFT")
	sched.RunRefreshNow()
	sched.reportTask()

	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "StockOracle report")
	assert.Equal(t, 2, strings.Count(msgs[0], "Projected close"))
}

func TestRegisterAll(t *testing.T) {
	sched, _ := newTestScheduler(t, &collector.MockFetcher{})
	require.NoError(t, sched.RegisterAll("0 30 22 * * 1-5", ""))
	assert.Len(t, sched.Cron.Entries(), 1)
	require.NoError(t, sched.RegisterAll("0 30 22 * * 1-5", "0 0 23 * * 1-5"))
	assert.Len(t, sched.Cron.Entries(), 3)

	assert.Error(t, sched.RegisterAll("not a cron", ""))
}

func TestNilNotifierDropsReports(t *testing.T) {
	sched, _ := newTestScheduler(t, &collector.MockFetcher{Err: &model.FetchError{Provider: "mock"}}, "AAPL")
	sched.Notifier = nil
	assert.NotPanics(t, sched.RunRefreshNow)
}

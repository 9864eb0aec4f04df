package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"StockOracle/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tdBody = `{
  "meta": {"symbol": "AAPL", "interval": "1day"},
  "values": [
    {"datetime": "2024-01-02", "open": "187.15", "high": "188.44", "low": "183.89", "close": "185.64", "volume": "82488700"},
    {"datetime": "2024-01-03", "open": "184.22", "high": "185.88", "low": "183.43", "close": "184.25", "volume": "58414500"},
    {"datetime": "2024-01-04", "open": "182.15", "high": "oops",   "low": "180.88", "close": "181.91", "volume": "71983600"},
    {"datetime": "2024-01-05", "open": "181.99", "high": "182.76", "low": "180.17", "close": "181.18", "volume": "62303300"}
  ],
  "status": "ok"
}`

func fastOpts(url string) Options {
	return Options{
		BaseURL:         url,
		SymbolsURL:      url + "/stocks",
		APIKey:          "demo",
		Interval:        "1day",
		Timeout:         2 * time.Second,
		MaxAttempts:     3,
		BackoffBase:     time.Millisecond,
		BackoffMax:      5 * time.Millisecond,
		BreakerFailures: 100,
		BreakerCooldown: time.Minute,
	}
}

// serve answers with the responses in order, repeating the last one.
func serve(t *testing.T, responses ...func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		responses[n](w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func reply(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestTwelveData_ParsesRowsAndDropsMalformed(t *testing.T) {
	var query atomic.Value
	srv, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query())
		_, _ = w.Write([]byte(tdBody))
	})

	f := NewTwelveDataFetcher(fastOpts(srv.URL))
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	batch, err := f.Fetch(context.Background(), "AAPL", from, to)
	require.NoError(t, err)

	assert.Equal(t, "twelvedata", batch.Source)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, 1, batch.Anomalies)
	require.Len(t, batch.Points, 3)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), batch.Points[0].Time)
	assert.Equal(t, 185.64, batch.Points[0].Close)
	assert.Equal(t, 82488700.0, batch.Points[0].Volume)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), batch.Points[2].Time)

	q := query.Load().(url.Values)
	assert.Equal(t, []string{"AAPL"}, q["symbol"])
	assert.Equal(t, []string{"2024-01-01"}, q["start_date"])
	assert.Equal(t, []string{"2024-01-31"}, q["end_date"])
	assert.Equal(t, []string{"ASC"}, q["order"])
}

func TestTwelveData_FiltersToWindow(t *testing.T) {
	srv, _ := serve(t, reply(http.StatusOK, tdBody))
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	from := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	batch, err := f.Fetch(context.Background(), "AAPL", from, from)
	require.NoError(t, err)
	require.Len(t, batch.Points, 1)
	assert.Equal(t, from, batch.Points[0].Time)
}

func TestTwelveData_RetriesServerErrorThenSucceeds(t *testing.T) {
	srv, hits := serve(t,
		reply(http.StatusInternalServerError, "boom"),
		reply(http.StatusOK, tdBody),
	)
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	batch, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, batch.Points, 3)
	assert.EqualValues(t, 2, hits.Load())
}

func TestTwelveData_ProviderRateLimitIsTransient(t *testing.T) {
	srv, hits := serve(t,
		reply(http.StatusOK, `{"code":429,"message":"You have run out of API credits","status":"error"}`),
		reply(http.StatusOK, tdBody),
	)
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	_, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestTwelveData_NotFoundIsPermanentWithoutRetry(t *testing.T) {
	srv, hits := serve(t, reply(http.StatusNotFound, `{"status":"error"}`))
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	_, err := f.Fetch(context.Background(), "NOPE", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPermanentFetch)
	assert.NotErrorIs(t, err, model.ErrTransientFetch)
	assert.EqualValues(t, 1, hits.Load())

	var fe *model.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, "NOPE", fe.Symbol)
}

func TestTwelveData_UnknownSymbolInBodyIsPermanent(t *testing.T) {
	srv, hits := serve(t, reply(http.StatusOK,
		`{"code":400,"message":"**symbol** not found: NOPE. Please specify it correctly","status":"error"}`))
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	_, err := f.Fetch(context.Background(), "NOPE", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, model.ErrPermanentFetch)
	assert.EqualValues(t, 1, hits.Load())
}

func TestTwelveData_BudgetExhaustedIsTransient(t *testing.T) {
	srv, hits := serve(t, reply(http.StatusServiceUnavailable, "down"))
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	_, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransientFetch)
	assert.EqualValues(t, 3, hits.Load())
}

func TestTwelveData_UnparseableBodyIsPermanent(t *testing.T) {
	srv, hits := serve(t, reply(http.StatusOK, `<html>maintenance</html>`))
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	_, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, model.ErrPermanentFetch)
	assert.EqualValues(t, 1, hits.Load())
}

func TestTwelveData_AllRowsBadIsPermanent(t *testing.T) {
	srv, _ := serve(t, reply(http.StatusOK,
		`{"values":[{"datetime":"2024-01-02","open":"x"},{"close":"1"}],"status":"ok"}`))
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	_, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, model.ErrPermanentFetch)
}

func TestTwelveData_NoDataIsEmptyBatch(t *testing.T) {
	srv, _ := serve(t, reply(http.StatusOK,
		`{"code":400,"message":"No data is available on the specified dates. Try setting different start/end dates.","status":"error"}`))
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	batch, err := f.Fetch(context.Background(), "AAPL", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, batch.Points)
	assert.Zero(t, batch.Anomalies)
}

func TestTwelveData_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv, hits := serve(t, reply(http.StatusBadGateway, "bad gateway"))
	opts := fastOpts(srv.URL)
	opts.MaxAttempts = 1
	opts.BreakerFailures = 2
	f := NewTwelveDataFetcher(opts)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
		require.ErrorIs(t, err, model.ErrTransientFetch)
	}
	_, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, model.ErrTransientFetch)
	assert.EqualValues(t, 2, hits.Load(), "open breaker must not reach upstream")
}

func TestTwelveData_PermanentFailuresDoNotTripBreaker(t *testing.T) {
	srv, hits := serve(t, reply(http.StatusUnauthorized, `{"status":"error"}`))
	opts := fastOpts(srv.URL)
	opts.BreakerFailures = 1
	f := NewTwelveDataFetcher(opts)

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
		require.ErrorIs(t, err, model.ErrPermanentFetch)
	}
	assert.EqualValues(t, 3, hits.Load())
}

func TestTwelveData_CancelledDuringBackoff(t *testing.T) {
	srv, _ := serve(t, reply(http.StatusInternalServerError, "boom"))
	opts := fastOpts(srv.URL)
	opts.BackoffBase = time.Minute
	opts.BackoffMax = time.Minute
	f := NewTwelveDataFetcher(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, "AAPL", time.Time{}, time.Time{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTwelveData_MinIntervalSpacesCalls(t *testing.T) {
	srv, _ := serve(t, reply(http.StatusOK, tdBody))
	opts := fastOpts(srv.URL)
	opts.MinInterval = 100 * time.Millisecond
	f := NewTwelveDataFetcher(opts)
	assert.Equal(t, 100*time.Millisecond, f.MinInterval())

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), "AAPL", time.Time{}, time.Time{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestTwelveData_ListSymbols(t *testing.T) {
	srv, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stocks", r.URL.Path)
		assert.Equal(t, "demo", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(`{"data":[
			{"symbol":"AAPL","name":"Apple Inc","exchange":"NASDAQ"},
			{"symbol":"","name":"blank"},
			{"symbol":"MSFT","name":"Microsoft Corp","exchange":"NASDAQ"}
		],"status":"ok"}`))
	})
	f := NewTwelveDataFetcher(fastOpts(srv.URL))

	syms, err := f.ListSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, model.SymbolInfo{Symbol: "AAPL", Name: "Apple Inc", Exchange: "NASDAQ"}, syms[0])
	assert.Equal(t, "MSFT", syms[1].Symbol)
}

const yahooBody = `{"chart":{"result":[{
  "meta":{"symbol":"^GSPC"},
  "timestamp":[1704292200,1704205800,1704378600],
  "indicators":{"quote":[{
    "open":[4725.07,4745.2,null],
    "high":[4729.29,4754.33,null],
    "low":[4699.71,4722.67,null],
    "close":[4704.81,4742.83,null],
    "volume":[3950760000,3743050000,null]
  }]}
}],"error":null}}`

func TestYahoo_ParsesNullableArrays(t *testing.T) {
	var path atomic.Value
	srv, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		_, _ = w.Write([]byte(yahooBody))
	})
	f := NewYahooFetcher(fastOpts(srv.URL))

	batch, err := f.Fetch(context.Background(), "SPX500", time.Time{}, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "/^GSPC", path.Load())
	assert.Equal(t, 1, batch.Anomalies)
	require.Len(t, batch.Points, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), batch.Points[0].Time)
	assert.Equal(t, 4742.83, batch.Points[0].Close)
	assert.Equal(t, "SPX500", batch.Points[0].Symbol)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), batch.Points[1].Time)
}

func TestYahoo_ChartErrorIsPermanent(t *testing.T) {
	srv, hits := serve(t, reply(http.StatusOK,
		`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	f := NewYahooFetcher(fastOpts(srv.URL))

	_, err := f.Fetch(context.Background(), "NOPE", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, model.ErrPermanentFetch)
	assert.EqualValues(t, 1, hits.Load())
}

func TestYahooInterval(t *testing.T) {
	assert.Equal(t, "1d", yahooInterval("1day"))
	assert.Equal(t, "1wk", yahooInterval("1week"))
	assert.Equal(t, "1mo", yahooInterval("1month"))
	assert.Equal(t, "60m", yahooInterval("1h"))
	assert.Equal(t, "1d", yahooInterval(""))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: time.Second, Max: 5 * time.Second}
	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestMockFetcher(t *testing.T) {
	m := &MockFetcher{Price: 50}
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	batch, err := m.Fetch(context.Background(), "AAPL", from, from.AddDate(0, 0, 4))
	require.NoError(t, err)
	assert.Len(t, batch.Points, 5)
	assert.Equal(t, 1, m.Calls())
	for _, p := range batch.Points {
		assert.NoError(t, p.Validate())
	}

	m.Err = &model.FetchError{Provider: "mock", Permanent: true}
	_, err = m.Fetch(context.Background(), "AAPL", from, from)
	assert.ErrorIs(t, err, model.ErrPermanentFetch)
}

package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"StockOracle/internal/logger"
	"StockOracle/internal/metrics"
	"StockOracle/internal/model"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// YahooFetcher implements Fetcher using the Yahoo Finance chart API.
type YahooFetcher struct {
	baseURL   string
	interval  string
	http      *httpGetter
	now       func() time.Time
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(opts Options) *YahooFetcher {
	base := opts.BaseURL
	if base == "" {
		base = "https://query1.finance.yahoo.com/v8/finance/chart"
	}
	return &YahooFetcher{
		baseURL:  strings.TrimRight(base, "/"),
		interval: yahooInterval(opts.Interval),
		http:     newHTTPGetter("yahoo", opts),
		now:      time.Now,
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

func (f *YahooFetcher) MinInterval() time.Duration { return f.http.MinInterval() }

func (f *YahooFetcher) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooInterval accepts either TwelveData-style or Yahoo-style names.
func yahooInterval(interval string) string {
	switch interval {
	case "", "1day":
		return "1d"
	case "1week":
		return "1wk"
	case "1month":
		return "1mo"
	case "1h":
		return "60m"
	case "5min":
		return "5m"
	}
	return interval
}

func (f *YahooFetcher) Fetch(ctx context.Context, symbol string, from, to time.Time) (*model.FetchBatch, error) {
	if to.IsZero() {
		to = f.now()
	}
	period1 := int64(0)
	if !from.IsZero() {
		period1 = from.Unix()
	}
	q := url.Values{}
	q.Set("interval", f.interval)
	q.Set("period1", strconv.FormatInt(period1, 10))
	// period2 is exclusive upstream
	q.Set("period2", strconv.FormatInt(to.Add(time.Second).Unix(), 10))
	u := fmt.Sprintf("%s/%s?%s", f.baseURL, url.PathEscape(f.yahooSymbol(symbol)), q.Encode())

	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0")

	body, err := f.http.get(ctx, symbol, u, header, f.checkChart)
	if err != nil {
		return nil, err
	}

	points, anomalies, err := f.parse(symbol, body)
	if err != nil {
		return nil, err
	}
	if anomalies > 0 {
		logger.WithComponent("collector").WithField("symbol", symbol).
			Warnf("yahoo: dropped %d incomplete bars", anomalies)
		metrics.RecordAnomalies(f.Name(), anomalies)
	}

	return &model.FetchBatch{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Source:    f.Name(),
		Interval:  f.interval,
		FetchedAt: f.now().UTC(),
		Points:    filterWindow(points, from, to),
		Anomalies: anomalies,
	}, nil
}

func (f *YahooFetcher) checkChart(symbol string, body []byte) error {
	if !gjson.ValidBytes(body) {
		return &model.FetchError{Provider: f.Name(), Symbol: symbol, Permanent: true, Err: fmt.Errorf("response is not valid JSON")}
	}
	chartErr := gjson.GetBytes(body, "chart.error")
	if chartErr.Exists() && chartErr.Type != gjson.Null {
		return &model.FetchError{
			Provider:  f.Name(),
			Symbol:    symbol,
			Permanent: true,
			Err:       fmt.Errorf("yahoo api error: %s", chartErr.Get("description").String()),
		}
	}
	return nil
}

// parse reads the parallel timestamp/quote arrays. Null entries are what
// Yahoo emits for halted sessions; such bars are skipped and counted, so a
// window of nothing but halted sessions is an empty batch.
func (f *YahooFetcher) parse(symbol string, body []byte) ([]model.PricePoint, int, error) {
	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return nil, 0, &model.FetchError{Provider: f.Name(), Symbol: symbol, Permanent: true, Err: fmt.Errorf("yahoo: no chart result")}
	}
	stamps := result.Get("timestamp").Array()
	if len(stamps) == 0 {
		return []model.PricePoint{}, 0, nil
	}

	quote := result.Get("indicators.quote.0")
	cols := map[string][]gjson.Result{}
	for _, name := range []string{"open", "high", "low", "close", "volume"} {
		cols[name] = quote.Get(name).Array()
	}

	daily := isDailyOrLonger(f.interval)
	points := make([]model.PricePoint, 0, len(stamps))
	anomalies := 0
	for i, ts := range stamps {
		vals, ok := yahooRow(cols, i)
		if !ok || ts.Type != gjson.Number {
			anomalies++
			continue
		}
		t := time.Unix(ts.Int(), 0).UTC()
		if daily {
			t = model.DayStart(t)
		}
		points = append(points, model.PricePoint{
			Symbol: symbol,
			Time:   t,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	sortPoints(points)
	return points, anomalies, nil
}

func yahooRow(cols map[string][]gjson.Result, i int) ([5]float64, bool) {
	var out [5]float64
	for j, name := range []string{"open", "high", "low", "close", "volume"} {
		col := cols[name]
		if i >= len(col) {
			if name == "volume" {
				continue
			}
			return out, false
		}
		if col[i].Type != gjson.Number {
			if name == "volume" && col[i].Type == gjson.Null {
				continue
			}
			return out, false
		}
		out[j] = col[i].Num
	}
	return out, true
}

package collector

import (
	"context"
	"fmt"
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

const (
	twelveDataMaxOutput = 5000
	twelveDataNoData    = "no data is available"
)

// TwelveDataFetcher implements Fetcher against the TwelveData time_series API.
type TwelveDataFetcher struct {
	baseURL    string
	symbolsURL string
	apiKey     string
	interval   string
	http       *httpGetter
	now        func() time.Time
}

// NewTwelveDataFetcher builds the default provider.
func NewTwelveDataFetcher(opts Options) *TwelveDataFetcher {
	interval := opts.Interval
	if interval == "" {
		interval = "1day"
	}
	return &TwelveDataFetcher{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		symbolsURL: opts.SymbolsURL,
		apiKey:     opts.APIKey,
		interval:   interval,
		http:       newHTTPGetter("twelvedata", opts),
		now:        time.Now,
	}
}

func (f *TwelveDataFetcher) Name() string { return "twelvedata" }

// MinInterval is the gap enforced between two upstream calls.
func (f *TwelveDataFetcher) MinInterval() time.Duration { return f.http.MinInterval() }

func (f *TwelveDataFetcher) Fetch(ctx context.Context, symbol string, from, to time.Time) (*model.FetchBatch, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", f.interval)
	q.Set("apikey", f.apiKey)
	q.Set("outputsize", strconv.Itoa(twelveDataMaxOutput))
	q.Set("order", "ASC")
	q.Set("timezone", "UTC")
	if !from.IsZero() {
		q.Set("start_date", f.formatDate(from))
	}
	if !to.IsZero() {
		q.Set("end_date", f.formatDate(to))
	}

	body, err := f.http.get(ctx, symbol, f.baseURL+"?"+q.Encode(), nil, f.checkStatus)
	if err != nil {
		return nil, err
	}

	points, anomalies, err := f.parse(symbol, body)
	if err != nil {
		return nil, err
	}
	if anomalies > 0 {
		logger.WithComponent("collector").WithField("symbol", symbol).
			Warnf("twelvedata: dropped %d malformed rows", anomalies)
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

// ListSymbols returns the provider's stock catalogue.
func (f *TwelveDataFetcher) ListSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	if f.symbolsURL == "" {
		return nil, &model.FetchError{Provider: f.Name(), Permanent: true, Err: fmt.Errorf("symbols url not configured")}
	}
	sep := "?"
	if strings.Contains(f.symbolsURL, "?") {
		sep = "&"
	}
	body, err := f.http.get(ctx, "", f.symbolsURL+sep+"apikey="+url.QueryEscape(f.apiKey), nil, f.checkStatus)
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, &model.FetchError{Provider: f.Name(), Permanent: true, Err: fmt.Errorf("symbols response has no data array")}
	}
	out := make([]model.SymbolInfo, 0, len(data.Array()))
	data.ForEach(func(_, row gjson.Result) bool {
		sym := strings.TrimSpace(row.Get("symbol").String())
		if sym != "" {
			out = append(out, model.SymbolInfo{
				Symbol:   sym,
				Name:     row.Get("name").String(),
				Exchange: row.Get("exchange").String(),
			})
		}
		return true
	})
	return out, nil
}

func (f *TwelveDataFetcher) formatDate(t time.Time) string {
	if isDailyOrLonger(f.interval) {
		return t.UTC().Format("2006-01-02")
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// checkStatus maps an in-body error (TwelveData answers many errors with
// HTTP 200) onto the fetch error taxonomy. "No data" is not an error.
func (f *TwelveDataFetcher) checkStatus(symbol string, body []byte) error {
	if !gjson.ValidBytes(body) {
		return &model.FetchError{Provider: f.Name(), Symbol: symbol, Permanent: true, Err: fmt.Errorf("response is not valid JSON")}
	}
	if gjson.GetBytes(body, "status").String() != "error" {
		return nil
	}
	code := int(gjson.GetBytes(body, "code").Int())
	msg := gjson.GetBytes(body, "message").String()
	if strings.Contains(strings.ToLower(msg), twelveDataNoData) {
		return nil
	}
	return &model.FetchError{
		Provider:   f.Name(),
		Symbol:     symbol,
		StatusCode: code,
		Permanent:  code != 429 && code < 500,
		Err:        fmt.Errorf("provider error: %s", msg),
	}
}

// parse turns a time_series body into points. Rows missing a field or
// carrying a non-numeric price are dropped and counted; a body with rows but
// none usable is a permanent failure.
func (f *TwelveDataFetcher) parse(symbol string, body []byte) ([]model.PricePoint, int, error) {
	root := gjson.ParseBytes(body)
	if root.Get("status").String() == "error" {
		// only the "no data" case survives checkStatus
		return []model.PricePoint{}, 0, nil
	}

	values := root.Get("values")
	if !values.Exists() {
		return []model.PricePoint{}, 0, nil
	}
	if !values.IsArray() {
		return nil, 0, &model.FetchError{Provider: f.Name(), Symbol: symbol, Permanent: true, Err: fmt.Errorf("values is not an array")}
	}

	rows := values.Array()
	points := make([]model.PricePoint, 0, len(rows))
	anomalies := 0
	for i, row := range rows {
		p, err := f.parseRow(symbol, row)
		if err != nil {
			anomalies++
			logger.WithComponent("collector").WithField("symbol", symbol).
				Debugf("twelvedata: row %d: %v", i, err)
			continue
		}
		points = append(points, p)
	}
	if len(rows) > 0 && len(points) == 0 {
		return nil, anomalies, &model.FetchError{Provider: f.Name(), Symbol: symbol, Permanent: true,
			Err: fmt.Errorf("none of %d rows could be parsed", len(rows))}
	}

	sortPoints(points)
	return points, anomalies, nil
}

func (f *TwelveDataFetcher) parseRow(symbol string, row gjson.Result) (model.PricePoint, error) {
	ts, err := parseTwelveDataTime(row.Get("datetime").String())
	if err != nil {
		return model.PricePoint{}, err
	}
	if isDailyOrLonger(f.interval) {
		ts = model.DayStart(ts)
	}

	p := model.PricePoint{Symbol: symbol, Time: ts}
	fields := []struct {
		name     string
		dst      *float64
		optional bool
	}{
		{"open", &p.Open, false},
		{"high", &p.High, false},
		{"low", &p.Low, false},
		{"close", &p.Close, false},
		{"volume", &p.Volume, true}, // absent for indices and FX
	}
	for _, fl := range fields {
		v, err := numberField(row, fl.name)
		if err != nil {
			if fl.optional && !row.Get(fl.name).Exists() {
				continue
			}
			return model.PricePoint{}, err
		}
		*fl.dst = v
	}
	return p, nil
}

func parseTwelveDataTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing datetime")
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad datetime %q", s)
}

// numberField reads a field that may be encoded as a JSON number or a string.
func numberField(row gjson.Result, name string) (float64, error) {
	v := row.Get(name)
	switch v.Type {
	case gjson.Number:
		return v.Num, nil
	case gjson.String:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: not a number: %q", name, v.Str)
		}
		return n, nil
	case gjson.Null:
		return 0, fmt.Errorf("%s: missing", name)
	default:
		return 0, fmt.Errorf("%s: unexpected %s", name, v.Type)
	}
}

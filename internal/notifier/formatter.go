package notifier

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"StockOracle/internal/ingest"
	"StockOracle/internal/model"
)

// FormatPrediction renders a trend projection.
func FormatPrediction(p *model.Prediction) string {
	var b strings.Builder
	trend := "📈"
	if p.Slope < 0 {
		trend = "📉"
	} else if p.Slope == 0 {
		trend = "➖"
	}
	b.WriteString(fmt.Sprintf("%s <b>%s</b> in %d day(s)\n\n", trend, p.Symbol, p.HorizonDays))
	b.WriteString(fmt.Sprintf("Projected close: %.2f\n", p.ProjectedPrice))
	b.WriteString(fmt.Sprintf("Trend: %+.4f / bar (intercept %.2f)\n", p.Slope, p.Intercept))
	b.WriteString(fmt.Sprintf("Fit: R² %.3f | RMSE %.2f | MAE %.2f\n", p.RSquared, p.RMSE, p.MAE))
	b.WriteString(fmt.Sprintf("Sample: %d bars, %s → %s\n", p.SampleSize, p.From.Format("2006-01-02"), p.To.Format("2006-01-02")))
	return b.String()
}

// FormatSeries renders the newest bars, oldest first.
func FormatSeries(s model.Series) string {
	if s.Len() == 0 {
		return fmt.Sprintf("No stored data for <b>%s</b> yet. Try /refresh %s", html.EscapeString(s.Symbol), html.EscapeString(s.Symbol))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🗂 <b>%s</b> last %d bars\n\n<pre>", s.Symbol, s.Len()))
	b.WriteString(fmt.Sprintf("%-10s %10s %10s %12s\n", "date", "close", "range", "volume"))
	for _, p := range s.Points {
		b.WriteString(fmt.Sprintf("%-10s %10.2f %10.2f %12.0f\n",
			p.Time.Format("2006-01-02"), p.Close, p.High-p.Low, p.Volume))
	}
	b.WriteString("</pre>")
	return b.String()
}

// FormatIndicators renders the descriptive statistics of a series.
func FormatIndicators(ind *model.Indicators) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>%s</b> | %s\n\n", ind.Symbol, time.Now().Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("Last close: %.2f\n", ind.Last))
	if ind.SMA20 > 0 {
		b.WriteString(fmt.Sprintf("SMA20: %.2f (%+.1f%%)\n", ind.SMA20, deviation(ind.Last, ind.SMA20)))
	}
	if ind.SMA50 > 0 {
		b.WriteString(fmt.Sprintf("SMA50: %.2f (%+.1f%%)\n", ind.SMA50, deviation(ind.Last, ind.SMA50)))
	}
	b.WriteString(fmt.Sprintf("RSI14: %.0f\n", ind.RSI14))
	b.WriteString(fmt.Sprintf("Range: %.2f - %.2f (position %.0f%%)\n", ind.Low, ind.High, ind.Position*100))
	return b.String()
}

func deviation(v, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return (v - ref) / ref * 100
}

// FormatSyncResult renders one refresh.
func FormatSyncResult(r *model.SyncResult) string {
	if r.Fetched == 0 {
		return fmt.Sprintf("✅ <b>%s</b> is up to date, provider had no new bars", r.Symbol)
	}
	unchanged := r.Skipped - r.Rejected - r.Duplicates
	return fmt.Sprintf("✅ <b>%s</b> refreshed: %d fetched, %d new, %d revised, %d unchanged, %d rejected",
		r.Symbol, r.Fetched, r.Inserted, r.Updated, unchanged, r.Rejected)
}

// FormatSyncReport renders a scheduled watch-list refresh.
func FormatSyncReport(outcomes []ingest.Outcome) string {
	var b strings.Builder
	failed := ingest.Failed(outcomes)
	b.WriteString(fmt.Sprintf("🔄 <b>Refresh</b> | %s | %d/%d ok\n\n",
		time.Now().Format("2006-01-02 15:04"), len(outcomes)-len(failed), len(outcomes)))
	for _, o := range outcomes {
		if o.Err != nil {
			b.WriteString(fmt.Sprintf("❌ %s: %s\n", o.Symbol, FormatError(o.Err)))
			continue
		}
		b.WriteString(fmt.Sprintf("• %s: +%d new, %d revised\n", o.Symbol, o.Result.Inserted, o.Result.Updated))
	}
	return b.String()
}

// FormatSymbols renders the stored symbol list.
func FormatSymbols(symbols []string) string {
	if len(symbols) == 0 {
		return "No symbols stored yet. Try /refresh AAPL"
	}
	return fmt.Sprintf("📚 <b>%d symbols</b>\n%s", len(symbols), strings.Join(symbols, ", "))
}

// FormatError maps pipeline errors onto what a user should read: transient
// failures ask for a retry, permanent ones point at the symbol, and a short
// series is an empty state rather than a failure.
func FormatError(err error) string {
	var ide *model.InsufficientDataError
	switch {
	case errors.As(err, &ide):
		return fmt.Sprintf("Not enough history for %s yet (%d of %d bars). Try /refresh %s",
			html.EscapeString(ide.Symbol), ide.Have, ide.Need, html.EscapeString(ide.Symbol))
	case errors.Is(err, model.ErrInsufficientData):
		return "Not enough history yet."
	case errors.Is(err, model.ErrTransientFetch):
		return "Data provider temporarily unavailable, retry later."
	case errors.Is(err, model.ErrPermanentFetch):
		return "Invalid symbol or request rejected by the data provider."
	case errors.Is(err, model.ErrInvalidHorizon):
		return "Horizon must be zero or a positive number of days."
	case errors.Is(err, model.ErrStorage):
		return "Local storage error, the data was not changed."
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return "Invalid input: " + html.EscapeString(ve.Reason)
	}
	return "Unexpected error: " + html.EscapeString(err.Error())
}

// HelpText lists the chat commands.
func HelpText() string {
	return "Available commands:\n" +
		"• /refresh SYMBOL\n" +
		"• /predict SYMBOL [days]\n" +
		"• /series SYMBOL [bars]\n" +
		"• /stats SYMBOL\n" +
		"• /report\n" +
		"• /symbols"
}

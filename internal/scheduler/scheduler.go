package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"StockOracle/internal/ingest"
	"StockOracle/internal/logger"
	"StockOracle/internal/model"
	"StockOracle/internal/notifier"

	"github.com/robfig/cron/v3"
)

// Oracle is the query facade the scheduler and chat commands drive.
type Oracle interface {
	Refresh(ctx context.Context, symbol string) (*model.SyncResult, error)
	RefreshAll(ctx context.Context) []ingest.Outcome
	Prediction(ctx context.Context, symbol string, horizon int) (*model.Prediction, error)
	Tail(ctx context.Context, symbol string, n int) (model.Series, error)
	Indicators(ctx context.Context, symbol string) (*model.Indicators, error)
	Symbols(ctx context.Context) ([]string, error)
	WatchList() []string
}

// Notifier delivers reports to the chat.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

const (
	defaultSeriesBars = 10
	maxSeriesBars     = 60
	// per-task budget so a hung upstream cannot pile up cron runs
	taskTimeout = 10 * time.Minute
)

// Scheduler manages the cron tasks and answers chat commands.
type Scheduler struct {
	Cron           *cron.Cron
	Oracle         Oracle
	Notifier       Notifier // nil disables outbound reports
	Ctx            context.Context
	DefaultHorizon int
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, o Oracle, n Notifier, defaultHorizon int) *Scheduler {
	if defaultHorizon < 0 {
		defaultHorizon = 1
	}
	return &Scheduler{
		Cron:           cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		Oracle:         o,
		Notifier:       n,
		Ctx:            ctx,
		DefaultHorizon: defaultHorizon,
	}
}

// RegisterAll registers the watch-list refresh and the prediction report.
// An empty report schedule disables the report.
func (s *Scheduler) RegisterAll(refreshCron, reportCron string) error {
	if _, err := s.Cron.AddFunc(refreshCron, s.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	if reportCron == "" {
		return nil
	}
	if _, err := s.Cron.AddFunc(reportCron, s.reportTask); err != nil {
		return fmt.Errorf("register report task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	logger.WithComponent("scheduler").Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running tasks.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	logger.WithComponent("scheduler").Info("scheduler stopped")
}

// RunRefreshNow executes the refresh task immediately (for RUN_ON_START).
func (s *Scheduler) RunRefreshNow() {
	s.refreshTask()
}

func (s *Scheduler) refreshTask() {
	log := logger.WithComponent("scheduler")
	log.Info("running watch-list refresh")

	ctx, cancel := context.WithTimeout(s.Ctx, taskTimeout)
	defer cancel()

	outcomes := s.Oracle.RefreshAll(ctx)
	failed := ingest.Failed(outcomes)
	for _, o := range failed {
		log.WithField("symbol", o.Symbol).WithField("retryable", ingest.IsRetryable(o.Err)).
			Errorf("refresh failed: %v", o.Err)
	}
	log.Infof("refresh done: %d ok, %d failed", len(outcomes)-len(failed), len(failed))

	if len(failed) > 0 {
		s.trySend(notifier.FormatSyncReport(outcomes))
	}
}

func (s *Scheduler) reportTask() {
	logger.WithComponent("scheduler").Info("running prediction report")
	ctx, cancel := context.WithTimeout(s.Ctx, taskTimeout)
	defer cancel()
	s.trySend(s.buildReport(ctx))
}

func (s *Scheduler) buildReport(ctx context.Context) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔮 <b>StockOracle report</b> | %s\n", time.Now().Format("2006-01-02")))
	for _, sym := range s.Oracle.WatchList() {
		b.WriteString("\n")
		p, err := s.Oracle.Prediction(ctx, sym, s.DefaultHorizon)
		if err != nil {
			b.WriteString(fmt.Sprintf("<b>%s</b>: %s\n", sym, notifier.FormatError(err)))
			continue
		}
		b.WriteString(notifier.FormatPrediction(p))
	}
	return b.String()
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.HelpText()
	}
	// "/predict@SomeBot" in group chats
	name := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	args := fields[1:]

	needSymbol := func() (string, bool) {
		if len(args) == 0 {
			return "", false
		}
		return model.NormalizeSymbol(args[0]), true
	}

	switch name {
	case "/refresh":
		sym, ok := needSymbol()
		if !ok {
			return "Usage: /refresh SYMBOL"
		}
		res, err := s.Oracle.Refresh(ctx, sym)
		if err != nil {
			return notifier.FormatError(err)
		}
		return notifier.FormatSyncResult(res)

	case "/predict":
		sym, ok := needSymbol()
		if !ok {
			return "Usage: /predict SYMBOL [days]"
		}
		horizon := s.DefaultHorizon
		if len(args) > 1 {
			h, err := strconv.Atoi(args[1])
			if err != nil {
				return "Usage: /predict SYMBOL [days]"
			}
			horizon = h
		}
		p, err := s.Oracle.Prediction(ctx, sym, horizon)
		if err != nil {
			return notifier.FormatError(err)
		}
		return notifier.FormatPrediction(p)

	case "/series":
		sym, ok := needSymbol()
		if !ok {
			return "Usage: /series SYMBOL [bars]"
		}
		n := defaultSeriesBars
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v <= 0 {
				return "Usage: /series SYMBOL [bars]"
			}
			n = v
		}
		if n > maxSeriesBars {
			n = maxSeriesBars
		}
		series, err := s.Oracle.Tail(ctx, sym, n)
		if err != nil {
			return notifier.FormatError(err)
		}
		return notifier.FormatSeries(series)

	case "/stats":
		sym, ok := needSymbol()
		if !ok {
			return "Usage: /stats SYMBOL"
		}
		ind, err := s.Oracle.Indicators(ctx, sym)
		if err != nil {
			return notifier.FormatError(err)
		}
		return notifier.FormatIndicators(ind)

	case "/symbols":
		syms, err := s.Oracle.Symbols(ctx)
		if err != nil {
			return notifier.FormatError(err)
		}
		return notifier.FormatSymbols(syms)

	case "/report":
		return s.buildReport(ctx)

	default:
		return notifier.HelpText()
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		logger.WithComponent("scheduler").Debug("no notifier configured, report dropped")
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		logger.WithComponent("scheduler").Errorf("send notification: %v", err)
	}
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/service"
)

// Detector runs one anti-cheat pass over every player
type Detector interface {
	DetectSuspiciousPatterns(ctx context.Context) (service.ScanResult, error)
}

// ScanWorker runs the anti-cheat scanner on a cron schedule
type ScanWorker struct {
	detector Detector
	config   *config.ScannerConfig
	logger   *slog.Logger
	cron     *cron.Cron
	entry    cron.EntryID
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	last     service.ScanResult
}

// NewScanWorker creates a new scan worker. The schedule is parsed here so a
// bad expression fails at startup.
func NewScanWorker(detector Detector, cfg *config.ScannerConfig, logger *slog.Logger) (*ScanWorker, error) {
	w := &ScanWorker{
		detector: detector,
		config:   cfg,
		logger:   logger,
	}
	w.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)

	id, err := w.cron.AddFunc(cfg.Schedule, w.scan)
	if err != nil {
		return nil, fmt.Errorf("parsing scanner schedule %q: %w", cfg.Schedule, err)
	}
	w.entry = id
	return w, nil
}

// Start begins scheduled scanning
func (w *ScanWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.cron.Start()
	w.logger.Info("scan worker started",
		"schedule", w.config.Schedule,
		"next_run", w.cron.Entry(w.entry).Next,
	)
	return nil
}

// Stop stops scheduling and waits for a running scan to finish
func (w *ScanWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	w.cancel()
	<-w.cron.Stop().Done()

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("scan worker stopped")
	return nil
}

// scan is the scheduled job
func (w *ScanWorker) scan() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("suspicious pattern detection failed", "error", err)
	}
}

// RunOnce runs a single scan (useful for manual triggers)
func (w *ScanWorker) RunOnce(ctx context.Context) (service.ScanResult, error) {
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	result, err := w.detector.DetectSuspiciousPatterns(ctx)
	if err != nil {
		return result, err
	}

	w.mu.Lock()
	w.lastRun = startTime
	w.last = result
	w.mu.Unlock()

	w.logger.Info("scan cycle completed",
		"duration", time.Since(startTime),
		"players", result.PlayersScanned,
		"reports", result.ReportsFiled,
	)
	return result, nil
}

// IsRunning returns whether the worker is currently scheduled
func (w *ScanWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastRun returns when the last successful scan started and what it found
func (w *ScanWorker) LastRun() (time.Time, service.ScanResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun, w.last
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

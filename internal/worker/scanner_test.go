package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/records"
	"github.com/realm-tycoon/economy-server/internal/service"
	"github.com/realm-tycoon/economy-server/internal/store"
)

type countingDetector struct {
	calls atomic.Int32
	err   error
}

func (d *countingDetector) DetectSuspiciousPatterns(ctx context.Context) (service.ScanResult, error) {
	d.calls.Add(1)
	if d.err != nil {
		return service.ScanResult{}, d.err
	}
	return service.ScanResult{PlayersScanned: 3, ReportsFiled: 1}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewScanWorkerRejectsBadSchedule(t *testing.T) {
	_, err := NewScanWorker(&countingDetector{}, &config.ScannerConfig{Schedule: "every now and then"}, testLogger())
	assert.Error(t, err)
}

func TestScanWorkerRunOnce(t *testing.T) {
	d := &countingDetector{}
	w, err := NewScanWorker(d, &config.ScannerConfig{Schedule: "@hourly", Timeout: time.Second}, testLogger())
	require.NoError(t, err)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReportsFiled)
	assert.Equal(t, int32(1), d.calls.Load())

	at, last := w.LastRun()
	assert.False(t, at.IsZero())
	assert.Equal(t, 3, last.PlayersScanned)
}

func TestScanWorkerRunOnceError(t *testing.T) {
	d := &countingDetector{err: errors.New("store down")}
	w, err := NewScanWorker(d, &config.ScannerConfig{Schedule: "@hourly"}, testLogger())
	require.NoError(t, err)

	_, err = w.RunOnce(context.Background())
	assert.EqualError(t, err, "store down")
	at, _ := w.LastRun()
	assert.True(t, at.IsZero())
}

func TestScanWorkerSchedule(t *testing.T) {
	d := &countingDetector{}
	w, err := NewScanWorker(d, &config.ScannerConfig{Schedule: "@every 1s"}, testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	require.NoError(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool { return d.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

func TestScanWorkerFilesReports(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	svc := service.NewEconomyService(mem, service.Options{}, testLogger())
	repo := svc.Repository()
	require.NoError(t, repo.PutPlayer(ctx, &domain.Player{
		ID:    "cheater",
		Gold:  50_000_000,
		Stats: domain.PlayerStats{TotalPlayTime: 600, TotalItemsCrafted: 60_000},
	}))

	w, err := NewScanWorker(svc, &config.ScannerConfig{Schedule: "@hourly"}, testLogger())
	require.NoError(t, err)

	result, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReportsFiled)

	reports, err := records.NewRepository(mem).ListReports(ctx, "cheater")
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
)

// Config holds cleanup settings
type Config struct {
	Dir      string
	Interval time.Duration
	MaxAge   time.Duration
}

// SweepStats describes one cleanup pass.
type SweepStats struct {
	Scanned int
	Removed int
	Partial int
	Bytes   int64
}

// Janitor removes downloaded audio files once they are older than MaxAge.
// Leftover ".part" files from interrupted downloads are removed the same way.
type Janitor struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewJanitor creates a new janitor
func NewJanitor(config Config, logger *slog.Logger, m *metrics.Metrics) *Janitor {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &Janitor{
		config:  config,
		logger:  logger.With(slog.String("component", "housekeeping")),
		metrics: m,
		now:     time.Now,
	}
}

// Run sweeps every Interval until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("Housekeeping started",
		slog.String("dir", j.config.Dir),
		slog.Duration("interval", j.config.Interval),
		slog.Duration("max_age", j.config.MaxAge))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Housekeeping stopping")
			return
		case <-ticker.C:
			if _, err := j.Sweep(); err != nil {
				j.logger.Warn("Sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep removes expired regular files directly under Dir.
// A missing directory is not an error.
func (j *Janitor) Sweep() (SweepStats, error) {
	var stats SweepStats

	entries, err := os.ReadDir(j.config.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("read audio dir: %w", err)
	}

	cutoff := j.now().Add(-j.config.MaxAge)
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		stats.Scanned++

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(j.config.Dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		stats.Removed++
		stats.Bytes += info.Size()
		if filepath.Ext(path) == ".part" {
			stats.Partial++
		}
	}

	if stats.Removed > 0 {
		j.metrics.RecordFilesRemoved(stats.Removed)
		j.logger.Info("Removed expired audio files",
			slog.Int("removed", stats.Removed),
			slog.Int("partial", stats.Partial),
			slog.Int64("bytes", stats.Bytes))
	}

	return stats, errors.Join(errs...)
}

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
)

// Fetcher opens the byte stream of a remote file. Implementations classify
// their failures with Transient or Permanent.
type Fetcher interface {
	Fetch(ctx context.Context, ref FileRef) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, ref FileRef) (io.ReadCloser, error)

func (f FetcherFunc) Fetch(ctx context.Context, ref FileRef) (io.ReadCloser, error) {
	return f(ctx, ref)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config holds the downloader retry policy.
type Config struct {
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	MaxFileSize    int64 // 0 disables the limit
}

// DefaultConfig returns five attempts with a fixed five second backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		Backoff:        5 * time.Second,
		AttemptTimeout: 30 * time.Second,
		MaxFileSize:    20 << 20,
	}
}

// Downloader fetches remote media to local files with a fixed backoff retry policy.
type Downloader struct {
	fetcher Fetcher
	config  Config
	sleep   Sleeper
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(d *Downloader) {
		d.sleep = s
	}
}

// WithMetrics records attempts and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Downloader) {
		d.metrics = m
	}
}

// NewDownloader creates a new downloader
func NewDownloader(fetcher Fetcher, config Config, logger *slog.Logger, opts ...Option) *Downloader {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	d := &Downloader{
		fetcher: fetcher,
		config:  config,
		sleep:   sleepContext,
		logger:  logger.With(slog.String("component", "downloader")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches ref into path. It returns ErrRejected after a permanent
// fault, ErrExhausted once every attempt failed transiently, or the context
// error if ctx ends first. The returned task is never nil.
func (d *Downloader) Download(ctx context.Context, ref FileRef, path string) (*Task, error) {
	task := &Task{
		Ref:         ref,
		Path:        path,
		MaxAttempts: d.config.MaxAttempts,
		Backoff:     d.config.Backoff,
		State:       StatePending,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		err = fmt.Errorf("%w: create audio dir: %w", ErrRejected, err)
		task.markFailed(err)
		return task, err
	}

	start := time.Now()
	for task.Attempts < task.MaxAttempts {
		if err := ctx.Err(); err != nil {
			task.markFailed(err)
			return task, err
		}

		task.Attempts++
		d.metrics.RecordDownloadAttempt()

		n, err := d.attempt(ctx, ref, path)
		if err == nil {
			task.markDownloaded(n)
			d.metrics.RecordDownloadSuccess(time.Since(start).Seconds(), n)
			d.logger.Debug("Download complete",
				slog.String("file_unique_id", ref.UniqueID),
				slog.Int("attempts", task.Attempts),
				slog.Int64("bytes", n))
			return task, nil
		}
		task.LastErr = err

		// Host shutdown, not a fault of the remote.
		if ctx.Err() != nil {
			task.markFailed(ctx.Err())
			return task, ctx.Err()
		}

		if !IsTransient(err) {
			err = fmt.Errorf("%w: %w", ErrRejected, err)
			task.markFailed(err)
			d.metrics.RecordDownloadFailure("rejected")
			d.logger.Warn("Download rejected",
				slog.String("file_unique_id", ref.UniqueID),
				slog.Int("attempt", task.Attempts),
				slog.String("error", err.Error()))
			return task, err
		}

		d.metrics.RecordDownloadRetry()
		d.logger.Warn("Download attempt failed, backing off",
			slog.String("file_unique_id", ref.UniqueID),
			slog.Int("attempt", task.Attempts),
			slog.Int("max_attempts", task.MaxAttempts),
			slog.Duration("backoff", task.Backoff),
			slog.String("error", err.Error()))

		// Every transient failure is followed by a backoff, the last one included.
		if err := d.sleep(ctx, task.Backoff); err != nil {
			task.markFailed(err)
			return task, err
		}
		task.Waited += task.Backoff
	}

	err := fmt.Errorf("%w after %d attempts: %w", ErrExhausted, task.Attempts, task.LastErr)
	task.markFailed(err)
	d.metrics.RecordDownloadFailure("exhausted")
	d.logger.Error("Download exhausted",
		slog.String("file_unique_id", ref.UniqueID),
		slog.Int("attempts", task.Attempts),
		slog.Duration("waited", task.Waited))
	return task, err
}

// attempt performs a single fetch into path+".part" and renames it into place.
func (d *Downloader) attempt(ctx context.Context, ref FileRef, path string) (int64, error) {
	attemptCtx := ctx
	if d.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.config.AttemptTimeout)
		defer cancel()
	}

	if d.config.MaxFileSize > 0 && ref.Size > d.config.MaxFileSize {
		return 0, Permanent(fmt.Errorf("file size %d exceeds limit %d", ref.Size, d.config.MaxFileSize))
	}

	body, err := d.fetcher.Fetch(attemptCtx, ref)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	partPath := path + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return 0, Permanent(fmt.Errorf("create %s: %w", partPath, err))
	}

	var src io.Reader = body
	if d.config.MaxFileSize > 0 {
		src = io.LimitReader(body, d.config.MaxFileSize+1)
	}

	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	if copyErr == nil && d.config.MaxFileSize > 0 && n > d.config.MaxFileSize {
		copyErr = Permanent(fmt.Errorf("file exceeds limit of %d bytes", d.config.MaxFileSize))
	}
	if copyErr == nil && closeErr != nil {
		copyErr = Permanent(fmt.Errorf("close %s: %w", partPath, closeErr))
	}
	if copyErr != nil {
		os.Remove(partPath)
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return 0, Transient(fmt.Errorf("attempt timed out: %w", copyErr))
		}
		return 0, copyErr
	}

	if err := os.Rename(partPath, path); err != nil {
		os.Remove(partPath)
		return 0, Permanent(fmt.Errorf("rename %s: %w", partPath, err))
	}

	return n, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsExhausted reports whether err ended a task after all attempts failed.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

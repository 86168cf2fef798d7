package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
)

// ErrCacheClosed is returned by Get after Close.
var ErrCacheClosed = errors.New("model cache closed")

// ModelCache loads the engine once and hands the same instance to every
// caller. Concurrent first calls wait for a single load. A failed load is
// not remembered, so the next call tries again.
type ModelCache struct {
	load    Loader
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inUse    sync.WaitGroup
	engine   Engine
	loads    int
	failures int
	loadedAt time.Time
	closed   bool
}

// CacheStats describes the cache state
type CacheStats struct {
	Loaded       bool      `json:"loaded"`
	Engine       string    `json:"engine,omitempty"`
	Loads        int       `json:"loads"`
	LoadFailures int       `json:"load_failures"`
	LoadedAt     time.Time `json:"loaded_at,omitempty"`
}

// NewModelCache creates a cache around load.
func NewModelCache(load Loader, logger *slog.Logger, m *metrics.Metrics) *ModelCache {
	return &ModelCache{
		load:    load,
		logger:  logger.With(slog.String("component", "model_cache")),
		metrics: m,
	}
}

// Get returns the loaded engine, loading it on first use. The engine may be
// closed at any time after Get returns; callers that run it use Acquire.
func (c *ModelCache) Get(ctx context.Context) (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(ctx)
}

// Acquire returns the engine and marks it in use until release is called.
// Close waits for every acquired engine to be released.
func (c *ModelCache) Acquire(ctx context.Context) (engine Engine, release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	engine, err = c.getLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	c.inUse.Add(1)
	var once sync.Once
	return engine, func() { once.Do(c.inUse.Done) }, nil
}

func (c *ModelCache) getLocked(ctx context.Context) (Engine, error) {
	if c.closed {
		return nil, ErrCacheClosed
	}
	if c.engine != nil {
		return c.engine, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	c.loads++
	engine, err := c.load(ctx)
	elapsed := time.Since(start)
	if err != nil {
		c.failures++
		c.metrics.RecordModelLoad(false, elapsed.Seconds())
		c.logger.Error("Failed to load speech model",
			slog.Int("attempt", c.loads),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("load model: %w", err)
	}

	c.engine = engine
	c.loadedAt = time.Now()
	c.metrics.RecordModelLoad(true, elapsed.Seconds())
	c.logger.Info("Speech model loaded",
		slog.String("engine", engine.Name()),
		slog.Duration("load_time", elapsed))

	return engine, nil
}

// Warm loads the engine ahead of the first request.
func (c *ModelCache) Warm(ctx context.Context) error {
	_, err := c.Get(ctx)
	return err
}

// GetStats returns the cache state
func (c *ModelCache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Loaded:       c.engine != nil,
		Loads:        c.loads,
		LoadFailures: c.failures,
		LoadedAt:     c.loadedAt,
	}
	if c.engine != nil {
		stats.Engine = c.engine.Name()
	}
	return stats
}

// Close releases the engine once no acquired call is running. Later Get
// and Acquire calls fail with ErrCacheClosed.
func (c *ModelCache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.inUse.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	return err
}

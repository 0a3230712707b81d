package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/facerec/internal/provider"
	"github.com/andresmejia3/facerec/internal/types"
)

var _ provider.EmbeddingProvider = (*Pool)(nil)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize   = 1
	AcquireTimeout    = 30 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrNoWorker is returned when no worker frees up within the acquire timeout.
	ErrNoWorker = errors.New("timeout waiting for available worker")
)

// SpawnFunc starts the worker with the given id.
type SpawnFunc func(id int) (*PythonWorker, error)

// Pool hands out Python workers to concurrent requests. Broken workers are
// replaced on release; replacements that fail to start are retried periodically.
// Pool implements provider.EmbeddingProvider.
type Pool struct {
	workers        chan *PythonWorker
	size           int
	spawn          SpawnFunc
	acquireTimeout time.Duration
	logger         *slog.Logger

	mu         sync.Mutex
	closed     bool
	nextID     int
	missing    int
	lastErrors []error
	done       chan struct{}

	metrics *PoolMetrics
}

// PoolMetrics counts pool activity.
type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	replaced        int64
	waitTime        time.Duration
}

// PoolStats is a point-in-time copy of the pool's metrics.
type PoolStats struct {
	Size            int      `json:"size"`
	Idle            int      `json:"idle"`
	InUse           int      `json:"in_use"`
	TotalAcquired   int64    `json:"total_acquired"`
	TotalReleased   int64    `json:"total_released"`
	AcquireFailures int64    `json:"acquire_failures"`
	Replaced        int64    `json:"replaced"`
	WaitTimeMS      int64    `json:"wait_time_ms"`
	LastErrors      []string `json:"last_errors,omitempty"`
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithAcquireTimeout bounds how long a request waits for an idle worker.
func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.acquireTimeout = d }
}

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool starts size Python workers. ctx bounds the lifetime of every process.
func NewPool(ctx context.Context, cfg Config, size int, opts ...PoolOption) (*Pool, error) {
	return newPool(size, func(id int) (*PythonWorker, error) {
		return NewPythonWorker(ctx, id, cfg)
	}, opts...)
}

func newPool(size int, spawn SpawnFunc, opts ...PoolOption) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &Pool{
		workers:        make(chan *PythonWorker, size),
		size:           size,
		spawn:          spawn,
		acquireTimeout: AcquireTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:           make(chan struct{}),
		metrics:        &PoolMetrics{},
	}
	for _, opt := range opts {
		opt(pool)
	}

	// Initialize workers
	for i := 0; i < size; i++ {
		w, err := pool.start()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize worker %d: %w", i, err)
		}
		pool.workers <- w
	}

	// Start health check routine
	go pool.healthCheck()

	return pool, nil
}

func (p *Pool) start() (*PythonWorker, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()
	return p.spawn(id)
}

// Acquire waits for an idle worker.
func (p *Pool) Acquire(ctx context.Context) (*PythonWorker, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case w := <-p.workers:
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return w, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrNoWorker
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns w to the pool, replacing it first if it is broken.
func (p *Pool) Release(w *PythonWorker) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	if w.Broken() {
		p.logger.Warn("replacing broken worker", slog.Int("worker", w.ID), slog.String("logs", w.Cmd.Logs()))
		w.Close()

		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		fresh, err := p.start()
		if err != nil {
			p.recordError(err)
			p.mu.Lock()
			p.missing++
			p.mu.Unlock()
			return
		}
		p.metrics.mu.Lock()
		p.metrics.replaced++
		p.metrics.mu.Unlock()
		w = fresh
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		w.Close()
		return
	}
	p.workers <- w
}

// Close stops every idle worker. Workers still in use are stopped on release.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)

	for {
		select {
		case w := <-p.workers:
			w.Close()
		default:
			return
		}
	}
}

func (p *Pool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish retries starting workers that could not be replaced earlier.
func (p *Pool) replenish() {
	p.mu.Lock()
	count := p.missing
	p.mu.Unlock()

	for i := 0; i < count; i++ {
		w, err := p.start()
		if err != nil {
			p.recordError(err)
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			w.Close()
			return
		}
		p.missing--
		p.workers <- w
		p.mu.Unlock()
	}
}

func (p *Pool) recordError(err error) {
	p.logger.Error("worker failed to start", slog.Any("error", err))

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

// Stats returns a snapshot of the pool's metrics.
func (p *Pool) Stats() PoolStats {
	p.metrics.mu.RLock()
	s := PoolStats{
		Size:            p.size,
		Idle:            len(p.workers),
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		Replaced:        p.metrics.replaced,
		WaitTimeMS:      p.metrics.waitTime.Milliseconds(),
	}
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	for _, err := range p.lastErrors {
		s.LastErrors = append(s.LastErrors, err.Error())
	}
	p.mu.Unlock()
	return s
}

// Detect finds faces in img on the next idle worker.
func (p *Pool) Detect(ctx context.Context, img image.Image) ([]types.FaceBox, error) {
	w, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(w)
	return w.Detect(ctx, img)
}

// Embed encodes the faces at boxes, or every face the worker finds when boxes is nil.
func (p *Pool) Embed(ctx context.Context, img image.Image, boxes []types.FaceBox) ([]types.Embedding, error) {
	w, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(w)

	faces, err := w.Embed(ctx, img, boxes)
	if err != nil {
		return nil, err
	}
	out := make([]types.Embedding, len(faces))
	for i, f := range faces {
		out[i] = f.Vec
	}
	return out, nil
}

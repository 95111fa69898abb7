package generators

import (
	"context"
	"errors"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"Urban-Render/server/internal/interfaces"
)

// ErrQueueFull is returned when no more renders can be queued
var ErrQueueFull = errors.New("render queue is full")

// RenderQueue bounds how many provider calls run at once. It wraps another
// Renderer and is itself a Renderer. Start must be called before Render.
type RenderQueue struct {
	next       interfaces.Renderer
	requests   chan *queueRequest
	maxWorkers int
	active     *atomic.Int64
	processed  *atomic.Int64
	logger     *zap.Logger
}

type queueRequest struct {
	ctx       context.Context
	req       *interfaces.RenderRequest
	resultCh  chan queueResult
	createdAt time.Time
}

type queueResult struct {
	res *interfaces.RenderResult
	err error
}

// NewRenderQueue creates a queue of the given size served by maxWorkers workers
func NewRenderQueue(next interfaces.Renderer, maxWorkers, size int, logger *zap.Logger) *RenderQueue {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if size < 0 {
		size = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderQueue{
		next:       next,
		requests:   make(chan *queueRequest, size),
		maxWorkers: maxWorkers,
		active:     atomic.NewInt64(0),
		processed:  atomic.NewInt64(0),
		logger:     logger.Named("queue"),
	}
}

// Start starts the workers; they stop when ctx is done
func (q *RenderQueue) Start(ctx context.Context) {
	for i := 0; i < q.maxWorkers; i++ {
		go q.worker(ctx)
	}
}

func (q *RenderQueue) Provider() string { return q.next.Provider() }

func (q *RenderQueue) Model() string { return q.next.Model() }

// Render queues the request and waits for its result
func (q *RenderQueue) Render(ctx context.Context, req *interfaces.RenderRequest) (*interfaces.RenderResult, error) {
	qr := &queueRequest{
		ctx:       ctx,
		req:       req,
		resultCh:  make(chan queueResult, 1),
		createdAt: time.Now(),
	}

	select {
	case q.requests <- qr:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		q.logger.Warn("render queue full", zap.Int("size", cap(q.requests)))
		return nil, ErrQueueFull
	}

	select {
	case result := <-qr.resultCh:
		return result.res, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetQueueSize returns the number of waiting requests
func (q *RenderQueue) GetQueueSize() int {
	return len(q.requests)
}

// GetActiveWorkers returns the number of renders in progress
func (q *RenderQueue) GetActiveWorkers() int {
	return int(q.active.Load())
}

// Processed returns how many requests the workers have handled
func (q *RenderQueue) Processed() int64 {
	return q.processed.Load()
}

func (q *RenderQueue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qr := <-q.requests:
			q.process(qr)
		}
	}
}

func (q *RenderQueue) process(qr *queueRequest) {
	defer q.processed.Inc()

	// The caller gave up while waiting
	if err := qr.ctx.Err(); err != nil {
		qr.resultCh <- queueResult{err: err}
		return
	}

	q.active.Inc()
	waited := time.Since(qr.createdAt)
	res, err := q.next.Render(qr.ctx, qr.req)
	q.active.Dec()

	if waited > time.Second {
		q.logger.Debug("render waited in queue", zap.Duration("waited", waited))
	}
	qr.resultCh <- queueResult{res: res, err: err}
}

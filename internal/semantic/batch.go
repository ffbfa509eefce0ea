package semantic

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// batchLimit caps the tracks coalesced into one flush.
	batchLimit = 10

	// coalesceWindow is how long the scheduler waits for more work
	// before flushing a partial batch.
	coalesceWindow = 2 * time.Second
)

type pending struct {
	ctx  context.Context
	req  Request
	done chan describeResult
}

type describeResult struct {
	doc *Document
	err error
}

// Batcher coalesces timeline requests: up to batchLimit tracks per
// flush with a 2-second window. The scheduler is single-threaded and
// resolves results back to individual requesters.
type Batcher struct {
	provider Provider
	logger   *slog.Logger

	mu     sync.Mutex
	queue  []*pending
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewBatcher starts the scheduler around a provider.
func NewBatcher(provider Provider, logger *slog.Logger) *Batcher {
	b := &Batcher{
		provider: provider,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Describe enqueues a request and waits for its result.
func (b *Batcher) Describe(ctx context.Context, req Request) (*Document, error) {
	p := &pending{ctx: ctx, req: req, done: make(chan describeResult, 1)}

	b.mu.Lock()
	b.queue = append(b.queue, p)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-p.done:
		return res.doc, res.err
	}
}

// Close stops the scheduler. In-flight requests finish; queued ones are
// failed.
func (b *Batcher) Close() {
	b.once.Do(func() { close(b.closed) })
}

func (b *Batcher) run() {
	for {
		select {
		case <-b.closed:
			b.failQueued()
			return
		case <-b.wake:
		}

		// Coalesce: wait out the window unless the batch fills first.
		deadline := time.NewTimer(coalesceWindow)
		for {
			b.mu.Lock()
			full := len(b.queue) >= batchLimit
			b.mu.Unlock()
			if full {
				break
			}
			select {
			case <-deadline.C:
			case <-b.wake:
				continue
			case <-b.closed:
				deadline.Stop()
				b.failQueued()
				return
			}
			break
		}
		deadline.Stop()

		b.flush()
	}
}

func (b *Batcher) flush() {
	b.mu.Lock()
	n := len(b.queue)
	if n > batchLimit {
		n = batchLimit
	}
	batch := b.queue[:n]
	b.queue = append([]*pending(nil), b.queue[n:]...)
	remaining := len(b.queue)
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	b.logger.Debug("semantic batch flush", "size", len(batch), "queued", remaining)

	// Linear within the batch: retries and credential rotation inside
	// the provider stay single-threaded.
	for _, p := range batch {
		if p.ctx.Err() != nil {
			p.done <- describeResult{err: p.ctx.Err()}
			continue
		}
		doc, err := b.provider.Describe(p.ctx, p.req)
		p.done <- describeResult{doc: doc, err: err}
	}

	if remaining > 0 {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

func (b *Batcher) failQueued() {
	b.mu.Lock()
	queue := b.queue
	b.queue = nil
	b.mu.Unlock()
	for _, p := range queue {
		p.done <- describeResult{err: &Unavailable{Reason: "scheduler closed"}}
	}
}

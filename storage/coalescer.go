package storage

import (
	"context"
	"sync"
	"time"
)

// pendingWrite is the latest queued value for a key; successive writes to
// the same key within the batch window collapse onto the same pendingWrite
// (spec §4.1 write coalescing), but every caller waiting on it is released
// together when it flushes.
type pendingWrite struct {
	value []byte
	done  chan error
}

// writeCoalescer batches same-key writes within a configurable window,
// flushing on size or time threshold, or on explicit Flush/Close.
type writeCoalescer struct {
	mu       sync.Mutex
	window   time.Duration
	maxBatch int
	pending  map[string]*pendingWrite
	waiters  map[string][]chan error
	timer    *time.Timer
	write    func(ctx context.Context, key string, value []byte) error
	closed   bool
}

func newWriteCoalescer(window time.Duration, maxBatch int, write func(ctx context.Context, key string, value []byte) error) *writeCoalescer {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &writeCoalescer{
		window:   window,
		maxBatch: maxBatch,
		pending:  make(map[string]*pendingWrite),
		waiters:  make(map[string][]chan error),
		write:    write,
	}
}

// enqueue collapses value onto any pending write for key and returns a
// channel that resolves once the batch flushes. If window <= 0, coalescing
// is disabled and the write is issued synchronously.
func (c *writeCoalescer) enqueue(ctx context.Context, key string, value []byte) error {
	if c.window <= 0 {
		return c.write(ctx, key, value)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.write(ctx, key, value)
	}

	c.pending[key] = &pendingWrite{value: value}
	done := make(chan error, 1)
	c.waiters[key] = append(c.waiters[key], done)

	flushNow := len(c.pending) >= c.maxBatch
	if c.timer == nil && !flushNow {
		c.timer = time.AfterFunc(c.window, func() { c.flush(ctx) })
	}
	c.mu.Unlock()

	if flushNow {
		c.flush(ctx)
	}

	return <-done
}

// flush writes every pending key's latest value and releases all waiters —
// including waiters whose write was since superseded, since the oldest
// promise is still resolved on completion (spec §4.1).
func (c *writeCoalescer) flush(ctx context.Context) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.pending
	waiters := c.waiters
	c.pending = make(map[string]*pendingWrite)
	c.waiters = make(map[string][]chan error)
	c.mu.Unlock()

	for key, pw := range batch {
		err := c.write(ctx, key, pw.value)
		for _, ch := range waiters[key] {
			ch <- err
		}
	}
}

// close flushes any remaining writes and rejects future coalescing.
func (c *writeCoalescer) close(ctx context.Context) {
	c.flush(ctx)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

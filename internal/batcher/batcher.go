// Package batcher accumulates per-conversation message items and commits
// them in batches, decoupling the rate of assistant token production from
// the cost of storage writes while bounding worst-case time to durability.
package batcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Item is one buffered message awaiting durable commit.
type Item struct {
	Author       string
	Content      string
	ImageURL     string
	ReceivedAtMs int64
}

// FlushFunc durably commits a drained batch for one conversation. A
// returned error marks the whole batch as retryable.
type FlushFunc func(ctx context.Context, conversationID string, items []Item) error

// Options tunes batching behavior.
type Options struct {
	// BatchSize triggers an immediate flush when a buffer reaches it.
	BatchSize int
	// MaxDelay bounds how long an item can sit buffered before a flush is
	// attempted, even if BatchSize is never reached.
	MaxDelay time.Duration
	// RetryDelay is the linear backoff unit: attempt n waits n*RetryDelay.
	RetryDelay time.Duration
	// MaxRetries caps flush attempts before a batch is dropped.
	MaxRetries int
	// PollInterval paces the drain wait in FlushAll.
	PollInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 20 * time.Millisecond
	}
}

// state is the per-conversation buffer plus its flush coordination. All
// fields are guarded by the Batcher mutex.
type state struct {
	buffer   []Item
	flushing bool
	timer    *time.Timer
	pending  map[string]struct{}
}

// Batcher owns all per-conversation buffers. At most one flush is in
// flight per conversation; draining happens at flush time so concurrent
// adds are never lost and never duplicated into an in-flight write.
type Batcher struct {
	opts    Options
	flushFn FlushFunc
	logger  *logrus.Logger

	mu     sync.Mutex
	states map[string]*state
}

// New creates a Batcher.
func New(flushFn FlushFunc, opts Options, logger *logrus.Logger) (*Batcher, error) {
	if opts.BatchSize < 1 {
		return nil, errors.New("batcher: batch size must be a positive integer")
	}
	if flushFn == nil {
		return nil, errors.New("batcher: flush function is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts.applyDefaults()

	return &Batcher{
		opts:    opts,
		flushFn: flushFn,
		logger:  logger,
		states:  make(map[string]*state),
	}, nil
}

// Add buffers an item for a conversation, stamping its receive time if
// unset. Reaching BatchSize triggers an immediate flush attempt; otherwise
// the debounce timer is rearmed.
func (b *Batcher) Add(conversationID string, item Item) {
	if item.ReceivedAtMs == 0 {
		item.ReceivedAtMs = time.Now().UnixMilli()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateLocked(conversationID)
	st.buffer = append(st.buffer, item)

	if len(st.buffer) >= b.opts.BatchSize {
		b.stopTimerLocked(st)
		b.startFlushLocked(conversationID, st)
		return
	}
	b.armTimerLocked(conversationID, st)
}

// Flush forces an immediate flush attempt for a conversation, bypassing
// the timer. A no-op when the buffer is empty or a flush is in flight.
func (b *Batcher) Flush(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[conversationID]
	if !ok {
		return
	}
	b.stopTimerLocked(st)
	b.startFlushLocked(conversationID, st)
}

// FlushAll forces a flush and blocks until every in-flight operation for
// the conversation settles and its buffer is empty, or ctx expires.
// Operations are tracked by identifier insertion/removal, so waiting is a
// short poll loop.
func (b *Batcher) FlushAll(ctx context.Context, conversationID string) error {
	b.Flush(conversationID)

	for {
		if b.settled(conversationID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.opts.PollInterval):
		}
	}
}

// DrainAll flushes every conversation and waits for all of them to
// settle. Used during graceful shutdown.
func (b *Batcher) DrainAll(ctx context.Context) error {
	b.mu.Lock()
	keys := make([]string, 0, len(b.states))
	for key := range b.states {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	for _, key := range keys {
		if err := b.FlushAll(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batcher) settled(conversationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[conversationID]
	if !ok {
		return true
	}
	return len(st.buffer) == 0 && !st.flushing && len(st.pending) == 0
}

// stateLocked lazily initializes per-conversation state.
func (b *Batcher) stateLocked(conversationID string) *state {
	st, ok := b.states[conversationID]
	if !ok {
		st = &state{pending: make(map[string]struct{})}
		b.states[conversationID] = st
	}
	return st
}

func (b *Batcher) armTimerLocked(conversationID string, st *state) {
	b.stopTimerLocked(st)
	st.timer = time.AfterFunc(b.opts.MaxDelay, func() {
		b.onTimer(conversationID)
	})
}

func (b *Batcher) stopTimerLocked(st *state) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (b *Batcher) onTimer(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[conversationID]
	if !ok {
		return
	}
	st.timer = nil
	b.startFlushLocked(conversationID, st)
}

// startFlushLocked begins a flush operation unless one is already in
// flight or there is nothing to write. The in-flight flush drains at
// write time, so a skipped trigger loses nothing.
func (b *Batcher) startFlushLocked(conversationID string, st *state) {
	if st.flushing || len(st.buffer) == 0 {
		return
	}
	st.flushing = true
	opID := uuid.NewString()
	st.pending[opID] = struct{}{}

	go b.runFlush(conversationID, opID)
}

// runFlush drains and writes, retrying with linear backoff. Failed batches
// are re-prepended so their items stay ahead of anything added meanwhile;
// after MaxRetries the batch is dropped and logged as permanently lost.
func (b *Batcher) runFlush(conversationID, opID string) {
	defer b.finishFlush(conversationID, opID)

	for attempt := 1; ; attempt++ {
		items := b.drain(conversationID)
		if len(items) == 0 {
			return
		}

		err := b.flushFn(context.Background(), conversationID, items)
		if err == nil {
			return
		}

		if attempt >= b.opts.MaxRetries {
			b.logger.WithFields(logrus.Fields{
				"conversationId": conversationID,
				"opId":           opID,
				"items":          len(items),
				"attempts":       attempt,
				"permanent_loss": true,
				"error":          err.Error(),
			}).Error("Dropping batch after exhausting flush retries")
			return
		}

		b.logger.WithFields(logrus.Fields{
			"conversationId": conversationID,
			"opId":           opID,
			"items":          len(items),
			"attempt":        attempt,
			"error":          err.Error(),
		}).Warn("Batch flush failed, retrying")

		b.requeue(conversationID, items)
		time.Sleep(time.Duration(attempt) * b.opts.RetryDelay)
	}
}

// finishFlush releases the per-conversation flush lock and reschedules
// anything that accumulated while the flush ran.
func (b *Batcher) finishFlush(conversationID, opID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[conversationID]
	if !ok {
		return
	}
	delete(st.pending, opID)
	st.flushing = false

	if len(st.buffer) >= b.opts.BatchSize {
		b.startFlushLocked(conversationID, st)
	} else if len(st.buffer) > 0 {
		b.armTimerLocked(conversationID, st)
	}
}

// drain atomically takes the whole current buffer. New adds land in a
// fresh buffer and are picked up by a later flush.
func (b *Batcher) drain(conversationID string) []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[conversationID]
	if !ok {
		return nil
	}
	items := st.buffer
	st.buffer = nil
	b.stopTimerLocked(st)
	return items
}

// requeue puts failed items back at the front of the buffer, preserving
// their original order ahead of anything added since the drain.
func (b *Batcher) requeue(conversationID string, items []Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateLocked(conversationID)
	merged := make([]Item, 0, len(items)+len(st.buffer))
	merged = append(merged, items...)
	merged = append(merged, st.buffer...)
	st.buffer = merged
}

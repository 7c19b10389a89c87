package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/batcher"
	"github.com/ajeer/ajeer-backend/internal/providers"
	"github.com/ajeer/ajeer-backend/internal/repository"
)

const testConvID = "conv-test-001"

func newTestBatcher(t *testing.T, store *memStore, opts batcher.Options) *batcher.Batcher {
	t.Helper()
	if opts.BatchSize == 0 {
		opts.BatchSize = 10
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 50 * time.Millisecond
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Millisecond
	}
	flush := func(ctx context.Context, conversationID string, items []batcher.Item) error {
		msgs := make([]repository.NewMessage, len(items))
		for i, item := range items {
			msgs[i] = repository.NewMessage{
				Author:       item.Author,
				Content:      item.Content,
				ImageURL:     item.ImageURL,
				ReceivedAtMs: item.ReceivedAtMs,
			}
		}
		return store.WriteBatch(ctx, conversationID, msgs)
	}
	b, err := batcher.New(flush, opts, testLogger())
	require.NoError(t, err)
	return b
}

func seedConversation(t *testing.T, store *memStore) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), repository.Conversation{ID: testConvID}))
}

func runSession(t *testing.T, ctx context.Context, provider *fakeProvider, sink *recordingSink, b *batcher.Batcher) (SessionState, *fakeSubscription) {
	t.Helper()
	sub, err := provider.StreamReplies(ctx, "thread_000001")
	require.NoError(t, err)
	session := NewStreamSession(StreamSessionParams{
		ConversationID: testConvID,
		RequestID:      "req-1",
		Locale:         "en",
		Subscription:   sub,
		Sink:           sink,
		Batcher:        b,
		Logger:         testLogger(),
		FlushTimeout:   2 * time.Second,
	})
	state := session.Run(ctx)
	assert.Equal(t, state, session.State())
	return state, sub.(*fakeSubscription)
}

func TestSessionStreamsToEndAndPersists(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	b := newTestBatcher(t, store, batcher.Options{})

	tokens := []string{"The", " answer", " is", " 42", "."}
	provider := &fakeProvider{replyTokens: tokens}
	sink := &recordingSink{}

	state, _ := runSession(t, context.Background(), provider, sink, b)

	assert.Equal(t, StateEnded, state)
	assert.Equal(t, tokens, sink.tokens)
	assert.Equal(t, 1, sink.endCalls)
	assert.Zero(t, sink.errorCalls)

	msgs, err := store.ListByConversation(context.Background(), testConvID)
	require.NoError(t, err)
	require.Len(t, msgs, len(tokens))
	var got strings.Builder
	for i, msg := range msgs {
		assert.Equal(t, int64(i+1), msg.SeqID)
		assert.Equal(t, "assistant", msg.Author)
		got.WriteString(msg.Content)
	}
	assert.Equal(t, "The answer is 42.", got.String())
}

func TestSessionFlushWaitsOutTransientFailures(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	store.failWrites = 2
	b := newTestBatcher(t, store, batcher.Options{MaxRetries: 5})

	provider := &fakeProvider{replyTokens: []string{"a", "b", "c"}}
	sink := &recordingSink{}

	state, _ := runSession(t, context.Background(), provider, sink, b)

	assert.Equal(t, StateEnded, state)
	msgs, err := store.ListByConversation(context.Background(), testConvID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3, "batch should land exactly once after retries")
	assert.GreaterOrEqual(t, store.writeCalls, 3)
}

func TestSessionDisconnectStopsUpstreamAndFlushes(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	b := newTestBatcher(t, store, batcher.Options{BatchSize: 100})

	provider := &fakeProvider{replyTokens: []string{"one", "two", "three", "four", "five"}}
	sink := &recordingSink{failTokensAfter: 3}

	state, sub := runSession(t, context.Background(), provider, sink, b)

	assert.Equal(t, StateDisconnected, state)
	assert.True(t, sub.wasStopped())
	assert.Zero(t, sink.endCalls)
	assert.Zero(t, sink.errorCalls)

	// Tokens delivered before the connection died must still be durable.
	msgs, err := store.ListByConversation(context.Background(), testConvID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestSessionContextCancelIsDisconnect(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	b := newTestBatcher(t, store, batcher.Options{BatchSize: 100})

	sub := newFakeSubscription()
	sink := &recordingSink{}
	session := NewStreamSession(StreamSessionParams{
		ConversationID: testConvID,
		RequestID:      "req-1",
		Locale:         "en",
		Subscription:   sub,
		Sink:           sink,
		Batcher:        b,
		Logger:         testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := session.Run(ctx)
	assert.Equal(t, StateDisconnected, state)
	assert.True(t, sub.wasStopped())
}

func TestSessionProviderErrorReportsSanitized(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	b := newTestBatcher(t, store, batcher.Options{BatchSize: 100})

	provider := &fakeProvider{
		replyTokens: []string{"partial"},
		replyErr:    providers.ErrTimeout,
	}
	sink := &recordingSink{}
	clearedThread := false

	sub, err := provider.StreamReplies(context.Background(), "thread_000001")
	require.NoError(t, err)
	session := NewStreamSession(StreamSessionParams{
		ConversationID: testConvID,
		RequestID:      "req-1",
		Locale:         "en",
		Subscription:   sub,
		Sink:           sink,
		Batcher:        b,
		Logger:         testLogger(),
		OnErrored:      func() { clearedThread = true },
	})

	state := session.Run(context.Background())

	assert.Equal(t, StateErrored, state)
	assert.Equal(t, 1, sink.errorCalls)
	assert.Equal(t, apperr.CodeProviderTimeout, sink.lastErrorCode)
	assert.Zero(t, sink.endCalls)
	assert.True(t, clearedThread)

	// The partial token was delivered and must survive the error.
	msgs, err := store.ListByConversation(context.Background(), testConvID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSessionChannelCloseWithoutTerminalIsEnd(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	b := newTestBatcher(t, store, batcher.Options{BatchSize: 100})

	sub := newFakeSubscription()
	close(sub.events)
	sink := &recordingSink{}
	session := NewStreamSession(StreamSessionParams{
		ConversationID: testConvID,
		Subscription:   sub,
		Sink:           sink,
		Batcher:        b,
		Logger:         testLogger(),
	})

	state := session.Run(context.Background())
	assert.Equal(t, StateEnded, state)
	assert.Equal(t, 1, sink.endCalls)
}

func TestSessionSurvivesExhaustedRetries(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	store.failWrites = 100
	b := newTestBatcher(t, store, batcher.Options{MaxRetries: 2})

	provider := &fakeProvider{replyTokens: []string{"x", "y"}}
	sink := &recordingSink{}

	done := make(chan SessionState, 1)
	go func() {
		state, _ := runSession(t, context.Background(), provider, sink, b)
		done <- state
	}()

	select {
	case state := <-done:
		assert.Equal(t, StateEnded, state, "session completes even when storage is down")
	case <-time.After(5 * time.Second):
		t.Fatal("session blocked on a permanently failing flush")
	}
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/providers"
	"github.com/ajeer/ajeer-backend/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres repositories with
// the same transactional semantics: sequence numbers advance atomically
// with message writes, and a scripted failure count simulates transient
// storage errors.
type memStore struct {
	mu         sync.Mutex
	convs      map[string]repository.Conversation
	msgs       map[string][]repository.Message
	counters   map[string]*repository.Counter
	failWrites int
	writeCalls int
	maxUser    int64
}

func newMemStore() *memStore {
	return &memStore{
		convs:    make(map[string]repository.Conversation),
		msgs:     make(map[string][]repository.Message),
		counters: make(map[string]*repository.Counter),
	}
}

func (m *memStore) Create(_ context.Context, conv repository.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = conv.CreatedAt
	m.convs[conv.ID] = conv
	m.counters[conv.ID] = &repository.Counter{ConversationID: conv.ID}
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*repository.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &conv, nil
}

func (m *memStore) WriteImmediate(_ context.Context, conversationID string, msg repository.NewMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter, ok := m.counters[conversationID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if msg.Author == "user" && m.maxUser > 0 && counter.UserMessageCount >= m.maxUser {
		return 0, repository.ErrMessageLimit
	}
	seq := m.appendLocked(conversationID, counter, msg)
	return seq, nil
}

func (m *memStore) WriteBatch(_ context.Context, conversationID string, msgs []repository.NewMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.failWrites > 0 {
		m.failWrites--
		return errors.New("transient storage failure")
	}
	counter, ok := m.counters[conversationID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, msg := range msgs {
		m.appendLocked(conversationID, counter, msg)
	}
	return nil
}

func (m *memStore) appendLocked(conversationID string, counter *repository.Counter, msg repository.NewMessage) int64 {
	counter.LastSeqID++
	if msg.Author == "user" {
		counter.UserMessageCount++
	}
	receivedAt := msg.ReceivedAtMs
	if receivedAt == 0 {
		receivedAt = time.Now().UnixMilli()
	}
	imageURL := sql.NullString{}
	if msg.ImageURL != "" {
		imageURL = sql.NullString{String: msg.ImageURL, Valid: true}
	}
	m.msgs[conversationID] = append(m.msgs[conversationID], repository.Message{
		ConversationID: conversationID,
		SeqID:          counter.LastSeqID,
		Author:         msg.Author,
		Content:        msg.Content,
		ImageURL:       imageURL,
		CreatedAt:      repository.FormatCreatedAt(receivedAt),
		ReceivedAtMs:   receivedAt,
	})
	return counter.LastSeqID
}

func (m *memStore) ListByConversation(_ context.Context, conversationID string) ([]repository.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.Message, len(m.msgs[conversationID]))
	copy(out, m.msgs[conversationID])
	return out, nil
}

func (m *memStore) Counter(_ context.Context, conversationID string) (*repository.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter, ok := m.counters[conversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *counter
	return &c, nil
}

// fakeProvider is a scriptable ThreadProvider.
type fakeProvider struct {
	mu          sync.Mutex
	threadSeq   int
	appended    []providers.ThreadMessage
	createErr   error
	appendErr   error
	replyTokens []string
	replyErr    error
}

func (p *fakeProvider) CreateThread(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.threadSeq++
	return fmt.Sprintf("thread_%06d", p.threadSeq), nil
}

func (p *fakeProvider) AppendMessage(_ context.Context, _ string, msg providers.ThreadMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.appendErr != nil {
		return p.appendErr
	}
	p.appended = append(p.appended, msg)
	return nil
}

func (p *fakeProvider) StreamReplies(ctx context.Context, _ string) (providers.Subscription, error) {
	sub := newFakeSubscription()
	go func() {
		defer close(sub.events)
		for _, token := range p.replyTokens {
			select {
			case sub.events <- providers.Event{Type: providers.EventDelta, Delta: token}:
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}
		}
		terminal := providers.Event{Type: providers.EventEnd}
		if p.replyErr != nil {
			terminal = providers.Event{Type: providers.EventError, Err: p.replyErr}
		}
		select {
		case sub.events <- terminal:
		case <-ctx.Done():
		case <-sub.done:
		}
	}()
	return sub, nil
}

type fakeSubscription struct {
	events   chan providers.Event
	done     chan struct{}
	stopOnce sync.Once
	stopped  bool
	mu       sync.Mutex
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan providers.Event),
		done:   make(chan struct{}),
	}
}

func (s *fakeSubscription) Events() <-chan providers.Event { return s.events }

func (s *fakeSubscription) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *fakeSubscription) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// recordingSink captures client-facing events; failTokensAfter > 0 makes
// Token start failing after that many successes, simulating a dead
// connection.
type recordingSink struct {
	mu              sync.Mutex
	tokens          []string
	endCalls        int
	errorCalls      int
	lastErrorCode   string
	failTokensAfter int
}

func (s *recordingSink) Token(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTokensAfter > 0 && len(s.tokens) >= s.failTokensAfter {
		return errors.New("connection reset")
	}
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordingSink) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endCalls++
	return nil
}

func (s *recordingSink) Error(safe apperr.SafeError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCalls++
	s.lastErrorCode = safe.Code
	return nil
}

func (s *recordingSink) tokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

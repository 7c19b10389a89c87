package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/providers"
)

func newThreadService(provider *fakeProvider, store *memStore) *ThreadService {
	return NewThreadService(provider, store, store, testLogger(), 1000, 50)
}

func TestCreateConversationRegisteredUser(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{}
	svc := newThreadService(provider, store)

	meta, err := svc.CreateConversation(context.Background(), "user-12345", "Hello there", "en", "req-1")
	require.NoError(t, err)

	assert.Equal(t, "user-12345", meta.UserID)
	assert.False(t, meta.IsGuest)
	assert.NotEmpty(t, meta.ConversationID)

	// The store record and the provider thread share the same identity.
	conv, err := store.Get(context.Background(), meta.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "user-12345", conv.UserID.String)

	// Initial message went both ways: provider append and durable write.
	require.Len(t, provider.appended, 1)
	assert.Equal(t, "user", provider.appended[0].Role)
	msgs, err := store.ListByConversation(context.Background(), meta.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].SeqID)
	assert.Equal(t, "Hello there", msgs[0].Content)
}

func TestCreateConversationGuestGetsGeneratedID(t *testing.T) {
	store := newMemStore()
	svc := newThreadService(&fakeProvider{}, store)

	meta, err := svc.CreateConversation(context.Background(), "", "Hi", "en", "req-1")
	require.NoError(t, err)

	assert.True(t, meta.IsGuest)
	assert.NotEmpty(t, meta.UserID)

	conv, err := store.Get(context.Background(), meta.ConversationID)
	require.NoError(t, err)
	assert.True(t, conv.IsGuest)
}

func TestCreateConversationValidation(t *testing.T) {
	store := newMemStore()
	svc := newThreadService(&fakeProvider{}, store)
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   string
		message  string
		wantCode string
	}{
		{"empty message", "user-12345", "   ", apperr.CodeFieldRequired},
		{"message too long", "user-12345", strings.Repeat("a", 1001), apperr.CodeMessageTooLong},
		{"user id too short", "u1", "Hello", apperr.CodeInvalidIDFormat},
		{"user id bad characters", "user id with spaces", "Hello", apperr.CodeInvalidIDFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateConversation(ctx, tt.userID, tt.message, "en", "req-1")
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}

	// Nothing was created on the provider or in the store.
	assert.Empty(t, store.convs)
}

func TestCreateConversationProviderFailureIsFatal(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{createErr: errors.New("upstream down")}
	svc := newThreadService(provider, store)

	_, err := svc.CreateConversation(context.Background(), "user-12345", "Hello", "en", "req-1")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeProviderError, appErr.Code)
	assert.Empty(t, store.convs)
}

func TestCreateConversationProviderTimeoutOnAppend(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{appendErr: providers.ErrTimeout}
	svc := newThreadService(provider, store)

	_, err := svc.CreateConversation(context.Background(), "user-12345", "Hello", "en", "req-1")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeProviderTimeout, appErr.Code)
}

func TestCreateConversationMessageIsTrimmed(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{}
	svc := newThreadService(provider, store)

	meta, err := svc.CreateConversation(context.Background(), "user-12345", "  padded  ", "en", "req-1")
	require.NoError(t, err)

	msgs, err := store.ListByConversation(context.Background(), meta.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "padded", msgs[0].Content)
}

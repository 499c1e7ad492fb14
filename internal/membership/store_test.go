package membership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLookup struct {
	accepted map[string]bool
	err      error
}

func (l stubLookup) IsAccepted(_ context.Context, activityID, userID string) (bool, error) {
	return l.accepted[activityID+"/"+userID], l.err
}

type mapCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMapCache() *mapCache { return &mapCache{keys: map[string]bool{}} }

func (m *mapCache) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if m.keys[k] {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mapCache) Set(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = true
	return redis.NewStatusResult("OK", nil)
}

func (m *mapCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if m.keys[k] {
			delete(m.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mapCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func setup(t *testing.T, opts ...Option) (*Store, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	st := mem.Store()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.Chats.CreateChat(ctx, &models.ChatRoom{
		ID: "chat-1", ActivityID: "act-1", Members: []string{"alice"}, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, st.Conversations.InsertConversation(ctx, models.NewConversation("conv-1", "bob", "alice", now)))
	return NewStore(st.Chats, st.Conversations, zap.NewNop().Sugar(), opts...), mem
}

func TestAuthorize(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	assert.NoError(t, s.Authorize(ctx, models.ChatRef("chat-1"), "alice"))
	assert.NoError(t, s.Authorize(ctx, models.ConversationRef("conv-1"), "bob"))

	err := s.Authorize(ctx, models.ChatRef("chat-1"), "mallory")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	err = s.Authorize(ctx, models.ConversationRef("conv-1"), "mallory")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	err = s.Authorize(ctx, models.ChatRef("missing"), "alice")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAddRemoveMember(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	changed, err := s.AddChatMember(ctx, "chat-1", "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.AddChatMember(ctx, "chat-1", "bob")
	require.NoError(t, err)
	assert.False(t, changed, "re-adding is a no-op")

	ok, err := s.IsChatMember(ctx, "chat-1", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	changed, err = s.RemoveChatMember(ctx, "chat-1", "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	ok, err = s.IsChatMember(ctx, "chat-1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := s.Members(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func TestParticipationRepair(t *testing.T) {
	s, mem := setup(t, WithParticipationLookup(stubLookup{accepted: map[string]bool{"act-1/carol": true}}))
	ctx := context.Background()

	chat, err := s.AuthorizeChat(ctx, "chat-1", "carol")
	require.NoError(t, err)
	assert.True(t, chat.HasMember("carol"))

	stored, err := mem.Store().Chats.GetChat(ctx, "chat-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "carol"}, stored.Members)

	_, err = s.AuthorizeChat(ctx, "chat-1", "dave")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestParticipationLookupFailureDenies(t *testing.T) {
	s, _ := setup(t, WithParticipationLookup(stubLookup{err: errors.New("activity service down")}))
	_, err := s.AuthorizeChat(context.Background(), "chat-1", "carol")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestCacheServesPositivesUntilForgotten(t *testing.T) {
	cache := newMapCache()
	s, mem := setup(t, WithCache(cache, "test", time.Minute))
	ctx := context.Background()
	room := models.ChatRef("chat-1")

	require.NoError(t, s.Authorize(ctx, room, "alice"))
	assert.Equal(t, 1, cache.len())

	require.NoError(t, mem.Store().Chats.DeleteChatCascade(ctx, "chat-1"))
	assert.NoError(t, s.Authorize(ctx, room, "alice"), "cached positive outlives the chat")

	s.ForgetRoom(ctx, room, []string{"alice", "bob"})
	assert.Zero(t, cache.len())
	err := s.Authorize(ctx, room, "alice")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRemoveMemberDropsCachedPositive(t *testing.T) {
	cache := newMapCache()
	s, _ := setup(t, WithCache(cache, "test", time.Minute))
	ctx := context.Background()

	_, err := s.AddChatMember(ctx, "chat-1", "bob")
	require.NoError(t, err)
	require.NoError(t, s.Authorize(ctx, models.ChatRef("chat-1"), "bob"))

	_, err = s.RemoveChatMember(ctx, "chat-1", "bob")
	require.NoError(t, err)
	err = s.Authorize(ctx, models.ChatRef("chat-1"), "bob")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

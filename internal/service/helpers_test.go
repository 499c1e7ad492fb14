package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/membership"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/notify"
	"github.com/fathima-sithara/sortie-chat/internal/repository"
	"github.com/fathima-sithara/sortie-chat/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sent struct {
	Room    models.RoomRef
	Event   string
	Payload any
	Except  string
}

type recordingHub struct {
	mu      sync.Mutex
	events  []sent
	evicted []string
}

func (h *recordingHub) Broadcast(room models.RoomRef, event string, payload any, except string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sent{Room: room, Event: event, Payload: payload, Except: except})
}

func (h *recordingHub) Evict(room models.RoomRef, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evicted = append(h.evicted, room.Key()+"/"+userID)
}

func (h *recordingHub) named(event string) []sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []sent
	for _, e := range h.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
	err error
}

func (n *recordingNotifier) Dispatch(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
	return n.err
}

// setCache is an in-memory stand-in for the Redis membership cache.
type setCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (c *setCache) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if c.keys[k] {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (c *setCache) Set(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = true
	return redis.NewStatusResult("OK", nil)
}

func (c *setCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.keys, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

type participations map[string]bool

func (p participations) IsAccepted(_ context.Context, activityID, userID string) (bool, error) {
	return p[activityID+"/"+userID], nil
}

// clock advances one millisecond per reading unless frozen.
type clock struct {
	mu     sync.Mutex
	now    time.Time
	frozen bool
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.frozen {
		c.now = c.now.Add(time.Millisecond)
	}
	return c.now
}

func (c *clock) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	*Services
	mem      *store.MemoryStore
	store    *repository.Store
	hub      *recordingHub
	notifier *recordingNotifier
	clock    *clock
	chat     *models.ChatRoom
}

// newFixture builds services over a memory store with one activity chat whose
// members are alice and bob. carol exists but is not a member.
func newFixture(t *testing.T, opts ...membership.Option) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	st := mem.Store()
	for _, u := range []models.UserSummary{
		{ID: "alice", FirstName: "Alice"},
		{ID: "bob", FirstName: "Bob"},
		{ID: "carol", FirstName: "Carol"},
	} {
		mem.PutUser(u)
	}
	log := zap.NewNop().Sugar()
	f := &fixture{
		mem:      mem,
		store:    st,
		hub:      &recordingHub{},
		notifier: &recordingNotifier{},
		clock:    &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.Services = New(Deps{
		Store:    st,
		Members:  membership.NewStore(st.Chats, st.Conversations, log, opts...),
		Hub:      f.hub,
		Notifier: f.notifier,
		Log:      log,
		Now:      f.clock.Now,
	})

	chat, err := f.Chats.CreateForActivity(context.Background(), CreateChatInput{ActivityID: "act-1", Name: "Hike", CreatorID: "alice"})
	require.NoError(t, err)
	_, err = f.store.Chats.AddMember(context.Background(), chat.ID, "bob")
	require.NoError(t, err)
	chat.Members = append(chat.Members, "bob")
	f.chat = chat
	return f
}

func (f *fixture) room() models.RoomRef { return models.ChatRef(f.chat.ID) }

func (f *fixture) send(t *testing.T, room models.RoomRef, from, text string) *models.Message {
	t.Helper()
	m, err := f.Messages.Send(context.Background(), room, from, SendInput{Type: models.MessageText, Content: text})
	require.NoError(t, err)
	return m
}

func ptr[T any](v T) *T { return &v }

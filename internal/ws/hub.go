package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/service"
	"go.uber.org/zap"
)

// Frame is the envelope for every server and client event.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

// Relay ships room traffic to the other instances.
type Relay interface {
	Publish(ctx context.Context, room, except string, frame []byte) error
	PublishEvict(ctx context.Context, room, userID string) error
}

// Hub manages room subscriptions of the sessions connected to this instance.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Session]struct{} // room key -> sessions
	sessions map[*Session]map[string]struct{} // session -> room keys
	relay    Relay
	log      *zap.SugaredLogger
	timeout  time.Duration
	onEvict  func(key string, s *Session)
}

type HubOption func(*Hub)

// WithRelay fans every broadcast out to other instances as well.
func WithRelay(r Relay, timeout time.Duration) HubOption {
	return func(h *Hub) {
		h.relay = r
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

func NewHub(log *zap.SugaredLogger, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:    make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]map[string]struct{}),
		log:      log,
		timeout:  2 * time.Second,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe adds s to room. It reports false when s was already there.
func (h *Hub) Subscribe(room models.RoomRef, s *Session) bool {
	key := room.Key()
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[key]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[key] = members
	}
	if _, ok := members[s]; ok {
		return false
	}
	members[s] = struct{}{}
	if h.sessions[s] == nil {
		h.sessions[s] = make(map[string]struct{})
	}
	h.sessions[s][key] = struct{}{}
	return true
}

// Unsubscribe removes s from room. It reports false when s was not there.
func (h *Hub) Unsubscribe(room models.RoomRef, s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remove(room.Key(), s)
}

func (h *Hub) remove(key string, s *Session) bool {
	members, ok := h.rooms[key]
	if !ok {
		return false
	}
	if _, ok := members[s]; !ok {
		return false
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, key)
	}
	if joined := h.sessions[s]; joined != nil {
		delete(joined, key)
		if len(joined) == 0 {
			delete(h.sessions, s)
		}
	}
	return true
}

// UnsubscribeAll drops every subscription of s and returns the room keys it left.
func (h *Hub) UnsubscribeAll(s *Session) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var left []string
	for key := range h.sessions[s] {
		left = append(left, key)
	}
	for _, key := range left {
		h.remove(key, s)
	}
	sort.Strings(left)
	return left
}

// Rooms lists the room keys s is subscribed to.
func (h *Hub) Rooms(s *Session) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions[s]))
	for key := range h.sessions[s] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Online lists the distinct users subscribed to room on this instance.
func (h *Hub) Online(room models.RoomRef) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	for s := range h.rooms[room.Key()] {
		if id := s.UserID(); id != "" {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Broadcast sends event to every session in room except those of exceptUser,
// locally and through the relay.
func (h *Hub) Broadcast(room models.RoomRef, event string, payload any, exceptUser string) {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.Errorw("encode broadcast failed", "room", room.Key(), "event", event, "err", err)
		return
	}
	h.deliver(room.Key(), exceptUser, frame)
	if h.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.relay.Publish(ctx, room.Key(), exceptUser, frame); err != nil {
		h.log.Warnw("relay publish failed", "room", room.Key(), "event", event, "err", err)
	}
}

// Evict unsubscribes every session of userID from room and tells them so.
func (h *Hub) Evict(room models.RoomRef, userID string) {
	h.evict(room.Key(), room.ID, userID)
	if h.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.relay.PublishEvict(ctx, room.Key(), userID); err != nil {
		h.log.Warnw("relay evict failed", "room", room.Key(), "user_id", userID, "err", err)
	}
}

// DeliverRemote hands a frame relayed from another instance to local sessions.
func (h *Hub) DeliverRemote(room, except string, frame []byte) {
	h.deliver(room, except, frame)
}

func (h *Hub) EvictRemote(room, userID string) {
	ref, ok := models.ParseRoomKey(room)
	if !ok {
		h.log.Warnw("relayed eviction for unknown room key", "room", room)
		return
	}
	h.evict(room, ref.ID, userID)
}

func (h *Hub) evict(key, roomID, userID string) {
	h.mu.Lock()
	var gone []*Session
	for s := range h.rooms[key] {
		if s.UserID() == userID {
			gone = append(gone, s)
		}
	}
	for _, s := range gone {
		h.remove(key, s)
	}
	h.mu.Unlock()

	if len(gone) == 0 {
		return
	}
	frame, _ := encode(service.EventLeftRoom, roomPayload{RoomID: roomID})
	for _, s := range gone {
		s.Send(frame)
		if h.onEvict != nil {
			h.onEvict(key, s)
		}
	}
}

func (h *Hub) deliver(key, except string, frame []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[key]))
	for s := range h.rooms[key] {
		if except != "" && s.UserID() == except {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.Send(frame)
	}
}

package service

import (
	"context"
	"sync"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/membership"
	"github.com/fathima-sithara/sortie-chat/internal/metrics"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/notify"
	"github.com/fathima-sithara/sortie-chat/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Server to client event names.
const (
	EventConnected      = "connected"
	EventJoinedRoom     = "joinedRoom"
	EventLeftRoom       = "leftRoom"
	EventReceiveMessage = "receiveMessage"
	EventMessageSent    = "messageSent"
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventUserTyping     = "userTyping"
	EventMessageRead    = "messageRead"
	EventMessageDeleted = "messageDeleted"
	EventPollVoted      = "poll.voted"
	EventPollClosed     = "poll.closed"
	EventOnlineUsers    = "onlineUsers"
	EventError          = "error"
)

// Broadcaster pushes events to the sessions subscribed to a room.
type Broadcaster interface {
	// Broadcast sends event to every subscriber of room except sessions of exceptUser.
	Broadcast(room models.RoomRef, event string, payload any, exceptUser string)
	// Evict unsubscribes every session of userID from room.
	Evict(room models.RoomRef, userID string)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(models.RoomRef, string, any, string) {}
func (nopBroadcaster) Evict(models.RoomRef, string)                  {}

// Deps carries what the services share.
type Deps struct {
	Store         *repository.Store
	Members       *membership.Store
	Hub           Broadcaster
	Notifier      notify.Dispatcher
	Log           *zap.SugaredLogger
	Now           func() time.Time
	NotifyTimeout time.Duration

	clock *messageClock
}

func (d *Deps) defaults() {
	if d.Hub == nil {
		d.Hub = nopBroadcaster{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NotifyTimeout <= 0 {
		d.NotifyTimeout = 3 * time.Second
	}
	if d.clock == nil {
		d.clock = &messageClock{}
	}
}

// now returns the clock truncated to the millisecond precision stored.
func (d *Deps) now() time.Time {
	return d.Now().UTC().Truncate(time.Millisecond)
}

// messageClock issues message ids and timestamps in send order. Ids are
// UUIDv7, which google/uuid keeps strictly increasing within the process,
// and timestamps never run backwards, so (created_at, id) orders messages
// the way they were sent even when the clock reads the same millisecond.
type messageClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *messageClock) next(now time.Time) (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return uuid.Must(uuid.NewV7()).String(), now
}

// stamp returns the id and creation time of a new message.
func (d *Deps) stamp() (string, time.Time) {
	return d.clock.next(d.now())
}

// notify hands n to the dispatcher detached from the caller's cancellation.
// Failures never fail the originating operation.
func (d *Deps) notify(ctx context.Context, n notify.Notification) {
	if len(n.UserIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.NotifyTimeout)
	defer cancel()
	if err := d.Notifier.Dispatch(ctx, n); err != nil {
		metrics.NotifyFailures.Inc()
		d.Log.Warnw("notification dispatch failed", "kind", n.Kind, "recipients", len(n.UserIDs), "err", err)
	}
}

// Services groups the domain services built over one Deps.
type Services struct {
	Messages      *MessageService
	Chats         *ChatService
	Conversations *ConversationService
	Polls         *PollService
}

func New(d Deps) *Services {
	d.defaults()
	deps := &d
	msgs := &MessageService{deps: deps}
	return &Services{
		Messages:      msgs,
		Chats:         &ChatService{deps: deps, messages: msgs},
		Conversations: &ConversationService{deps: deps},
		Polls:         &PollService{deps: deps, messages: msgs, maxAttempts: 5},
	}
}

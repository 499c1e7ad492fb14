package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type Kind string

const (
	KindChatMessage   Kind = "chat_message"
	KindDirectMessage Kind = "direct_message"
	KindPoll          Kind = "poll"
)

// Notification is a push request for the notification service.
type Notification struct {
	Kind      Kind              `json:"kind"`
	UserIDs   []string          `json:"userIds"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Dispatcher hands notifications to the push pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

type Nop struct{}

func (Nop) Dispatch(context.Context, Notification) error { return nil }

// Publisher is the transport a KafkaDispatcher writes to.
type Publisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

// BreakerDispatcher publishes through a circuit breaker so a broken push
// pipeline fails fast instead of stalling message sends.
type BreakerDispatcher struct {
	pub Publisher
	cb  *gobreaker.CircuitBreaker
	log *zap.SugaredLogger
}

func NewBreakerDispatcher(pub Publisher, maxFailures uint32, openFor time.Duration, log *zap.SugaredLogger) *BreakerDispatcher {
	st := gobreaker.Settings{
		Name:        "notifications",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerDispatcher{pub: pub, cb: gobreaker.NewCircuitBreaker(st), log: log}
}

var ErrNoRecipients = errors.New("notification has no recipients")

func (d *BreakerDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if len(n.UserIDs) == 0 {
		return ErrNoRecipients
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := d.cb.Execute(func() (interface{}, error) {
		return nil, d.pub.Publish(ctx, string(n.Kind), n)
	})
	return err
}

func (d *BreakerDispatcher) State() gobreaker.State { return d.cb.State() }

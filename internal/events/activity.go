package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/service"
	"go.uber.org/zap"
)

const (
	ActivityCreated      = "activity.created"
	ActivityDeleted      = "activity.deleted"
	ParticipationChanged = "participation.changed"
)

// ActivityEvent is published by the activity service on its events topic.
type ActivityEvent struct {
	Type       string    `json:"type"`
	ActivityID string    `json:"activity_id"`
	Title      string    `json:"title,omitempty"`
	Avatar     string    `json:"avatar,omitempty"`
	CreatorID  string    `json:"creator_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ChatLifecycle is what activity events drive.
type ChatLifecycle interface {
	CreateForActivity(ctx context.Context, in service.CreateChatInput) (*models.ChatRoom, error)
	DeleteForActivity(ctx context.Context, activityID string) error
	ApplyParticipation(ctx context.Context, activityID, userID string, status service.ParticipationStatus) (bool, error)
}

// ActivityHandler keeps activity chats in step with the activity service.
// Every event is safe to apply twice.
type ActivityHandler struct {
	chats ChatLifecycle
	log   *zap.SugaredLogger
}

func NewActivityHandler(chats ChatLifecycle, log *zap.SugaredLogger) *ActivityHandler {
	return &ActivityHandler{chats: chats, log: log}
}

// Handle matches kafka.Handler.
func (h *ActivityHandler) Handle(ctx context.Context, _, value []byte) error {
	var ev ActivityEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("decode activity event: %w", err)
	}
	if ev.ActivityID == "" {
		return fmt.Errorf("activity event %q without activity_id", ev.Type)
	}

	switch ev.Type {
	case ActivityCreated:
		chat, err := h.chats.CreateForActivity(ctx, service.CreateChatInput{
			ActivityID: ev.ActivityID,
			Name:       ev.Title,
			Avatar:     ev.Avatar,
			CreatorID:  ev.CreatorID,
		})
		if err != nil {
			return err
		}
		h.log.Debugw("activity chat ready", "activity_id", ev.ActivityID, "chat_id", chat.ID)
		return nil

	case ActivityDeleted:
		err := h.chats.DeleteForActivity(ctx, ev.ActivityID)
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil
		}
		return err

	case ParticipationChanged:
		if ev.UserID == "" {
			return fmt.Errorf("participation event for %s without user_id", ev.ActivityID)
		}
		changed, err := h.chats.ApplyParticipation(ctx, ev.ActivityID, ev.UserID, service.ParticipationStatus(ev.Status))
		if apperr.KindOf(err) == apperr.KindNotFound {
			h.log.Warnw("participation for unknown activity chat", "activity_id", ev.ActivityID, "user_id", ev.UserID)
			return nil
		}
		if err != nil {
			return err
		}
		h.log.Debugw("participation applied", "activity_id", ev.ActivityID, "user_id", ev.UserID, "status", ev.Status, "changed", changed)
		return nil
	}

	h.log.Debugw("ignoring activity event", "type", ev.Type)
	return nil
}

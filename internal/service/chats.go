package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/google/uuid"
)

type ParticipationStatus string

const (
	ParticipationAccepted  ParticipationStatus = "accepted"
	ParticipationPending   ParticipationStatus = "pending"
	ParticipationRejected  ParticipationStatus = "rejected"
	ParticipationCancelled ParticipationStatus = "cancelled"
	ParticipationLeft      ParticipationStatus = "left"
	ParticipationRemoved   ParticipationStatus = "removed"
)

func (p ParticipationStatus) Valid() bool {
	switch p {
	case ParticipationAccepted, ParticipationPending, ParticipationRejected,
		ParticipationCancelled, ParticipationLeft, ParticipationRemoved:
		return true
	}
	return false
}

type MemberPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	Name   string `json:"name,omitempty"`
}

type CreateChatInput struct {
	ActivityID string `json:"activityId"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	CreatorID  string `json:"creatorId,omitempty"`
}

// ChatService owns the activity bound group chats.
type ChatService struct {
	deps     *Deps
	messages *MessageService
}

// CreateForActivity returns the activity's chat, creating it on first call.
// The creator, when given, becomes the first member.
func (s *ChatService) CreateForActivity(ctx context.Context, in CreateChatInput) (*models.ChatRoom, error) {
	in.ActivityID = strings.TrimSpace(in.ActivityID)
	if in.ActivityID == "" {
		return nil, apperr.Validation("activityId is required")
	}
	if in.CreatorID != "" && !models.ValidUserID(in.CreatorID) {
		return nil, apperr.Validation("invalid creatorId")
	}
	if existing, err := s.deps.Store.Chats.GetChatByActivity(ctx, in.ActivityID); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.FromStore(err, "chat")
	}

	now := s.deps.now()
	chat := &models.ChatRoom{
		ID:         uuid.NewString(),
		ActivityID: in.ActivityID,
		Name:       in.Name,
		Avatar:     in.Avatar,
		Members:    []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.CreatorID != "" {
		chat.Members = append(chat.Members, in.CreatorID)
	}
	err := s.deps.Store.Chats.CreateChat(ctx, chat)
	if errors.Is(err, apperr.ErrConflict) {
		// lost the race against another creator
		existing, gerr := s.deps.Store.Chats.GetChatByActivity(ctx, in.ActivityID)
		return existing, apperr.FromStore(gerr, "chat")
	}
	if err != nil {
		return nil, apperr.FromStore(err, "chat")
	}
	s.deps.Log.Infow("chat created", "chat_id", chat.ID, "activity_id", chat.ActivityID)
	return chat, nil
}

func (s *ChatService) Get(ctx context.Context, chatID, requester string) (*models.ChatRoom, error) {
	return s.deps.Members.AuthorizeChat(ctx, chatID, requester)
}

func (s *ChatService) GetByActivity(ctx context.Context, activityID, requester string) (*models.ChatRoom, error) {
	chat, err := s.deps.Store.Chats.GetChatByActivity(ctx, activityID)
	if err != nil {
		return nil, apperr.FromStore(err, "chat")
	}
	return s.deps.Members.AuthorizeChat(ctx, chat.ID, requester)
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]*models.ChatRoom, error) {
	chats, err := s.deps.Store.Chats.ListChatsForUser(ctx, userID)
	return chats, apperr.FromStore(err, "chats")
}

// ListMembers returns member profiles; members without a profile come back
// with only their id.
func (s *ChatService) ListMembers(ctx context.Context, chatID, requester string) ([]models.UserSummary, error) {
	chat, err := s.deps.Members.AuthorizeChat(ctx, chatID, requester)
	if err != nil {
		return nil, err
	}
	profiles := s.profiles(ctx, chat.Members)
	out := make([]models.UserSummary, 0, len(chat.Members))
	for _, id := range chat.Members {
		out = append(out, profiles[id])
	}
	return out, nil
}

func (s *ChatService) profiles(ctx context.Context, ids []string) map[string]models.UserSummary {
	out := make(map[string]models.UserSummary, len(ids))
	if s.deps.Store.Users != nil {
		found, err := s.deps.Store.Users.Profiles(ctx, ids)
		if err != nil {
			s.deps.Log.Warnw("profile lookup failed", "err", err)
		}
		for id, u := range found {
			out[id] = u
		}
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = models.UserSummary{ID: id}
		}
	}
	return out
}

// DeleteForActivity removes the chat with its history and polls, and drops
// every live subscription to it.
func (s *ChatService) DeleteForActivity(ctx context.Context, activityID string) error {
	chat, err := s.deps.Store.Chats.GetChatByActivity(ctx, activityID)
	if err != nil {
		return apperr.FromStore(err, "chat")
	}
	if err := s.deps.Store.Chats.DeleteChatCascade(ctx, chat.ID); err != nil {
		return apperr.FromStore(err, "chat")
	}
	room := models.ChatRef(chat.ID)
	s.deps.Members.ForgetRoom(ctx, room, chat.Members)
	for _, id := range chat.Members {
		s.deps.Hub.Evict(room, id)
	}
	s.deps.Log.Infow("chat deleted", "chat_id", chat.ID, "activity_id", activityID)
	return nil
}

// VerifyParticipation checks a requested transition against the activity
// service's participation record when one is available. Accepting a user the
// record does not accept, or removing one it still accepts, is a conflict.
func (s *ChatService) VerifyParticipation(ctx context.Context, activityID, userID string, status ParticipationStatus) error {
	if !models.ValidUserID(userID) {
		return apperr.Validation("invalid userId")
	}
	if !status.Valid() {
		return apperr.Validation("unknown participation status %q", status)
	}
	dir := s.deps.Store.Participations
	if dir == nil {
		return nil
	}
	accepted, err := dir.IsAccepted(ctx, activityID, userID)
	if err != nil {
		return apperr.Transient(err, "participation")
	}
	if accepted != (status == ParticipationAccepted) {
		return apperr.Conflict("participation of %s in %s is not %s", userID, activityID, status)
	}
	return nil
}

// ApplyParticipation mirrors an activity participation transition into the
// chat member set. It reports whether membership changed.
func (s *ChatService) ApplyParticipation(ctx context.Context, activityID, userID string, status ParticipationStatus) (bool, error) {
	if activityID == "" || userID == "" {
		return false, apperr.Validation("activityId and userId are required")
	}
	if !models.ValidUserID(userID) {
		return false, apperr.Validation("invalid userId")
	}
	chat, err := s.deps.Store.Chats.GetChatByActivity(ctx, activityID)
	if err != nil {
		return false, apperr.FromStore(err, "chat")
	}
	room := models.ChatRef(chat.ID)
	name := s.profiles(ctx, []string{userID})[userID].DisplayName()

	if status == ParticipationAccepted {
		changed, err := s.deps.Members.AddChatMember(ctx, chat.ID, userID)
		if err != nil || !changed {
			return false, err
		}
		if _, err := s.messages.PostSystem(ctx, chat.ID, fmt.Sprintf("%s joined the chat", name)); err != nil {
			s.deps.Log.Warnw("system message failed", "chat_id", chat.ID, "err", err)
		}
		s.deps.Hub.Broadcast(room, EventUserJoined, MemberPayload{UserID: userID, RoomID: chat.ID, Name: name}, "")
		return true, nil
	}

	changed, err := s.deps.Members.RemoveChatMember(ctx, chat.ID, userID)
	if err != nil || !changed {
		return false, err
	}
	s.deps.Hub.Evict(room, userID)
	if _, err := s.messages.PostSystem(ctx, chat.ID, fmt.Sprintf("%s left the chat", name)); err != nil {
		s.deps.Log.Warnw("system message failed", "chat_id", chat.ID, "err", err)
	}
	s.deps.Hub.Broadcast(room, EventUserLeft, MemberPayload{UserID: userID, RoomID: chat.ID, Name: name}, "")
	return true, nil
}

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/google/uuid"
)

// ConversationService manages private 1:1 conversations.
type ConversationService struct {
	deps *Deps
}

// Resolve returns the single conversation between a and b, creating it on
// first contact. Concurrent callers for the same pair all get the same row:
// the pair key is unique, so a losing insert re-reads the winner.
func (s *ConversationService) Resolve(ctx context.Context, a, b string) (*models.Conversation, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, apperr.Validation("both participants are required")
	}
	if !models.ValidUserID(a) || !models.ValidUserID(b) {
		return nil, apperr.Validation("invalid user id")
	}
	if a == b {
		return nil, apperr.Validation("cannot start a conversation with yourself")
	}
	key := models.PairKey(a, b)
	repo := s.deps.Store.Conversations

	conv, err := repo.FindByPair(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.FromStore(err, "conversation")
	}

	conv = models.NewConversation(uuid.NewString(), a, b, s.deps.now())
	err = repo.InsertConversation(ctx, conv)
	if errors.Is(err, apperr.ErrConflict) {
		existing, ferr := repo.FindByPair(ctx, key)
		if ferr != nil {
			return nil, apperr.FromStore(ferr, "conversation")
		}
		return existing, nil
	}
	if err != nil {
		return nil, apperr.FromStore(err, "conversation")
	}
	s.deps.Log.Infow("conversation created", "conversation_id", conv.ID, "pair", key)
	return conv, nil
}

func (s *ConversationService) Get(ctx context.Context, id, requester string) (*models.Conversation, error) {
	return s.deps.Members.AuthorizeConversation(ctx, id, requester)
}

// List returns the user's conversations, newest activity first, skipping the
// ones the user has hidden.
func (s *ConversationService) List(ctx context.Context, userID string) ([]*models.Conversation, error) {
	all, err := s.deps.Store.Conversations.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.FromStore(err, "conversations")
	}
	out := make([]*models.Conversation, 0, len(all))
	for _, c := range all {
		if !c.DeletedBy[userID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// MarkAllRead resets the caller's unread counter.
func (s *ConversationService) MarkAllRead(ctx context.Context, id, userID string) error {
	if _, err := s.deps.Members.AuthorizeConversation(ctx, id, userID); err != nil {
		return err
	}
	return apperr.FromStore(s.deps.Store.Conversations.MarkAllRead(ctx, id, userID), "conversation")
}

func (s *ConversationService) SetMuted(ctx context.Context, id, userID string, muted bool) error {
	if _, err := s.deps.Members.AuthorizeConversation(ctx, id, userID); err != nil {
		return err
	}
	return apperr.FromStore(s.deps.Store.Conversations.SetMuted(ctx, id, userID, muted), "conversation")
}

// Hide removes the conversation from the caller's list until the next
// incoming message. History is kept.
func (s *ConversationService) Hide(ctx context.Context, id, userID string) error {
	if _, err := s.deps.Members.AuthorizeConversation(ctx, id, userID); err != nil {
		return err
	}
	return apperr.FromStore(s.deps.Store.Conversations.SetHidden(ctx, id, userID, true), "conversation")
}

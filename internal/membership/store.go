package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ParticipationLookup asks the activity service whether a user's
// participation in an activity is currently accepted.
type ParticipationLookup interface {
	IsAccepted(ctx context.Context, activityID, userID string) (bool, error)
}

// Cache is the slice of the Redis client the membership cache uses.
type Cache interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store answers "may user U act in room R". Chat membership is the persisted
// member set; conversation membership is the fixed participant pair.
// Positive answers are cached in Redis when a client is configured.
type Store struct {
	chats  repository.ChatRepository
	convs  repository.ConversationRepository
	lookup ParticipationLookup
	rdb    Cache
	prefix string
	ttl    time.Duration
	log    *zap.SugaredLogger
}

type Option func(*Store)

func WithCache(rdb Cache, prefix string, ttl time.Duration) Option {
	return func(s *Store) {
		s.rdb = rdb
		s.prefix = prefix
		s.ttl = ttl
	}
}

func WithParticipationLookup(l ParticipationLookup) Option {
	return func(s *Store) { s.lookup = l }
}

func NewStore(chats repository.ChatRepository, convs repository.ConversationRepository, log *zap.SugaredLogger, opts ...Option) *Store {
	s := &Store{chats: chats, convs: convs, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) cacheKey(room models.RoomRef, userID string) string {
	return fmt.Sprintf("%s:membership:%s:%s:%s", s.prefix, room.Kind, room.ID, userID)
}

func (s *Store) cached(ctx context.Context, room models.RoomRef, userID string) bool {
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, s.cacheKey(room, userID)).Result()
	if err != nil {
		s.log.Warnw("membership cache read failed", "room", room.Key(), "err", err)
		return false
	}
	return n > 0
}

func (s *Store) remember(ctx context.Context, room models.RoomRef, userID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, s.cacheKey(room, userID), 1, s.ttl).Err(); err != nil {
		s.log.Warnw("membership cache write failed", "room", room.Key(), "err", err)
	}
}

func (s *Store) forget(ctx context.Context, room models.RoomRef, userID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, s.cacheKey(room, userID)).Err(); err != nil {
		s.log.Warnw("membership cache invalidate failed", "room", room.Key(), "err", err)
	}
}

// ForgetRoom drops the cached positives of userIDs for room. Called when the
// room itself goes away.
func (s *Store) ForgetRoom(ctx context.Context, room models.RoomRef, userIDs []string) {
	if s.rdb == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, s.cacheKey(room, id))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.log.Warnw("membership cache invalidate failed", "room", room.Key(), "err", err)
	}
}

// Authorize checks membership of any room kind. Cached positives skip the store.
func (s *Store) Authorize(ctx context.Context, room models.RoomRef, userID string) error {
	if s.cached(ctx, room, userID) {
		return nil
	}
	var err error
	switch room.Kind {
	case models.RoomConversation:
		_, err = s.AuthorizeConversation(ctx, room.ID, userID)
	default:
		_, err = s.AuthorizeChat(ctx, room.ID, userID)
	}
	return err
}

// AuthorizeChat loads the chat and verifies userID is a member.
func (s *Store) AuthorizeChat(ctx context.Context, chatID, userID string) (*models.ChatRoom, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, apperr.FromStore(err, "chat")
	}
	if chat.HasMember(userID) {
		s.remember(ctx, models.ChatRef(chatID), userID)
		return chat, nil
	}
	if s.repair(ctx, chat, userID) {
		return chat, nil
	}
	return nil, apperr.Authorization("not a member of this chat")
}

// repair consults the activity service when the persisted set lacks the
// user, and writes an accepted participation back.
func (s *Store) repair(ctx context.Context, chat *models.ChatRoom, userID string) bool {
	if s.lookup == nil {
		return false
	}
	ok, err := s.lookup.IsAccepted(ctx, chat.ActivityID, userID)
	if err != nil {
		s.log.Warnw("participation lookup failed", "activity_id", chat.ActivityID, "user_id", userID, "err", err)
		return false
	}
	if !ok {
		return false
	}
	if _, err := s.chats.AddMember(ctx, chat.ID, userID); err != nil {
		s.log.Warnw("membership repair failed", "chat_id", chat.ID, "user_id", userID, "err", err)
		return false
	}
	chat.Members = append(chat.Members, userID)
	s.remember(ctx, models.ChatRef(chat.ID), userID)
	s.log.Infow("membership repaired from participation", "chat_id", chat.ID, "user_id", userID)
	return true
}

func (s *Store) AuthorizeConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.FromStore(err, "conversation")
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Authorization("not a participant of this conversation")
	}
	s.remember(ctx, models.ConversationRef(conversationID), userID)
	return conv, nil
}

func (s *Store) IsChatMember(ctx context.Context, chatID, userID string) (bool, error) {
	return s.is(s.Authorize(ctx, models.ChatRef(chatID), userID))
}

func (s *Store) IsConversationMember(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.is(s.Authorize(ctx, models.ConversationRef(conversationID), userID))
}

func (s *Store) is(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperr.ErrForbidden) {
		return false, nil
	}
	return false, err
}

// AddChatMember persists the membership. It reports whether it changed.
func (s *Store) AddChatMember(ctx context.Context, chatID, userID string) (bool, error) {
	changed, err := s.chats.AddMember(ctx, chatID, userID)
	if err != nil {
		return false, apperr.FromStore(err, "chat")
	}
	return changed, nil
}

// RemoveChatMember revokes the membership and drops any cached positive.
func (s *Store) RemoveChatMember(ctx context.Context, chatID, userID string) (bool, error) {
	changed, err := s.chats.RemoveMember(ctx, chatID, userID)
	if err != nil {
		return false, apperr.FromStore(err, "chat")
	}
	s.forget(ctx, models.ChatRef(chatID), userID)
	return changed, nil
}

// Members lists the persisted members of a chat.
func (s *Store) Members(ctx context.Context, chatID string) ([]string, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, apperr.FromStore(err, "chat")
	}
	return chat.Members, nil
}

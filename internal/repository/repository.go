package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound        = apperr.ErrNotFound
	ErrDuplicate       = fmt.Errorf("duplicate key: %w", apperr.ErrConflict)
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidID       = fmt.Errorf("invalid id: %w", apperr.ErrInvalid)
	ErrUnavailable     = apperr.ErrUnavailable
)

type ChatRepository interface {
	CreateChat(ctx context.Context, c *models.ChatRoom) error
	GetChat(ctx context.Context, id string) (*models.ChatRoom, error)
	GetChatByActivity(ctx context.Context, activityID string) (*models.ChatRoom, error)
	ListChatsForUser(ctx context.Context, userID string) ([]*models.ChatRoom, error)
	// AddMember and RemoveMember report whether the set actually changed.
	AddMember(ctx context.Context, chatID, userID string) (bool, error)
	RemoveMember(ctx context.Context, chatID, userID string) (bool, error)
	// AppendMessage stores m and points the room's last message at it unless
	// the pointer already holds a message that sorts after m.
	AppendMessage(ctx context.Context, m *models.Message) error
	// SetLastMessage points the room at m, or clears the pointer when m is nil.
	SetLastMessage(ctx context.Context, chatID string, m *models.Message) error
	// DeleteChatCascade removes the room with its messages and polls.
	DeleteChatCascade(ctx context.Context, chatID string) error
}

type ConversationRepository interface {
	// InsertConversation fails with ErrDuplicate if the pair already exists.
	InsertConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	FindByPair(ctx context.Context, pairKey string) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	// AppendMessage stores m, advances the conversation's last message
	// pointer like ChatRepository.AppendMessage, bumps the recipient's unread
	// counter and clears the recipient's hidden flag.
	AppendMessage(ctx context.Context, m *models.Message, recipient string) error
	SetLastMessage(ctx context.Context, conversationID string, m *models.Message) error
	MarkAllRead(ctx context.Context, conversationID, userID string) error
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
	SetHidden(ctx context.Context, conversationID, userID string, hidden bool) error
}

// MessageRepository reads and updates one message collection. Writes that
// create messages go through the owning room repository.
type MessageRepository interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListMessages returns up to limit active messages of roomID that sort
	// strictly before the cursor (nil for newest), newest first.
	ListMessages(ctx context.Context, roomID string, before *models.Message, limit int) ([]*models.Message, error)
	CountMessages(ctx context.Context, roomID string) (int64, error)
	LatestActive(ctx context.Context, roomID string) (*models.Message, error)
	AddReader(ctx context.Context, messageID, userID string) error
	MarkRead(ctx context.Context, messageID string) error
	SoftDelete(ctx context.Context, messageID string) error
}

type PollRepository interface {
	InsertPoll(ctx context.Context, p *models.Poll) error
	GetPoll(ctx context.Context, id string) (*models.Poll, error)
	ListPolls(ctx context.Context, chatID string, skip, limit int) ([]*models.Poll, int64, error)
	// UpdatePoll replaces p if the stored version still equals expected,
	// otherwise ErrVersionConflict.
	UpdatePoll(ctx context.Context, p *models.Poll, expected int64) error
	DeletePoll(ctx context.Context, id string) error
}

// UserDirectory resolves public profiles owned by the user service.
type UserDirectory interface {
	Profiles(ctx context.Context, ids []string) (map[string]models.UserSummary, error)
}

// ParticipationDirectory answers whether a user's participation in an
// activity is accepted. The activity service owns the data.
type ParticipationDirectory interface {
	IsAccepted(ctx context.Context, activityID, userID string) (bool, error)
}

// Store bundles every repository a service instance needs.
type Store struct {
	Chats          ChatRepository
	Conversations  ConversationRepository
	Messages       MessageRepository
	Direct         MessageRepository
	Polls          PollRepository
	Users          UserDirectory
	Participations ParticipationDirectory // nil when unavailable
}

// MessagesFor picks the collection that holds messages of the given room kind.
func (s *Store) MessagesFor(kind models.RoomKind) MessageRepository {
	if kind == models.RoomConversation {
		return s.Direct
	}
	return s.Messages
}

func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	case mongo.IsTimeout(err), mongo.IsNetworkError(err),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

package models

import (
	"strings"
	"time"
)

type RoomKind string

const (
	RoomChat         RoomKind = "chat"
	RoomConversation RoomKind = "conversation"
)

// ParseRoomKind maps a client supplied room type; empty means a group chat.
func ParseRoomKind(s string) (RoomKind, bool) {
	switch s {
	case "", string(RoomChat):
		return RoomChat, true
	case string(RoomConversation):
		return RoomConversation, true
	}
	return "", false
}

// RoomRef addresses a chat room or a conversation.
type RoomRef struct {
	Kind RoomKind
	ID   string
}

func ChatRef(id string) RoomRef         { return RoomRef{Kind: RoomChat, ID: id} }
func ConversationRef(id string) RoomRef { return RoomRef{Kind: RoomConversation, ID: id} }

// Key is the hub / presence key of the room.
func (r RoomRef) Key() string { return string(r.Kind) + ":" + r.ID }

// ParseRoomKey is the inverse of Key.
func ParseRoomKey(key string) (RoomRef, bool) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || kind == "" || id == "" {
		return RoomRef{}, false
	}
	k, ok := ParseRoomKind(kind)
	return RoomRef{Kind: k, ID: id}, ok
}

type ChatRoom struct {
	ID            string    `bson:"_id" json:"id"`
	ActivityID    string    `bson:"activity_id" json:"activityId"`
	Name          string    `bson:"name,omitempty" json:"name,omitempty"`
	Avatar        string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Members       []string  `bson:"members" json:"members"`
	LastMessageID string    `bson:"last_message_id,omitempty" json:"lastMessageId,omitempty"`
	LastMessageAt time.Time `bson:"last_message_at,omitempty" json:"-"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
}

func (c *ChatRoom) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// UserSummary is the public profile attached to messages and member lists.
type UserSummary struct {
	ID        string `bson:"_id" json:"id"`
	FirstName string `bson:"first_name,omitempty" json:"firstName,omitempty"`
	LastName  string `bson:"last_name,omitempty" json:"lastName,omitempty"`
	Email     string `bson:"email,omitempty" json:"email,omitempty"`
	Avatar    string `bson:"avatar,omitempty" json:"avatar,omitempty"`
}

func (u UserSummary) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Email != "":
		return u.Email
	}
	return "Someone"
}

// MaxUserIDLen bounds identity values accepted from tokens and requests.
const MaxUserIDLen = 128

// ValidUserID reports whether id is usable as a user identity: letters,
// digits, '-' and '_' only. Ids are used as document field names, so '.'
// and '$' must never reach the store.
func ValidUserID(id string) bool {
	if id == "" || len(id) > MaxUserIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

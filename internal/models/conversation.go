package models

import (
	"strconv"
	"time"
)

// Conversation is a private 1:1 room. Participants are stored sorted and
// PairKey carries a unique index, so a pair can only ever own one document.
type Conversation struct {
	ID            string               `bson:"_id" json:"id"`
	Participants  []string             `bson:"participants" json:"participants"`
	PairKey       string               `bson:"pair_key" json:"-"`
	UnreadCount   map[string]int       `bson:"unread_count" json:"unreadCount"`
	MutedBy       map[string]bool      `bson:"muted_by" json:"mutedBy"`
	DeletedBy     map[string]bool      `bson:"deleted_by" json:"deletedBy"`
	LastReadAt    map[string]time.Time `bson:"last_read_at" json:"lastReadAt"`
	LastMessageID string               `bson:"last_message_id,omitempty" json:"lastMessageId,omitempty"`
	LastMessageAt time.Time            `bson:"last_message_at,omitempty" json:"-"`
	CreatedAt     time.Time            `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time            `bson:"updated_at" json:"updatedAt"`
}

// CanonicalPair orders two identities lexicographically.
func CanonicalPair(a, b string) (low, high string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// PairKey is the unique key of an unordered pair. The length prefix keeps
// pairs apart even when an id contains the separator.
func PairKey(a, b string) string {
	low, high := CanonicalPair(a, b)
	return strconv.Itoa(len(low)) + ":" + low + ":" + high
}

func NewConversation(id, a, b string, now time.Time) *Conversation {
	low, high := CanonicalPair(a, b)
	return &Conversation{
		ID:           id,
		Participants: []string{low, high},
		PairKey:      PairKey(low, high),
		UnreadCount:  map[string]int{low: 0, high: 0},
		MutedBy:      map[string]bool{},
		DeletedBy:    map[string]bool{},
		LastReadAt:   map[string]time.Time{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

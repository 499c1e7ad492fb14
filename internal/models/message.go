package models

import "time"

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageFile     MessageType = "file"
	MessageLocation MessageType = "location"
	MessageSystem   MessageType = "system"
	MessagePoll     MessageType = "poll"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile,
		MessageLocation, MessageSystem, MessagePoll:
		return true
	}
	return false
}

func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	}
	return false
}

type MessageState string

const (
	MessageActive  MessageState = "active"
	MessageDeleted MessageState = "deleted"
)

type Location struct {
	Latitude  *float64 `bson:"latitude" json:"latitude"`
	Longitude *float64 `bson:"longitude" json:"longitude"`
	Address   string   `bson:"address,omitempty" json:"address,omitempty"`
}

// Message is stored in the group collection for chat rooms and in the direct
// collection for conversations. Group messages track ReadBy, direct messages
// Read/ReadAt.
type Message struct {
	ID        string       `bson:"_id" json:"id"`
	RoomID    string       `bson:"room_id" json:"roomId"`
	Type      MessageType  `bson:"type" json:"type"`
	SenderID  *string      `bson:"sender_id" json:"senderId"`
	Content   string       `bson:"content,omitempty" json:"content,omitempty"`
	MediaURL  string       `bson:"media_url,omitempty" json:"mediaUrl,omitempty"`
	FileName  string       `bson:"file_name,omitempty" json:"fileName,omitempty"`
	Location  *Location    `bson:"location,omitempty" json:"location,omitempty"`
	PollID    string       `bson:"poll_id,omitempty" json:"pollId,omitempty"`
	ReplyTo   string       `bson:"reply_to,omitempty" json:"replyTo,omitempty"`
	State     MessageState `bson:"state" json:"state"`
	DeletedAt *time.Time   `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
	ReadBy    []string     `bson:"read_by,omitempty" json:"readBy,omitempty"`
	Read      bool         `bson:"read,omitempty" json:"read,omitempty"`
	ReadAt    *time.Time   `bson:"read_at,omitempty" json:"readAt,omitempty"`
	CreatedAt time.Time    `bson:"created_at" json:"createdAt"`

	Sender *UserSummary `bson:"-" json:"sender,omitempty"`
	Poll   *PollView    `bson:"-" json:"poll,omitempty"`
}

// From returns the sender id, empty for system messages.
func (m *Message) From() string {
	if m.SenderID == nil {
		return ""
	}
	return *m.SenderID
}

func (m *Message) IsSentBy(userID string) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

func (m *Message) Active() bool { return m.State != MessageDeleted }

// Before reports whether m sorts strictly before o in history order.
func (m *Message) Before(o *Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// After reports whether m sorts strictly after the message stamped (at, id).
// An empty id sorts before everything.
func (m *Message) After(at time.Time, id string) bool {
	if id == "" {
		return true
	}
	if m.CreatedAt.Equal(at) {
		return m.ID > id
	}
	return m.CreatedAt.After(at)
}

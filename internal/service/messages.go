package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/metrics"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/notify"
)

const (
	MaxContentRunes = 4000
	DefaultPageSize = 50
	MaxPageSize     = 100
	previewRunes    = 100
)

// SendInput is a client supplied message.
type SendInput struct {
	Type     models.MessageType `json:"type"`
	Content  string             `json:"content,omitempty"`
	MediaURL string             `json:"mediaUrl,omitempty"`
	FileName string             `json:"fileName,omitempty"`
	Location *models.Location   `json:"location,omitempty"`
	ReplyTo  string             `json:"replyTo,omitempty"`
}

type ListQuery struct {
	Limit  int
	Before string
	Page   int
}

// Page is one window of history, oldest first.
type Page struct {
	Messages   []*models.Message `json:"messages"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	HasMore    bool              `json:"hasMore"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

type ReceivePayload struct {
	Message *models.Message `json:"message"`
	RoomID  string          `json:"roomId"`
}

type ReadPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	RoomID    string `json:"roomId"`
}

type DeletedPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

type MessageService struct {
	deps *Deps
}

// roomTarget is an authorized room with its loaded document.
type roomTarget struct {
	ref  models.RoomRef
	chat *models.ChatRoom
	conv *models.Conversation
}

func (s *MessageService) target(ctx context.Context, room models.RoomRef, userID string) (roomTarget, error) {
	switch room.Kind {
	case models.RoomChat:
		chat, err := s.deps.Members.AuthorizeChat(ctx, room.ID, userID)
		if err != nil {
			return roomTarget{}, err
		}
		return roomTarget{ref: room, chat: chat}, nil
	case models.RoomConversation:
		conv, err := s.deps.Members.AuthorizeConversation(ctx, room.ID, userID)
		if err != nil {
			return roomTarget{}, err
		}
		return roomTarget{ref: room, conv: conv}, nil
	}
	return roomTarget{}, apperr.Validation("unknown room type %q", room.Kind)
}

func validateSend(in *SendInput) error {
	if in.Type == "" {
		in.Type = models.MessageText
	}
	switch {
	case in.Type == models.MessageSystem || in.Type == models.MessagePoll:
		return apperr.Validation("message type %q cannot be sent directly", in.Type)
	case !in.Type.Valid():
		return apperr.Validation("unknown message type %q", in.Type)
	case in.Type == models.MessageText:
		in.Content = strings.TrimSpace(in.Content)
		if in.Content == "" {
			return apperr.Validation("content is required")
		}
	case in.Type.IsMedia():
		if strings.TrimSpace(in.MediaURL) == "" {
			return apperr.Validation("mediaUrl is required for %s messages", in.Type)
		}
	case in.Type == models.MessageLocation:
		loc := in.Location
		if loc == nil || loc.Latitude == nil || loc.Longitude == nil {
			return apperr.Validation("location with latitude and longitude is required")
		}
		if *loc.Latitude < -90 || *loc.Latitude > 90 || *loc.Longitude < -180 || *loc.Longitude > 180 {
			return apperr.Validation("location is out of range")
		}
	}
	if utf8.RuneCountInString(in.Content) > MaxContentRunes {
		return apperr.Validation("content exceeds %d characters", MaxContentRunes)
	}
	return nil
}

// Send validates and persists a user message, then fans it out to the room.
func (s *MessageService) Send(ctx context.Context, room models.RoomRef, senderID string, in SendInput) (*models.Message, error) {
	if err := validateSend(&in); err != nil {
		return nil, err
	}
	t, err := s.target(ctx, room, senderID)
	if err != nil {
		return nil, err
	}
	if in.ReplyTo != "" {
		parent, err := s.deps.Store.MessagesFor(room.Kind).GetMessage(ctx, in.ReplyTo)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.FromStore(err, "message")
		}
		if parent == nil || parent.RoomID != room.ID {
			return nil, apperr.Validation("replyTo must reference a message in this room")
		}
	}

	sender := senderID
	id, at := s.deps.stamp()
	m := &models.Message{
		ID:        id,
		RoomID:    room.ID,
		Type:      in.Type,
		SenderID:  &sender,
		Content:   in.Content,
		MediaURL:  strings.TrimSpace(in.MediaURL),
		FileName:  in.FileName,
		Location:  in.Location,
		ReplyTo:   in.ReplyTo,
		State:     models.MessageActive,
		CreatedAt: at,
	}
	if err := s.append(ctx, t, m); err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(string(room.Kind), string(m.Type)).Inc()

	s.enrich(ctx, senderID, []*models.Message{m})
	s.deps.Hub.Broadcast(room, EventReceiveMessage, ReceivePayload{Message: m, RoomID: room.ID}, "")
	s.notifyMessage(ctx, t, m)
	return m, nil
}

func (s *MessageService) append(ctx context.Context, t roomTarget, m *models.Message) error {
	var err error
	if t.conv != nil {
		err = s.deps.Store.Conversations.AppendMessage(ctx, m, t.conv.Other(m.From()))
	} else {
		err = s.deps.Store.Chats.AppendMessage(ctx, m)
	}
	return apperr.FromStore(err, "room")
}

// PostSystem appends a sender-less message to a chat and broadcasts it.
func (s *MessageService) PostSystem(ctx context.Context, chatID, content string) (*models.Message, error) {
	id, at := s.deps.stamp()
	m := &models.Message{
		ID:        id,
		RoomID:    chatID,
		Type:      models.MessageSystem,
		Content:   content,
		State:     models.MessageActive,
		CreatedAt: at,
	}
	if err := apperr.FromStore(s.deps.Store.Chats.AppendMessage(ctx, m), "chat"); err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(string(models.RoomChat), string(m.Type)).Inc()
	s.deps.Hub.Broadcast(models.ChatRef(chatID), EventReceiveMessage, ReceivePayload{Message: m, RoomID: chatID}, "")
	return m, nil
}

// appendPoll records the chat message that carries a new poll.
func (s *MessageService) appendPoll(ctx context.Context, chat *models.ChatRoom, p *models.Poll) (*models.Message, error) {
	creator := p.CreatorID
	m := &models.Message{
		ID:        p.MessageID,
		RoomID:    chat.ID,
		Type:      models.MessagePoll,
		SenderID:  &creator,
		Content:   p.Question,
		PollID:    p.ID,
		State:     models.MessageActive,
		CreatedAt: p.CreatedAt,
	}
	if err := apperr.FromStore(s.deps.Store.Chats.AppendMessage(ctx, m), "chat"); err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(string(models.RoomChat), string(m.Type)).Inc()
	return m, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

// List returns up to q.Limit visible messages older than q.Before, oldest first.
func (s *MessageService) List(ctx context.Context, room models.RoomRef, requester string, q ListQuery) (*Page, error) {
	if _, err := s.target(ctx, room, requester); err != nil {
		return nil, err
	}
	limit := clampLimit(q.Limit)
	repo := s.deps.Store.MessagesFor(room.Kind)

	var cursor *models.Message
	if q.Before != "" {
		c, err := repo.GetMessage(ctx, q.Before)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.FromStore(err, "message")
		}
		if c == nil || c.RoomID != room.ID {
			return nil, apperr.Validation("beforeCursor must reference a message in this room")
		}
		cursor = c
	}

	rows, err := repo.ListMessages(ctx, room.ID, cursor, limit+1)
	if err != nil {
		return nil, apperr.FromStore(err, "messages")
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	total, err := repo.CountMessages(ctx, room.ID)
	if err != nil {
		return nil, apperr.FromStore(err, "messages")
	}
	s.enrich(ctx, requester, rows)

	page := q.Page
	if page < 1 {
		page = 1
	}
	p := &Page{Messages: rows, Total: total, Page: page, Limit: limit, HasMore: hasMore}
	if hasMore && len(rows) > 0 {
		p.NextCursor = rows[0].ID
	}
	return p, nil
}

// Recent returns the newest n visible messages of room, oldest first.
func (s *MessageService) Recent(ctx context.Context, room models.RoomRef, requester string, n int) ([]*models.Message, error) {
	p, err := s.List(ctx, room, requester, ListQuery{Limit: n})
	if err != nil {
		return nil, err
	}
	return p.Messages, nil
}

// Get returns one visible message to a member of its room.
func (s *MessageService) Get(ctx context.Context, kind models.RoomKind, messageID, requester string) (*models.Message, error) {
	m, err := s.load(ctx, kind, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Members.Authorize(ctx, models.RoomRef{Kind: kind, ID: m.RoomID}, requester); err != nil {
		return nil, err
	}
	s.enrich(ctx, requester, []*models.Message{m})
	return m, nil
}

func (s *MessageService) load(ctx context.Context, kind models.RoomKind, messageID string) (*models.Message, error) {
	m, err := s.deps.Store.MessagesFor(kind).GetMessage(ctx, messageID)
	if err != nil {
		return nil, apperr.FromStore(err, "message")
	}
	if !m.Active() {
		return nil, apperr.NotFound("message not found")
	}
	return m, nil
}

// MarkRead records a read receipt. Group messages collect readers; a direct
// message is flipped to read by its recipient. Senders reading their own
// messages and repeated reads change nothing.
func (s *MessageService) MarkRead(ctx context.Context, kind models.RoomKind, messageID, reader string) (*models.Message, error) {
	m, err := s.load(ctx, kind, messageID)
	if err != nil {
		return nil, err
	}
	room := models.RoomRef{Kind: kind, ID: m.RoomID}
	if err := s.deps.Members.Authorize(ctx, room, reader); err != nil {
		return nil, err
	}
	if m.IsSentBy(reader) {
		return m, nil
	}

	repo := s.deps.Store.MessagesFor(kind)
	if kind == models.RoomConversation {
		if m.Read {
			return m, nil
		}
		if err := repo.MarkRead(ctx, m.ID); err != nil {
			return nil, apperr.FromStore(err, "message")
		}
		now := s.deps.now()
		m.Read, m.ReadAt = true, &now
	} else {
		for _, id := range m.ReadBy {
			if id == reader {
				return m, nil
			}
		}
		if err := repo.AddReader(ctx, m.ID, reader); err != nil {
			return nil, apperr.FromStore(err, "message")
		}
		m.ReadBy = append(m.ReadBy, reader)
	}

	s.deps.Hub.Broadcast(room, EventMessageRead, ReadPayload{MessageID: m.ID, UserID: reader, RoomID: m.RoomID}, "")
	return m, nil
}

// SoftDelete hides a message from history. Only the sender may delete it.
func (s *MessageService) SoftDelete(ctx context.Context, kind models.RoomKind, messageID, requester string) (*models.Message, error) {
	m, err := s.load(ctx, kind, messageID)
	if err != nil {
		return nil, err
	}
	if !m.IsSentBy(requester) {
		return nil, apperr.Authorization("only the sender can delete this message")
	}
	if err := s.deps.Store.MessagesFor(kind).SoftDelete(ctx, m.ID); err != nil {
		return nil, apperr.FromStore(err, "message")
	}
	now := s.deps.now()
	m.State, m.DeletedAt = models.MessageDeleted, &now

	room := models.RoomRef{Kind: kind, ID: m.RoomID}
	s.repairLastMessage(ctx, room, m.ID)
	s.deps.Hub.Broadcast(room, EventMessageDeleted, DeletedPayload{MessageID: m.ID, RoomID: m.RoomID}, "")
	return m, nil
}

// repairLastMessage moves the room's last message pointer off a deleted
// message onto the newest remaining one.
func (s *MessageService) repairLastMessage(ctx context.Context, room models.RoomRef, deletedID string) {
	var last string
	switch room.Kind {
	case models.RoomChat:
		chat, err := s.deps.Store.Chats.GetChat(ctx, room.ID)
		if err != nil {
			s.deps.Log.Warnw("last message repair: load chat", "room", room.Key(), "err", err)
			return
		}
		last = chat.LastMessageID
	default:
		conv, err := s.deps.Store.Conversations.GetConversation(ctx, room.ID)
		if err != nil {
			s.deps.Log.Warnw("last message repair: load conversation", "room", room.Key(), "err", err)
			return
		}
		last = conv.LastMessageID
	}
	if last != deletedID {
		return
	}

	latest, err := s.deps.Store.MessagesFor(room.Kind).LatestActive(ctx, room.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.deps.Log.Warnw("last message repair: latest", "room", room.Key(), "err", err)
		return
	}
	if room.Kind == models.RoomChat {
		err = s.deps.Store.Chats.SetLastMessage(ctx, room.ID, latest)
	} else {
		err = s.deps.Store.Conversations.SetLastMessage(ctx, room.ID, latest)
	}
	if err != nil {
		s.deps.Log.Warnw("last message repair: update", "room", room.Key(), "err", err)
	}
}

// enrich attaches sender profiles and, for poll messages, the poll tally as
// seen by viewer. Lookup failures leave the messages bare.
func (s *MessageService) enrich(ctx context.Context, viewer string, msgs []*models.Message) {
	if len(msgs) == 0 {
		return
	}
	seen := map[string]bool{}
	var ids []string
	for _, m := range msgs {
		if id := m.From(); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if s.deps.Store.Users != nil && len(ids) > 0 {
		profiles, err := s.deps.Store.Users.Profiles(ctx, ids)
		if err != nil {
			s.deps.Log.Warnw("profile lookup failed", "err", err)
		}
		for _, m := range msgs {
			if u, ok := profiles[m.From()]; ok {
				m.Sender = &u
			} else if id := m.From(); id != "" {
				m.Sender = &models.UserSummary{ID: id}
			}
		}
	}
	for _, m := range msgs {
		if m.Type != models.MessagePoll || m.PollID == "" {
			continue
		}
		p, err := s.deps.Store.Polls.GetPoll(ctx, m.PollID)
		if err != nil {
			s.deps.Log.Warnw("poll lookup failed", "poll_id", m.PollID, "err", err)
			continue
		}
		m.Poll = p.View(viewer)
	}
}

func (s *MessageService) notifyMessage(ctx context.Context, t roomTarget, m *models.Message) {
	sender := m.From()
	name := "Someone"
	if m.Sender != nil {
		name = m.Sender.DisplayName()
	}
	n := notify.Notification{
		Body: name + ": " + preview(m),
		Data: map[string]string{"messageId": m.ID, "roomId": m.RoomID, "roomType": string(t.ref.Kind)},
	}
	if t.conv != nil {
		other := t.conv.Other(sender)
		if other == "" || t.conv.MutedBy[other] {
			return
		}
		n.Kind, n.Title, n.UserIDs = notify.KindDirectMessage, name, []string{other}
	} else {
		for _, id := range t.chat.Members {
			if id != sender {
				n.UserIDs = append(n.UserIDs, id)
			}
		}
		n.Kind, n.Title = notify.KindChatMessage, t.chat.Name
		if n.Title == "" {
			n.Title = "New message"
		}
	}
	s.deps.notify(ctx, n)
}

func preview(m *models.Message) string {
	switch m.Type {
	case models.MessageImage:
		return "sent a photo"
	case models.MessageVideo:
		return "sent a video"
	case models.MessageAudio:
		return "sent a voice message"
	case models.MessageFile:
		return "sent a file"
	case models.MessageLocation:
		return "shared a location"
	case models.MessagePoll:
		return "created a poll: " + truncate(m.Content, previewRunes)
	}
	return truncate(m.Content, previewRunes)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/repository"
)

// MemoryStore keeps every collection in process. It backs the "memory"
// storage driver and the service tests; nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	chats      map[string]*models.ChatRoom
	byActivity map[string]string
	convs      map[string]*models.Conversation
	byPair     map[string]string
	messages   map[string]*models.Message // group, by id
	direct     map[string]*models.Message // conversation, by id
	polls      map[string]*models.Poll
	users      map[string]models.UserSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:      make(map[string]*models.ChatRoom),
		byActivity: make(map[string]string),
		convs:      make(map[string]*models.Conversation),
		byPair:     make(map[string]string),
		messages:   make(map[string]*models.Message),
		direct:     make(map[string]*models.Message),
		polls:      make(map[string]*models.Poll),
		users:      make(map[string]models.UserSummary),
	}
}

// Store exposes the memory store through the repository interfaces.
func (s *MemoryStore) Store() *repository.Store {
	return &repository.Store{
		Chats:         chatRepo{s},
		Conversations: conversationRepo{s},
		Messages:      messageRepo{s: s, coll: s.messages},
		Direct:        messageRepo{s: s, coll: s.direct},
		Polls:         pollRepo{s},
		Users:         s,
	}
}

// PutUser seeds a profile for the user directory.
func (s *MemoryStore) PutUser(u models.UserSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStore) Profiles(_ context.Context, ids []string) (map[string]models.UserSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.UserSummary, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return repository.ErrUnavailable
	}
	return nil
}

// ---- chats ----

type chatRepo struct{ s *MemoryStore }

func (r chatRepo) CreateChat(ctx context.Context, c *models.ChatRoom) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.chats[c.ID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := r.s.byActivity[c.ActivityID]; ok {
		return repository.ErrDuplicate
	}
	cp := *c
	cp.Members = append([]string{}, c.Members...)
	r.s.chats[c.ID] = &cp
	r.s.byActivity[c.ActivityID] = c.ID
	return nil
}

func (r chatRepo) GetChat(ctx context.Context, id string) (*models.ChatRoom, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyChat(c), nil
}

func (r chatRepo) GetChatByActivity(ctx context.Context, activityID string) (*models.ChatRoom, error) {
	r.s.mu.RLock()
	id, ok := r.s.byActivity[activityID]
	r.s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetChat(ctx, id)
}

func (r chatRepo) ListChatsForUser(ctx context.Context, userID string) ([]*models.ChatRoom, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*models.ChatRoom{}
	for _, c := range r.s.chats {
		if c.HasMember(userID) {
			out = append(out, copyChat(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r chatRepo) AddMember(ctx context.Context, chatID, userID string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if c.HasMember(userID) {
		return false, nil
	}
	c.Members = append(c.Members, userID)
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r chatRepo) RemoveMember(ctx context.Context, chatID, userID string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return false, repository.ErrNotFound
	}
	for i, m := range c.Members {
		if m == userID {
			c.Members = append(c.Members[:i:i], c.Members[i+1:]...)
			c.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (r chatRepo) AppendMessage(ctx context.Context, m *models.Message) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[m.RoomID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, dup := r.s.messages[m.ID]; dup {
		return repository.ErrDuplicate
	}
	r.s.messages[m.ID] = copyMessage(m)
	if m.After(c.LastMessageAt, c.LastMessageID) {
		c.LastMessageID, c.LastMessageAt = m.ID, m.CreatedAt
	}
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	return nil
}

func (r chatRepo) SetLastMessage(ctx context.Context, chatID string, m *models.Message) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return repository.ErrNotFound
	}
	c.LastMessageID, c.LastMessageAt = lastOf(m)
	return nil
}

func (r chatRepo) DeleteChatCascade(ctx context.Context, chatID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, m := range r.s.messages {
		if m.RoomID == chatID {
			delete(r.s.messages, id)
		}
	}
	for id, p := range r.s.polls {
		if p.ChatID == chatID {
			delete(r.s.polls, id)
		}
	}
	delete(r.s.byActivity, c.ActivityID)
	delete(r.s.chats, chatID)
	return nil
}

// ---- conversations ----

type conversationRepo struct{ s *MemoryStore }

func (r conversationRepo) InsertConversation(ctx context.Context, c *models.Conversation) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.byPair[c.PairKey]; ok {
		return repository.ErrDuplicate
	}
	r.s.convs[c.ID] = copyConversation(c)
	r.s.byPair[c.PairKey] = c.ID
	return nil
}

func (r conversationRepo) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyConversation(c), nil
}

func (r conversationRepo) FindByPair(ctx context.Context, pairKey string) (*models.Conversation, error) {
	r.s.mu.RLock()
	id, ok := r.s.byPair[pairKey]
	r.s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetConversation(ctx, id)
}

func (r conversationRepo) ListConversationsForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*models.Conversation{}
	for _, c := range r.s.convs {
		if c.HasParticipant(userID) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r conversationRepo) AppendMessage(ctx context.Context, m *models.Message, recipient string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.convs[m.RoomID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, dup := r.s.direct[m.ID]; dup {
		return repository.ErrDuplicate
	}
	r.s.direct[m.ID] = copyMessage(m)
	if m.After(c.LastMessageAt, c.LastMessageID) {
		c.LastMessageID, c.LastMessageAt = m.ID, m.CreatedAt
	}
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	c.UnreadCount[recipient]++
	delete(c.DeletedBy, recipient)
	return nil
}

func (r conversationRepo) SetLastMessage(ctx context.Context, conversationID string, m *models.Message) error {
	return r.mutate(ctx, conversationID, func(c *models.Conversation) { c.LastMessageID, c.LastMessageAt = lastOf(m) })
}

func lastOf(m *models.Message) (string, time.Time) {
	if m == nil {
		return "", time.Time{}
	}
	return m.ID, m.CreatedAt
}

func (r conversationRepo) MarkAllRead(ctx context.Context, conversationID, userID string) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return r.mutate(ctx, conversationID, func(c *models.Conversation) {
		c.UnreadCount[userID] = 0
		c.LastReadAt[userID] = now
	})
}

func (r conversationRepo) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	return r.mutate(ctx, conversationID, func(c *models.Conversation) { setFlag(c.MutedBy, userID, muted) })
}

func (r conversationRepo) SetHidden(ctx context.Context, conversationID, userID string, hidden bool) error {
	return r.mutate(ctx, conversationID, func(c *models.Conversation) { setFlag(c.DeletedBy, userID, hidden) })
}

func (r conversationRepo) mutate(ctx context.Context, id string, fn func(*models.Conversation)) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.convs[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(c)
	return nil
}

func setFlag(m map[string]bool, key string, on bool) {
	if on {
		m[key] = true
		return
	}
	delete(m, key)
}

// ---- messages ----

type messageRepo struct {
	s    *MemoryStore
	coll map[string]*models.Message
}

func (r messageRepo) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.coll[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyMessage(m), nil
}

// activeDesc returns the active messages of roomID, newest first.
// Caller holds the read lock.
func (r messageRepo) activeDesc(roomID string) []*models.Message {
	var out []*models.Message
	for _, m := range r.coll {
		if m.RoomID == roomID && m.Active() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	return out
}

func (r messageRepo) ListMessages(ctx context.Context, roomID string, before *models.Message, limit int) ([]*models.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*models.Message{}
	for _, m := range r.activeDesc(roomID) {
		if len(out) == limit {
			break
		}
		if before != nil && !m.Before(before) {
			continue
		}
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (r messageRepo) CountMessages(ctx context.Context, roomID string) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return int64(len(r.activeDesc(roomID))), nil
}

func (r messageRepo) LatestActive(ctx context.Context, roomID string) (*models.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.activeDesc(roomID)
	if len(all) == 0 {
		return nil, repository.ErrNotFound
	}
	return copyMessage(all[0]), nil
}

func (r messageRepo) AddReader(ctx context.Context, messageID, userID string) error {
	return r.mutate(ctx, messageID, func(m *models.Message) {
		for _, id := range m.ReadBy {
			if id == userID {
				return
			}
		}
		m.ReadBy = append(m.ReadBy, userID)
	})
}

func (r messageRepo) MarkRead(ctx context.Context, messageID string) error {
	return r.mutate(ctx, messageID, func(m *models.Message) {
		if m.Read {
			return
		}
		now := time.Now().UTC().Truncate(time.Millisecond)
		m.Read = true
		m.ReadAt = &now
	})
}

func (r messageRepo) SoftDelete(ctx context.Context, messageID string) error {
	return r.mutate(ctx, messageID, func(m *models.Message) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		m.State = models.MessageDeleted
		m.DeletedAt = &now
	})
}

func (r messageRepo) mutate(ctx context.Context, id string, fn func(*models.Message)) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.coll[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(m)
	return nil
}

// ---- polls ----

type pollRepo struct{ s *MemoryStore }

func (r pollRepo) InsertPoll(ctx context.Context, p *models.Poll) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.polls[p.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.polls[p.ID] = p.Clone()
	return nil
}

func (r pollRepo) DeletePoll(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.polls[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.polls, id)
	return nil
}

func (r pollRepo) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.polls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

func (r pollRepo) ListPolls(ctx context.Context, chatID string, skip, limit int) ([]*models.Poll, int64, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var all []*models.Poll
	for _, p := range r.s.polls {
		if p.ChatID == chatID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	out := []*models.Poll{}
	for i := skip; i < len(all) && len(out) < limit; i++ {
		out = append(out, all[i].Clone())
	}
	return out, int64(len(all)), nil
}

func (r pollRepo) UpdatePoll(ctx context.Context, p *models.Poll, expected int64) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.polls[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expected {
		return repository.ErrVersionConflict
	}
	p.Version = expected + 1
	r.s.polls[p.ID] = p.Clone()
	return nil
}

// ---- copies ----

func copyChat(c *models.ChatRoom) *models.ChatRoom {
	cp := *c
	cp.Members = append([]string{}, c.Members...)
	return &cp
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Participants = append([]string{}, c.Participants...)
	cp.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		cp.UnreadCount[k] = v
	}
	cp.MutedBy = make(map[string]bool, len(c.MutedBy))
	for k, v := range c.MutedBy {
		cp.MutedBy[k] = v
	}
	cp.DeletedBy = make(map[string]bool, len(c.DeletedBy))
	for k, v := range c.DeletedBy {
		cp.DeletedBy[k] = v
	}
	cp.LastReadAt = make(map[string]time.Time, len(c.LastReadAt))
	for k, v := range c.LastReadAt {
		cp.LastReadAt[k] = v
	}
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	cp.ReadBy = append([]string(nil), m.ReadBy...)
	cp.Sender = nil
	cp.Poll = nil
	return &cp
}

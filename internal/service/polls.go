package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/metrics"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/notify"
	"github.com/fathima-sithara/sortie-chat/internal/repository"
	"github.com/google/uuid"
)

const (
	MinPollOptions     = 2
	MaxPollOptions     = 10
	maxQuestionRunes   = 500
	defaultPollPageLen = 20
)

type PollInput struct {
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	AllowMultiple bool       `json:"allowMultiple"`
	ClosesAt      *time.Time `json:"closesAt,omitempty"`
}

type VotedPayload struct {
	Poll      *models.PollView `json:"poll"`
	UserID    string           `json:"userId"`
	OptionIDs []string         `json:"optionIds"`
}

type ClosedPayload struct {
	Poll *models.PollView `json:"poll"`
}

type PollPage struct {
	Polls   []*models.PollView `json:"polls"`
	Total   int64              `json:"total"`
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
	HasMore bool               `json:"hasMore"`
}

// PollService runs in-chat polls. Every write is a compare-and-swap on the
// poll version; a lost race re-reads and re-applies up to maxAttempts times.
type PollService struct {
	deps        *Deps
	messages    *MessageService
	maxAttempts int
}

func (s *PollService) validate(in *PollInput) error {
	in.Question = strings.TrimSpace(in.Question)
	if in.Question == "" {
		return apperr.Validation("question is required")
	}
	if len([]rune(in.Question)) > maxQuestionRunes {
		return apperr.Validation("question exceeds %d characters", maxQuestionRunes)
	}
	if len(in.Options) < MinPollOptions || len(in.Options) > MaxPollOptions {
		return apperr.Validation("a poll needs between %d and %d options", MinPollOptions, MaxPollOptions)
	}
	in.Options = append([]string(nil), in.Options...)
	seen := map[string]bool{}
	for i, o := range in.Options {
		o = strings.TrimSpace(o)
		if o == "" {
			return apperr.Validation("options must not be empty")
		}
		k := strings.ToLower(o)
		if seen[k] {
			return apperr.Validation("duplicate option %q", o)
		}
		seen[k] = true
		in.Options[i] = o
	}
	if in.ClosesAt != nil && !in.ClosesAt.After(s.deps.Now()) {
		return apperr.Validation("closesAt must be in the future")
	}
	return nil
}

// Create opens a poll in a chat and posts the message that carries it.
func (s *PollService) Create(ctx context.Context, chatID, creator string, in PollInput) (*models.PollView, *models.Message, error) {
	if err := s.validate(&in); err != nil {
		return nil, nil, err
	}
	chat, err := s.deps.Members.AuthorizeChat(ctx, chatID, creator)
	if err != nil {
		return nil, nil, err
	}

	messageID, now := s.deps.stamp()
	p := &models.Poll{
		ID:            uuid.NewString(),
		ChatID:        chat.ID,
		MessageID:     messageID,
		CreatorID:     creator,
		Question:      in.Question,
		AllowMultiple: in.AllowMultiple,
		Votes:         []models.Ballot{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, text := range in.Options {
		p.Options = append(p.Options, models.PollOption{OptionID: uuid.NewString(), Text: text})
	}
	if in.ClosesAt != nil {
		t := in.ClosesAt.UTC().Truncate(time.Millisecond)
		p.ClosesAt = &t
	}
	if err := s.deps.Store.Polls.InsertPoll(ctx, p); err != nil {
		return nil, nil, apperr.FromStore(err, "poll")
	}
	m, err := s.messages.appendPoll(ctx, chat, p)
	if err != nil {
		// a poll without its message is unreachable
		if derr := s.deps.Store.Polls.DeletePoll(context.WithoutCancel(ctx), p.ID); derr != nil {
			s.deps.Log.Errorw("orphan poll left behind", "poll_id", p.ID, "chat_id", chat.ID, "err", derr)
		}
		return nil, nil, err
	}

	view := p.View(creator)
	s.messages.enrich(ctx, creator, []*models.Message{m})
	m.Poll = view
	room := models.ChatRef(chat.ID)
	s.deps.Hub.Broadcast(room, EventReceiveMessage, ReceivePayload{Message: m, RoomID: chat.ID}, "")
	s.messages.notifyMessage(ctx, roomTarget{ref: room, chat: chat}, m)
	s.deps.Log.Infow("poll created", "poll_id", p.ID, "chat_id", chat.ID)
	return view, m, nil
}

// Vote replaces the voter's ballot with optionIDs.
func (s *PollService) Vote(ctx context.Context, pollID, voter string, optionIDs []string) (*models.PollView, error) {
	if len(optionIDs) == 0 {
		return nil, apperr.Validation("select at least one option")
	}
	seen := map[string]bool{}
	for _, id := range optionIDs {
		if seen[id] {
			return nil, apperr.Validation("duplicate option %q", id)
		}
		seen[id] = true
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		p, err := s.deps.Store.Polls.GetPoll(ctx, pollID)
		if err != nil {
			return nil, apperr.FromStore(err, "poll")
		}
		if attempt == 0 {
			if _, err := s.deps.Members.AuthorizeChat(ctx, p.ChatID, voter); err != nil {
				return nil, err
			}
		}
		now := s.deps.now()
		if p.Closed {
			return nil, apperr.Validation("poll is closed")
		}
		if p.Expired(now) {
			s.expire(ctx, p)
			return nil, apperr.Validation("poll is closed")
		}
		if !p.AllowMultiple && len(optionIDs) > 1 {
			return nil, apperr.Validation("this poll allows a single choice")
		}
		for _, id := range optionIDs {
			if !p.HasOption(id) {
				return nil, apperr.Validation("unknown option %q", id)
			}
		}

		expected := p.Version
		p.ReplaceBallot(voter, optionIDs, now)
		p.UpdatedAt = now
		err = s.deps.Store.Polls.UpdatePoll(ctx, p, expected)
		if errors.Is(err, repository.ErrVersionConflict) {
			metrics.VoteConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, apperr.FromStore(err, "poll")
		}

		metrics.PollVotes.Inc()
		view := p.View(voter)
		s.deps.Hub.Broadcast(models.ChatRef(p.ChatID), EventPollVoted,
			VotedPayload{Poll: view, UserID: voter, OptionIDs: view.UserVotedOptionIDs}, "")
		return view, nil
	}
	return nil, apperr.Conflict("poll is busy, try again")
}

// expire flips an overdue poll to closed. Losing the race is fine: someone
// else already wrote a newer version.
func (s *PollService) expire(ctx context.Context, p *models.Poll) {
	expected := p.Version
	p.Closed = true
	p.ClosedAt = p.ClosesAt
	p.UpdatedAt = s.deps.now()
	if err := s.deps.Store.Polls.UpdatePoll(ctx, p, expected); err != nil {
		if !errors.Is(err, repository.ErrVersionConflict) {
			s.deps.Log.Warnw("poll expiry not persisted", "poll_id", p.ID, "err", err)
		}
		return
	}
	s.deps.Hub.Broadcast(models.ChatRef(p.ChatID), EventPollClosed, ClosedPayload{Poll: p.View("")}, "")
}

// Close ends voting. Only the creator may close, and only once.
func (s *PollService) Close(ctx context.Context, pollID, requester string) (*models.PollView, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		p, err := s.deps.Store.Polls.GetPoll(ctx, pollID)
		if err != nil {
			return nil, apperr.FromStore(err, "poll")
		}
		if p.CreatorID != requester {
			return nil, apperr.Authorization("only the poll creator can close it")
		}
		if p.Closed {
			return nil, apperr.Conflict("poll is already closed")
		}
		now := s.deps.now()
		expected := p.Version
		p.Closed, p.ClosedAt, p.UpdatedAt = true, &now, now
		err = s.deps.Store.Polls.UpdatePoll(ctx, p, expected)
		if errors.Is(err, repository.ErrVersionConflict) {
			metrics.VoteConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, apperr.FromStore(err, "poll")
		}
		view := p.View(requester)
		s.deps.Hub.Broadcast(models.ChatRef(p.ChatID), EventPollClosed, ClosedPayload{Poll: view}, "")
		s.notifyClosed(ctx, p, requester)
		return view, nil
	}
	return nil, apperr.Conflict("poll is busy, try again")
}

func (s *PollService) Get(ctx context.Context, pollID, requester string) (*models.PollView, error) {
	p, err := s.deps.Store.Polls.GetPoll(ctx, pollID)
	if err != nil {
		return nil, apperr.FromStore(err, "poll")
	}
	if _, err := s.deps.Members.AuthorizeChat(ctx, p.ChatID, requester); err != nil {
		return nil, err
	}
	if !p.Closed && p.Expired(s.deps.now()) {
		s.expire(ctx, p)
	}
	return p.View(requester), nil
}

// List pages through a chat's polls, newest first.
func (s *PollService) List(ctx context.Context, chatID, requester string, page, limit int) (*PollPage, error) {
	if _, err := s.deps.Members.AuthorizeChat(ctx, chatID, requester); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPollPageLen
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	polls, total, err := s.deps.Store.Polls.ListPolls(ctx, chatID, (page-1)*limit, limit)
	if err != nil {
		return nil, apperr.FromStore(err, "polls")
	}
	out := &PollPage{Polls: make([]*models.PollView, 0, len(polls)), Total: total, Page: page, Limit: limit}
	for _, p := range polls {
		out.Polls = append(out.Polls, p.View(requester))
	}
	out.HasMore = int64(page*limit) < total
	return out, nil
}

// notifyClosed tells the other chat members that voting has ended.
func (s *PollService) notifyClosed(ctx context.Context, p *models.Poll, closer string) {
	chat, err := s.deps.Store.Chats.GetChat(ctx, p.ChatID)
	if err != nil {
		s.deps.Log.Warnw("poll close notification skipped", "poll_id", p.ID, "err", err)
		return
	}
	var to []string
	for _, id := range chat.Members {
		if id != closer {
			to = append(to, id)
		}
	}
	s.deps.notify(ctx, notify.Notification{
		Kind:    notify.KindPoll,
		UserIDs: to,
		Title:   "Poll closed",
		Body:    truncate(p.Question, previewRunes),
		Data:    map[string]string{"pollId": p.ID, "roomId": p.ChatID, "roomType": string(models.RoomChat)},
	})
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPoll(t *testing.T, f *fixture, in PollInput) *models.PollView {
	t.Helper()
	v, _, err := f.Polls.Create(context.Background(), f.chat.ID, "alice", in)
	require.NoError(t, err)
	return v
}

func optionID(v *models.PollView, text string) string {
	for _, o := range v.Options {
		if o.Text == text {
			return o.OptionID
		}
	}
	return ""
}

func votes(v *models.PollView, text string) int {
	for _, o := range v.Options {
		if o.Text == text {
			return o.Votes
		}
	}
	return -1
}

func TestCreatePollPostsMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, m, err := f.Polls.Create(ctx, f.chat.ID, "alice", PollInput{Question: " Lunch? ", Options: []string{"Pizza", " Sushi "}})
	require.NoError(t, err)
	assert.Equal(t, "Lunch?", v.Question)
	assert.Len(t, v.Options, 2)
	assert.Equal(t, "Sushi", v.Options[1].Text)
	assert.Zero(t, v.TotalVotes)

	assert.Equal(t, models.MessagePoll, m.Type)
	assert.Equal(t, v.ID, m.PollID)
	chat, err := f.store.Chats.GetChat(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, chat.LastMessageID)

	page, err := f.Messages.List(ctx, f.room(), "bob", ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.NotNil(t, page.Messages[0].Poll)
	assert.Equal(t, v.ID, page.Messages[0].Poll.ID)

	require.Len(t, f.hub.named(EventReceiveMessage), 1)
}

type unwritableChats struct{ repository.ChatRepository }

func (unwritableChats) AppendMessage(context.Context, *models.Message) error {
	return repository.ErrUnavailable
}

func TestCreatePollRollsBackWhenMessageFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Chats = unwritableChats{f.store.Chats}

	_, _, err := f.Polls.Create(ctx, f.chat.ID, "alice", PollInput{Question: "Lunch?", Options: []string{"Pizza", "Sushi"}})
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))

	polls, total, err := f.store.Polls.ListPolls(ctx, f.chat.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, polls)
	assert.Zero(t, total)
	assert.Empty(t, f.hub.named(EventReceiveMessage))
}

func TestCreatePollValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := f.clock.Now().Add(-time.Minute)

	for name, in := range map[string]PollInput{
		"no question":    {Options: []string{"a", "b"}},
		"one option":     {Question: "q", Options: []string{"a"}},
		"too many":       {Question: "q", Options: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}},
		"empty option":   {Question: "q", Options: []string{"a", " "}},
		"duplicate":      {Question: "q", Options: []string{"Tea", "tea"}},
		"closes in past": {Question: "q", Options: []string{"a", "b"}, ClosesAt: &past},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.Polls.Create(ctx, f.chat.ID, "alice", in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	_, _, err := f.Polls.Create(ctx, f.chat.ID, "carol", PollInput{Question: "q", Options: []string{"a", "b"}})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestRevoteMovesBallot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPoll(t, f, PollInput{Question: "Where?", Options: []string{"Lake", "Peak"}})
	lake, peak := optionID(p, "Lake"), optionID(p, "Peak")

	v, err := f.Polls.Vote(ctx, p.ID, "bob", []string{lake})
	require.NoError(t, err)
	assert.Equal(t, 1, votes(v, "Lake"))
	assert.Equal(t, []string{lake}, v.UserVotedOptionIDs)

	v, err = f.Polls.Vote(ctx, p.ID, "bob", []string{peak})
	require.NoError(t, err)
	assert.Equal(t, 0, votes(v, "Lake"))
	assert.Equal(t, 1, votes(v, "Peak"))
	assert.Equal(t, []string{peak}, v.UserVotedOptionIDs)
	assert.Equal(t, 1, v.TotalVotes)

	voted := f.hub.named(EventPollVoted)
	require.Len(t, voted, 2)
	assert.Equal(t, []string{peak}, voted[1].Payload.(VotedPayload).OptionIDs)
}

func TestCoffeeOrTea(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPoll(t, f, PollInput{Question: "Coffee or tea?", Options: []string{"Coffee", "Tea"}})
	coffee, tea := optionID(p, "Coffee"), optionID(p, "Tea")

	_, err := f.Polls.Vote(ctx, p.ID, "alice", []string{coffee})
	require.NoError(t, err)
	_, err = f.Polls.Vote(ctx, p.ID, "bob", []string{tea})
	require.NoError(t, err)
	_, err = f.Polls.Vote(ctx, p.ID, "alice", []string{tea})
	require.NoError(t, err)

	v, err := f.Polls.Get(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, votes(v, "Coffee"))
	assert.Equal(t, 2, votes(v, "Tea"))
	assert.Equal(t, 2, v.TotalVotes)
	assert.Equal(t, []string{tea}, v.UserVotedOptionIDs)
}

func TestMultipleChoiceTallyMatchesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPoll(t, f, PollInput{Question: "Bring?", Options: []string{"Tent", "Stove", "Map"}, AllowMultiple: true})
	tent, stove, mp := optionID(p, "Tent"), optionID(p, "Stove"), optionID(p, "Map")

	seq := []struct {
		user string
		opts []string
	}{
		{"alice", []string{tent, stove}},
		{"bob", []string{stove}},
		{"alice", []string{mp}},
		{"bob", []string{tent, stove, mp}},
		{"alice", []string{stove, mp}},
	}
	for _, step := range seq {
		v, err := f.Polls.Vote(ctx, p.ID, step.user, step.opts)
		require.NoError(t, err)

		stored, err := f.store.Polls.GetPoll(ctx, p.ID)
		require.NoError(t, err)
		sum := 0
		for _, o := range stored.Options {
			sum += o.Votes
		}
		assert.Equal(t, len(stored.Votes), sum, "ledger and counters agree")
		assert.Equal(t, sum, v.TotalVotes)
	}
	v, _ := f.Polls.Get(ctx, p.ID, "alice")
	assert.Equal(t, 1, votes(v, "Tent"))
	assert.Equal(t, 2, votes(v, "Stove"))
	assert.Equal(t, 2, votes(v, "Map"))
}

func TestVoteRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPoll(t, f, PollInput{Question: "One?", Options: []string{"A", "B"}})
	a, b := optionID(p, "A"), optionID(p, "B")

	for name, opts := range map[string][]string{
		"empty":          {},
		"unknown option": {"nope"},
		"duplicate ids":  {a, a},
		"single choice":  {a, b},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.Polls.Vote(ctx, p.ID, "bob", opts)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	_, err := f.Polls.Vote(ctx, p.ID, "carol", []string{a})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	_, err = f.Polls.Vote(ctx, "missing", "bob", []string{a})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	v, _ := f.Polls.Get(ctx, p.ID, "bob")
	assert.Zero(t, v.TotalVotes)
}

func TestClosedAndExpiredPollsRejectVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := createPoll(t, f, PollInput{Question: "Now?", Options: []string{"Yes", "No"}})
	yes := optionID(p, "Yes")
	_, err := f.Polls.Vote(ctx, p.ID, "bob", []string{yes})
	require.NoError(t, err)

	_, err = f.Polls.Close(ctx, p.ID, "bob")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	closed, err := f.Polls.Close(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.True(t, closed.Closed)
	require.Len(t, f.hub.named(EventPollClosed), 1)

	_, err = f.Polls.Close(ctx, p.ID, "alice")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.Polls.Vote(ctx, p.ID, "alice", []string{yes})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	closesAt := f.clock.Now().Add(time.Hour)
	timed := createPoll(t, f, PollInput{Question: "Soon?", Options: []string{"Yes", "No"}, ClosesAt: &closesAt})
	f.clock.Advance(2 * time.Hour)
	_, err = f.Polls.Vote(ctx, timed.ID, "bob", []string{optionID(timed, "Yes")})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	stored, err := f.store.Polls.GetPoll(ctx, timed.ID)
	require.NoError(t, err)
	assert.True(t, stored.Closed, "expiry is persisted on first touch")
	assert.Zero(t, stored.TotalVotes())
}

func TestConcurrentVotesKeepTallyConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	for _, u := range users {
		_, err := f.store.Chats.AddMember(ctx, f.chat.ID, u)
		require.NoError(t, err)
	}
	p := createPoll(t, f, PollInput{Question: "Go?", Options: []string{"Yes", "No"}})
	yes := optionID(p, "Yes")

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			// conflicts past the retry budget surface as Conflict; retry like a client
			for i := 0; i < 20; i++ {
				_, err := f.Polls.Vote(ctx, p.ID, u, []string{yes})
				if apperr.KindOf(err) != apperr.KindConflict {
					return
				}
			}
		}(u)
	}
	wg.Wait()

	v, err := f.Polls.Get(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, len(users), votes(v, "Yes"))
	assert.Equal(t, len(users), v.TotalVotes)
}

func TestListPolls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		createPoll(t, f, PollInput{Question: "q", Options: []string{"a", "b"}})
	}
	page, err := f.Polls.List(ctx, f.chat.ID, "bob", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Polls, 2)
	assert.EqualValues(t, 3, page.Total)
	assert.True(t, page.HasMore)

	page, err = f.Polls.List(ctx, f.chat.ID, "bob", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Polls, 1)
	assert.False(t, page.HasMore)

	_, err = f.Polls.List(ctx, f.chat.ID, "carol", 1, 2)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

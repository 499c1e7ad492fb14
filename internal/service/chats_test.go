package service

import (
	"context"
	"testing"
	"time"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/membership"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateForActivityIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	again, err := f.Chats.CreateForActivity(ctx, CreateChatInput{ActivityID: "act-1", Name: "Other"})
	require.NoError(t, err)
	assert.Equal(t, f.chat.ID, again.ID)
	assert.Equal(t, "Hike", again.Name)

	_, err = f.Chats.CreateForActivity(ctx, CreateChatInput{ActivityID: " "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestApplyParticipation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	changed, err := f.Chats.ApplyParticipation(ctx, "act-1", "carol", ParticipationAccepted)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.Chats.ApplyParticipation(ctx, "act-1", "carol", ParticipationAccepted)
	require.NoError(t, err)
	assert.False(t, changed, "accepting twice changes nothing")

	joined := f.hub.named(EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, MemberPayload{UserID: "carol", RoomID: f.chat.ID, Name: "Carol"}, joined[0].Payload)

	page, err := f.Messages.List(ctx, f.room(), "carol", ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, models.MessageSystem, page.Messages[0].Type)
	assert.Nil(t, page.Messages[0].SenderID)
	assert.Equal(t, "Carol joined the chat", page.Messages[0].Content)

	changed, err = f.Chats.ApplyParticipation(ctx, "act-1", "carol", ParticipationCancelled)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, f.hub.named(EventUserLeft), 1)
	assert.Contains(t, f.hub.evicted, models.ChatRef(f.chat.ID).Key()+"/carol")

	_, err = f.Messages.Send(ctx, f.room(), "carol", SendInput{Content: "still here?"})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	changed, err = f.Chats.ApplyParticipation(ctx, "act-1", "carol", ParticipationRemoved)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = f.Chats.ApplyParticipation(ctx, "act-404", "carol", ParticipationAccepted)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListMembersAndChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Chats.AddMember(ctx, f.chat.ID, "ghost")
	require.NoError(t, err)

	members, err := f.Chats.ListMembers(ctx, f.chat.ID, "alice")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "Alice", members[0].FirstName)
	assert.Equal(t, models.UserSummary{ID: "ghost"}, members[2])

	_, err = f.Chats.ListMembers(ctx, f.chat.ID, "carol")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	chats, err := f.Chats.ListChats(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, chats, 1)

	byActivity, err := f.Chats.GetByActivity(ctx, "act-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, f.chat.ID, byActivity.ID)
}

func TestDeleteForActivityCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.room(), "alice", "bye")
	p, _, err := f.Polls.Create(ctx, f.chat.ID, "alice", PollInput{Question: "q", Options: []string{"a", "b"}})
	require.NoError(t, err)

	require.NoError(t, f.Chats.DeleteForActivity(ctx, "act-1"))

	_, err = f.store.Chats.GetChat(ctx, f.chat.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.store.Messages.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.store.Polls.GetPoll(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ElementsMatch(t, []string{
		models.ChatRef(f.chat.ID).Key() + "/alice",
		models.ChatRef(f.chat.ID).Key() + "/bob",
	}, f.hub.evicted)

	err = f.Chats.DeleteForActivity(ctx, "act-1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteForActivityForgetsCachedMembership(t *testing.T) {
	cache := &setCache{keys: map[string]bool{}}
	f := newFixture(t, membership.WithCache(cache, "test", time.Minute))
	ctx := context.Background()

	f.send(t, f.room(), "bob", "see you there")
	require.NotEmpty(t, cache.keys)

	require.NoError(t, f.Chats.DeleteForActivity(ctx, "act-1"))
	assert.Empty(t, cache.keys)

	err := f.Messages.deps.Members.Authorize(ctx, f.room(), "bob")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestVerifyParticipation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// without a participation record the transition is taken as given
	require.NoError(t, f.Chats.VerifyParticipation(ctx, "act-1", "carol", ParticipationAccepted))

	f.store.Participations = participations{"act-1/bob": true}
	assert.NoError(t, f.Chats.VerifyParticipation(ctx, "act-1", "bob", ParticipationAccepted))
	assert.NoError(t, f.Chats.VerifyParticipation(ctx, "act-1", "carol", ParticipationRemoved))

	err := f.Chats.VerifyParticipation(ctx, "act-1", "carol", ParticipationAccepted)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	err = f.Chats.VerifyParticipation(ctx, "act-1", "bob", ParticipationRemoved)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	err = f.Chats.VerifyParticipation(ctx, "act-1", "bob", "maybe")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	err = f.Chats.VerifyParticipation(ctx, "act-1", "a.b", ParticipationAccepted)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateForActivityRejectsMalformedCreator(t *testing.T) {
	f := newFixture(t)
	_, err := f.Chats.CreateForActivity(context.Background(), CreateChatInput{ActivityID: "act-2", CreatorID: "$bad"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

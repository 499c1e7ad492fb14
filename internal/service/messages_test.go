package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fathima-sithara/sortie-chat/internal/apperr"
	"github.com/fathima-sithara/sortie-chat/internal/models"
	"github.com/fathima-sithara/sortie-chat/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTextMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.Messages.Send(ctx, f.room(), "alice", SendInput{Content: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, m.Type)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, "alice", m.From())
	require.NotNil(t, m.Sender)
	assert.Equal(t, "Alice", m.Sender.FirstName)

	got := f.hub.named(EventReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, f.room(), got[0].Room)
	assert.Equal(t, m.ID, got[0].Payload.(ReceivePayload).Message.ID)

	require.Len(t, f.notifier.got, 1)
	assert.Equal(t, []string{"bob"}, f.notifier.got[0].UserIDs)
	assert.Equal(t, notify.KindChatMessage, f.notifier.got[0].Kind)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.Chats.CreateForActivity(ctx, CreateChatInput{ActivityID: "act-2", CreatorID: "alice"})
	require.NoError(t, err)
	foreign := f.send(t, models.ChatRef(other.ID), "alice", "elsewhere")

	cases := map[string]SendInput{
		"empty text":          {Type: models.MessageText},
		"whitespace text":     {Content: "   \n\t"},
		"system from client":  {Type: models.MessageSystem, Content: "x"},
		"poll from client":    {Type: models.MessagePoll, Content: "x"},
		"unknown type":        {Type: "sticker", Content: "x"},
		"image without url":   {Type: models.MessageImage},
		"location missing":    {Type: models.MessageLocation},
		"latitude range":      {Type: models.MessageLocation, Location: &models.Location{Latitude: ptr(91.0), Longitude: ptr(0.0)}},
		"longitude range":     {Type: models.MessageLocation, Location: &models.Location{Latitude: ptr(0.0), Longitude: ptr(-181.0)}},
		"too long":            {Content: strings.Repeat("a", MaxContentRunes+1)},
		"reply to other room": {Content: "re", ReplyTo: foreign.ID},
		"reply to nothing":    {Content: "re", ReplyTo: "missing"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Messages.Send(ctx, f.room(), "alice", in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "got %v", err)
		})
	}
}

func TestSendMediaAndLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	img, err := f.Messages.Send(ctx, f.room(), "bob", SendInput{Type: models.MessageImage, MediaURL: "https://cdn/x.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.jpg", img.MediaURL)

	loc, err := f.Messages.Send(ctx, f.room(), "bob", SendInput{
		Type:     models.MessageLocation,
		Location: &models.Location{Latitude: ptr(-90.0), Longitude: ptr(180.0), Address: "Pole"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Pole", loc.Location.Address)

	reply, err := f.Messages.Send(ctx, f.room(), "alice", SendInput{Content: "nice", ReplyTo: img.ID})
	require.NoError(t, err)
	assert.Equal(t, img.ID, reply.ReplyTo)
}

func TestSendRequiresMembership(t *testing.T) {
	f := newFixture(t)
	_, err := f.Messages.Send(context.Background(), f.room(), "carol", SendInput{Content: "let me in"})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = f.Messages.Send(context.Background(), models.ChatRef("nope"), "alice", SendInput{Content: "x"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Empty(t, f.hub.named(EventReceiveMessage))
}

func TestLastMessageTracksNewestSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, from := range []string{"alice", "bob", "alice", "bob"} {
		m := f.send(t, f.room(), from, "msg")
		chat, err := f.store.Chats.GetChat(ctx, f.chat.ID)
		require.NoError(t, err)
		assert.Equal(t, m.ID, chat.LastMessageID, "after send %d", i)
	}
}

func TestListPaginatesBackwardWithoutGaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 7; i++ {
		ids = append(ids, f.send(t, f.room(), "alice", "m").ID)
	}

	page, err := f.Messages.List(ctx, f.room(), "bob", ListQuery{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, ids[4:], messageIDs(page.Messages))
	assert.True(t, page.HasMore)
	assert.EqualValues(t, 7, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 3, page.Limit)

	var walked []string
	walked = append(messageIDs(page.Messages), walked...)
	for page.HasMore {
		page, err = f.Messages.List(ctx, f.room(), "bob", ListQuery{Limit: 3, Before: page.NextCursor})
		require.NoError(t, err)
		walked = append(messageIDs(page.Messages), walked...)
	}
	assert.Equal(t, ids, walked)
}

func TestSameMillisecondSendsKeepSendOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.Conversations.Resolve(ctx, "alice", "bob")
	require.NoError(t, err)
	f.clock.Freeze()

	for _, room := range []models.RoomRef{f.room(), models.ConversationRef(conv.ID)} {
		var ids []string
		for i := 0; i < 10; i++ {
			ids = append(ids, f.send(t, room, "alice", "burst").ID)
		}

		page, err := f.Messages.List(ctx, room, "bob", ListQuery{})
		require.NoError(t, err)
		assert.Equal(t, ids, messageIDs(page.Messages), room.Key())

		var walked []string
		page, err = f.Messages.List(ctx, room, "bob", ListQuery{Limit: 4})
		require.NoError(t, err)
		walked = append(messageIDs(page.Messages), walked...)
		for page.HasMore {
			page, err = f.Messages.List(ctx, room, "bob", ListQuery{Limit: 4, Before: page.NextCursor})
			require.NoError(t, err)
			walked = append(messageIDs(page.Messages), walked...)
		}
		assert.Equal(t, ids, walked, room.Key())

		var last string
		if room.Kind == models.RoomChat {
			chat, err := f.store.Chats.GetChat(ctx, room.ID)
			require.NoError(t, err)
			last = chat.LastMessageID
		} else {
			c, err := f.store.Conversations.GetConversation(ctx, room.ID)
			require.NoError(t, err)
			last = c.LastMessageID
		}
		assert.Equal(t, ids[len(ids)-1], last, room.Key())

		_, err = f.Messages.SoftDelete(ctx, room.Kind, ids[len(ids)-1], "alice")
		require.NoError(t, err)
		latest, err := f.store.MessagesFor(room.Kind).LatestActive(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, ids[len(ids)-2], latest.ID, room.Key())
	}
}

func TestListLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, f.room(), "alice", "one")

	page, err := f.Messages.List(ctx, f.room(), "alice", ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, page.Limit)
	assert.False(t, page.HasMore)

	page, err = f.Messages.List(ctx, f.room(), "alice", ListQuery{Limit: 1000, Page: 3})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.Limit)
	assert.Equal(t, 3, page.Page)

	_, err = f.Messages.List(ctx, f.room(), "alice", ListQuery{Before: "unknown"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.Messages.List(ctx, f.room(), "carol", ListQuery{})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestSoftDeletedMessageDisappears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.room(), "alice", "hi")

	deleted, err := f.Messages.SoftDelete(ctx, models.RoomChat, m.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.MessageDeleted, deleted.State)
	assert.NotNil(t, deleted.DeletedAt)

	page, err := f.Messages.List(ctx, f.room(), "alice", ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.EqualValues(t, 0, page.Total)

	stored, err := f.store.Messages.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", stored.Content, "content is kept")

	got := f.hub.named(EventMessageDeleted)
	require.Len(t, got, 1)
	assert.Equal(t, DeletedPayload{MessageID: m.ID, RoomID: f.chat.ID}, got[0].Payload)

	_, err = f.Messages.SoftDelete(ctx, models.RoomChat, m.ID, "alice")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSoftDeleteSenderOnlyAndRepairsLastMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.send(t, f.room(), "alice", "first")
	second := f.send(t, f.room(), "alice", "second")

	_, err := f.Messages.SoftDelete(ctx, models.RoomChat, second.ID, "bob")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = f.Messages.SoftDelete(ctx, models.RoomChat, second.ID, "alice")
	require.NoError(t, err)
	chat, err := f.store.Chats.GetChat(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, chat.LastMessageID)

	_, err = f.Messages.SoftDelete(ctx, models.RoomChat, first.ID, "alice")
	require.NoError(t, err)
	chat, err = f.store.Chats.GetChat(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Empty(t, chat.LastMessageID)
}

func TestMarkReadGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, f.room(), "alice", "read me")

	got, err := f.Messages.MarkRead(ctx, models.RoomChat, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, got.ReadBy)

	_, err = f.Messages.MarkRead(ctx, models.RoomChat, m.ID, "bob")
	require.NoError(t, err)
	stored, _ := f.store.Messages.GetMessage(ctx, m.ID)
	assert.Equal(t, []string{"bob"}, stored.ReadBy)
	assert.Len(t, f.hub.named(EventMessageRead), 1, "repeat reads are silent")

	_, err = f.Messages.MarkRead(ctx, models.RoomChat, m.ID, "carol")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestDirectMessagesUnreadMuteAndReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.Conversations.Resolve(ctx, "alice", "carol")
	require.NoError(t, err)
	room := models.ConversationRef(conv.ID)

	require.NoError(t, f.Conversations.Hide(ctx, conv.ID, "carol"))
	m := f.send(t, room, "alice", "psst")

	stored, err := f.store.Conversations.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UnreadCount["carol"])
	assert.Equal(t, 0, stored.UnreadCount["alice"])
	assert.False(t, stored.DeletedBy["carol"], "a new message unhides the conversation")
	assert.Equal(t, m.ID, stored.LastMessageID)
	require.Len(t, f.notifier.got, 1)
	assert.Equal(t, []string{"carol"}, f.notifier.got[0].UserIDs)

	own, err := f.Messages.MarkRead(ctx, models.RoomConversation, m.ID, "alice")
	require.NoError(t, err)
	assert.False(t, own.Read, "the sender cannot mark their own message read")

	read, err := f.Messages.MarkRead(ctx, models.RoomConversation, m.ID, "carol")
	require.NoError(t, err)
	assert.True(t, read.Read)
	assert.NotNil(t, read.ReadAt)

	require.NoError(t, f.Conversations.SetMuted(ctx, conv.ID, "carol", true))
	f.send(t, room, "alice", "again")
	assert.Len(t, f.notifier.got, 1, "muted recipients get no push")

	require.NoError(t, f.Conversations.MarkAllRead(ctx, conv.ID, "carol"))
	stored, _ = f.store.Conversations.GetConversation(ctx, conv.ID)
	assert.Equal(t, 0, stored.UnreadCount["carol"])
	assert.Contains(t, stored.LastReadAt, "carol")

	_, err = f.Messages.Send(ctx, room, "bob", SendInput{Content: "hi"})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestNotificationFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("push down")
	_, err := f.Messages.Send(context.Background(), f.room(), "alice", SendInput{Content: "still works"})
	assert.NoError(t, err)
}

func messageIDs(ms []*models.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poll(allowMultiple bool, texts ...string) *Poll {
	p := &Poll{ID: "p1", AllowMultiple: allowMultiple}
	for _, t := range texts {
		p.Options = append(p.Options, PollOption{OptionID: t, Text: t})
	}
	return p
}

func votesOf(p *Poll) map[string]int {
	out := map[string]int{}
	for _, o := range p.Options {
		out[o.OptionID] = o.Votes
	}
	return out
}

func TestReplaceBallot(t *testing.T) {
	now := time.Now()
	p := poll(true, "a", "b", "c")

	p.ReplaceBallot("u1", []string{"a", "b"}, now)
	p.ReplaceBallot("u2", []string{"b"}, now)
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 0}, votesOf(p))
	assert.Equal(t, []string{"a", "b"}, p.VotedOptionIDs("u1"))

	p.ReplaceBallot("u1", []string{"c"}, now)
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 1}, votesOf(p))
	assert.Equal(t, []string{"c"}, p.VotedOptionIDs("u1"))
	assert.Equal(t, 2, p.TotalVotes())
	assert.Len(t, p.Votes, 2)

	v := p.View("u2")
	assert.Equal(t, 2, v.TotalVotes)
	assert.Equal(t, []string{"b"}, v.UserVotedOptionIDs)
	assert.Empty(t, p.View("nobody").UserVotedOptionIDs)
}

func TestCloneIsDeep(t *testing.T) {
	closes := time.Now().Add(time.Hour)
	p := poll(false, "x", "y")
	p.ClosesAt = &closes
	p.ReplaceBallot("u1", []string{"x"}, time.Now())

	c := p.Clone()
	c.ReplaceBallot("u1", []string{"y"}, time.Now())
	*c.ClosesAt = closes.Add(time.Hour)

	assert.Equal(t, 1, votesOf(p)["x"])
	assert.Equal(t, []string{"x"}, p.VotedOptionIDs("u1"))
	assert.Equal(t, closes, *p.ClosesAt)
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	p := poll(false, "a")
	assert.False(t, p.Expired(now))
	at := now
	p.ClosesAt = &at
	assert.True(t, p.Expired(now))
	assert.False(t, p.Expired(now.Add(-time.Millisecond)))
}

func TestPollViewJSONHidesLedger(t *testing.T) {
	p := poll(false, "a")
	p.ReplaceBallot("u1", []string{"a"}, time.Now())
	p.Version = 7
	b, err := json.Marshal(p.View("u1"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.NotContains(t, got, "votes")
	assert.NotContains(t, got, "version")
	assert.EqualValues(t, 1, got["totalVotes"])
	assert.Equal(t, []any{"a"}, got["userVotedOptionIds"])
}

func TestConversationPair(t *testing.T) {
	assert.Equal(t, PairKey("b", "a"), PairKey("a", "b"))
	assert.NotEqual(t, PairKey("a:b", "c"), PairKey("a", "b:c"))
	assert.Equal(t, PairKey("amy", "zed"), NewConversation("c0", "zed", "amy", time.Now()).PairKey)
	c := NewConversation("c1", "zed", "amy", time.Now())
	assert.Equal(t, []string{"amy", "zed"}, c.Participants)
	assert.Equal(t, "zed", c.Other("amy"))
	assert.True(t, c.HasParticipant("zed"))
	assert.False(t, c.HasParticipant("bob"))
}

func TestRoomKeys(t *testing.T) {
	ref, ok := ParseRoomKey(ConversationRef("c:1").Key())
	require.True(t, ok)
	assert.Equal(t, ConversationRef("c:1"), ref)

	for _, bad := range []string{"", "chat", "chat:", ":id", "group:1"} {
		_, ok := ParseRoomKey(bad)
		assert.False(t, ok, bad)
	}

	kind, ok := ParseRoomKind("")
	assert.True(t, ok)
	assert.Equal(t, RoomChat, kind)
}

func TestValidUserID(t *testing.T) {
	for _, ok := range []string{"alice", "user-a", "65f1c0ffee0123456789abcd", "u_1", "0190b5c4-7d4e-7abc-8def-0123456789ab"} {
		assert.True(t, ValidUserID(ok), ok)
	}
	for _, bad := range []string{"", "a.b", "$where", "a:b", "a b", "é", strings.Repeat("x", MaxUserIDLen+1)} {
		assert.False(t, ValidUserID(bad), bad)
	}
}

func TestMessageOrdering(t *testing.T) {
	at := time.Now()
	a := &Message{ID: "a", CreatedAt: at}
	b := &Message{ID: "b", CreatedAt: at}
	c := &Message{ID: "0", CreatedAt: at.Add(time.Millisecond)}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
	assert.True(t, b.After(a.CreatedAt, a.ID))
	assert.False(t, a.After(b.CreatedAt, b.ID))
	assert.True(t, a.After(time.Time{}, ""))
	assert.False(t, b.After(c.CreatedAt, c.ID))

	assert.Equal(t, "", (&Message{}).From())
	assert.True(t, MessageImage.IsMedia())
	assert.False(t, MessageType("sticker").Valid())
}

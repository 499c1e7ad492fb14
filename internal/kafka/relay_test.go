package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	delivered []string
	evicted   []string
}

func (r *recorder) DeliverRemote(room, except string, frame []byte) {
	r.delivered = append(r.delivered, room+"|"+except+"|"+string(frame))
}

func (r *recorder) EvictRemote(room, userID string) {
	r.evicted = append(r.evicted, room+"|"+userID)
}

func frame(t *testing.T, f roomFrame) []byte {
	t.Helper()
	b, err := json.Marshal(f)
	require.NoError(t, err)
	return b
}

func TestRelayDispatch(t *testing.T) {
	relay := &RoomRelay{instance: "node-a"}
	rec := &recorder{}

	require.NoError(t, relay.dispatch(rec, frame(t, roomFrame{Origin: "node-b", Room: "chat:1", Except: "bob", Frame: json.RawMessage(`{"event":"x"}`)})))
	require.NoError(t, relay.dispatch(rec, frame(t, roomFrame{Origin: "node-b", Room: "chat:1", Evict: "carol"})))
	// own frames were already delivered locally
	require.NoError(t, relay.dispatch(rec, frame(t, roomFrame{Origin: "node-a", Room: "chat:1", Frame: json.RawMessage(`{}`)})))

	assert.Equal(t, []string{`chat:1|bob|{"event":"x"}`}, rec.delivered)
	assert.Equal(t, []string{"chat:1|carol"}, rec.evicted)

	assert.Error(t, relay.dispatch(rec, []byte("not json")))
}

func TestReadBackOffNeverStops(t *testing.T) {
	b := readBackOff()
	var last time.Duration
	for i := 0; i < 50; i++ {
		last = b.NextBackOff()
		require.NotEqual(t, backoff.Stop, last)
	}
	assert.LessOrEqual(t, last, 15*time.Second)

	b.Reset()
	assert.LessOrEqual(t, b.NextBackOff(), 500*time.Millisecond)
}

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps cross-instance presence in Redis.
// Keys used:
// - <prefix>:online:<room>: hash userID -> open subscriptions across instances
// - <prefix>:conn:<user>: set of session ids
// - <prefix>:presence:<user> -> json {status,last_seen}
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type Status struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewStore(r *redis.Client, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: r, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *Store) roomKey(room string) string       { return fmt.Sprintf("%s:online:%s", s.prefix, room) }
func (s *Store) connKey(userID string) string     { return fmt.Sprintf("%s:conn:%s", s.prefix, userID) }
func (s *Store) presenceKey(userID string) string { return fmt.Sprintf("%s:presence:%s", s.prefix, userID) }

// Join counts one more subscription of userID to room.
func (s *Store) Join(ctx context.Context, room, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, s.roomKey(room), userID, 1)
	pipe.Expire(ctx, s.roomKey(room), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Leave drops one subscription; the user disappears from the room when the
// last one goes.
func (s *Store) Leave(ctx context.Context, room, userID string) error {
	n, err := s.client.HIncrBy(ctx, s.roomKey(room), userID, -1).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return s.client.HDel(ctx, s.roomKey(room), userID).Err()
	}
	return nil
}

// Online lists users with at least one live subscription to room.
func (s *Store) Online(ctx context.Context, room string) ([]string, error) {
	counts, err := s.client.HGetAll(ctx, s.roomKey(room)).Result()
	if err != nil {
		return nil, err
	}
	return onlineFrom(counts), nil
}

func onlineFrom(counts map[string]string) []string {
	out := make([]string, 0, len(counts))
	for id, n := range counts {
		var v int
		if _, err := fmt.Sscan(n, &v); err == nil && v > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Connected registers a session and marks the user online.
func (s *Store) Connected(ctx context.Context, userID, sessionID string) error {
	if err := s.client.SAdd(ctx, s.connKey(userID), sessionID).Err(); err != nil {
		return err
	}
	_ = s.client.Expire(ctx, s.connKey(userID), s.ttl).Err()
	return s.setStatus(ctx, userID, "online", s.ttl)
}

// Disconnected removes a session; with none left the user goes offline.
func (s *Store) Disconnected(ctx context.Context, userID, sessionID string) error {
	key := s.connKey(userID)
	if err := s.client.SRem(ctx, key, sessionID).Err(); err != nil {
		return err
	}
	cnt, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 0 {
		return s.setStatus(ctx, userID, "offline", 0)
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, userID, status string, ttl time.Duration) error {
	b, _ := json.Marshal(Status{Status: status, LastSeen: s.now().Unix()})
	return s.client.Set(ctx, s.presenceKey(userID), b, ttl).Err()
}

// Get returns the last recorded status; unknown users are offline.
func (s *Store) Get(ctx context.Context, userID string) (Status, error) {
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if err == redis.Nil {
		return Status{Status: "offline"}, nil
	}
	if err != nil {
		return Status{}, err
	}
	var st Status
	err = json.Unmarshal(b, &st)
	return st, err
}

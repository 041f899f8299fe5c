package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OfflineStore buffers events for users with no live connection so a
// reconnecting client can replay what it missed. Delivery stays
// at-least-once: an event can arrive both via replay and via a poll read.
type OfflineStore interface {
	Push(ctx context.Context, userID uuid.UUID, event *Event) error
	Drain(ctx context.Context, userID uuid.UUID) ([]*Event, error)
}

type RedisOfflineStore struct {
	redis *redis.Client
}

func NewRedisOfflineStore(rdb *redis.Client) *RedisOfflineStore {
	return &RedisOfflineStore{redis: rdb}
}

func offlineKey(userID uuid.UUID) string {
	return "offline_events:" + userID.String()
}

func (s *RedisOfflineStore) Push(ctx context.Context, userID uuid.UUID, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Call events are useless once ringing expires; join requests stay
	// meaningful until the host looks at them.
	expiration := 30 * time.Second
	if event.Type == MeetingJoinRequest {
		expiration = 24 * time.Hour
	}

	key := offlineKey(userID)
	if err := s.redis.LPush(ctx, key, data).Err(); err != nil {
		return err
	}
	return s.redis.Expire(ctx, key, expiration).Err()
}

func (s *RedisOfflineStore) Drain(ctx context.Context, userID uuid.UUID) ([]*Event, error) {
	key := offlineKey(userID)

	data, err := s.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var evs []*Event
	// LPush stores newest first; replay oldest first
	for i := len(data) - 1; i >= 0; i-- {
		var ev Event
		if err := json.Unmarshal([]byte(data[i]), &ev); err == nil {
			evs = append(evs, &ev)
		}
	}

	s.redis.Del(ctx, key)

	return evs, nil
}

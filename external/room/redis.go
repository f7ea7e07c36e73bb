package room

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "brainstorm:room:"

// RedisRoomState keeps narration flags and room membership in Redis so every
// engine replica sees the same view.
type RedisRoomState struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomState(ctx context.Context, url, prefix string) (*RedisRoomState, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRoomState{client: client, prefix: prefix}, nil
}

func (s *RedisRoomState) narrationKey(room string) string {
	return s.prefix + room + ":narration"
}

func (s *RedisRoomState) participantsKey(room string) string {
	return s.prefix + room + ":participants"
}

// IsActive treats lookup failures as "not narrating" so speech is not lost.
func (s *RedisRoomState) IsActive(ctx context.Context, room string) bool {
	n, err := s.client.Exists(ctx, s.narrationKey(room)).Result()
	if err != nil {
		slog.Warn("failed to read narration state", "error", err, "room", room)
		return false
	}
	return n > 0
}

func (s *RedisRoomState) IsAuthorized(ctx context.Context, room, participant string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.participantsKey(room), participant).Result()
	if err != nil {
		return false, fmt.Errorf("check room membership: %w", err)
	}
	return ok, nil
}

// SetNarration marks playback active for at most ttl. A zero ttl keeps the
// flag until it is cleared.
func (s *RedisRoomState) SetNarration(ctx context.Context, room string, active bool, ttl time.Duration) error {
	if !active {
		return s.client.Del(ctx, s.narrationKey(room)).Err()
	}
	return s.client.Set(ctx, s.narrationKey(room), "1", ttl).Err()
}

func (s *RedisRoomState) AddParticipant(ctx context.Context, room, participant string) error {
	return s.client.SAdd(ctx, s.participantsKey(room), participant).Err()
}

func (s *RedisRoomState) RemoveParticipant(ctx context.Context, room, participant string) error {
	return s.client.SRem(ctx, s.participantsKey(room), participant).Err()
}

func (s *RedisRoomState) Close() error {
	return s.client.Close()
}

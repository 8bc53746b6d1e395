package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abnjv/Ha-sub000/internal/domain"
)

const roomTTL = 24 * time.Hour

// RoomIndex mirrors the shareable room codes into redis so lookups
// survive a process restart. Membership itself is in-memory only.
type RoomIndex struct {
	client *redis.Client
}

func NewRoomIndex(client *redis.Client) *RoomIndex {
	return &RoomIndex{client: client}
}

func (s *RoomIndex) PutRoom(ctx context.Context, id domain.RoomID, code domain.RoomCode) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, "room:"+string(id), string(code), roomTTL)
	pipe.Set(ctx, "code:"+string(code), string(id), roomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RoomIndex) Resolve(ctx context.Context, code domain.RoomCode) (domain.RoomID, error) {
	id, err := s.client.Get(ctx, "code:"+string(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.RoomID(id), nil
}

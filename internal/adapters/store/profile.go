package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abnjv/Ha-sub000/internal/domain"
)

const profileTTL = 7 * 24 * time.Hour

var ErrNotFound = errors.New("not found")

// ProfileStore implements core.ProfileStore on redis.
type ProfileStore struct {
	client *redis.Client
}

func NewProfileStore(client *redis.Client) *ProfileStore {
	return &ProfileStore{client: client}
}

func (s *ProfileStore) Get(ctx context.Context, id domain.PeerID) (*domain.User, error) {
	data, err := s.client.Get(ctx, "profile:"+string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u domain.User
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *ProfileStore) Put(ctx context.Context, id domain.PeerID, u *domain.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, "profile:"+string(id), data, profileTTL).Err()
}

package relay

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// DefaultOnlineClientsKey is the Redis set holding the session ids of
// connected clients.
const DefaultOnlineClientsKey = "foxglove-hub:clients"

// Store keeps the set of online client sessions in Redis.
type Store struct {
	rdb *redis.Client
	key string
}

func NewStore(rdb *redis.Client, key string) *Store {
	if key == "" {
		key = DefaultOnlineClientsKey
	}
	return &Store{rdb: rdb, key: key}
}

func (s *Store) AddOnlineClient(ctx context.Context, clientID string) error {
	return s.rdb.SAdd(ctx, s.key, clientID).Err()
}

func (s *Store) RemoveOnlineClient(ctx context.Context, clientID string) error {
	return s.rdb.SRem(ctx, s.key, clientID).Err()
}

func (s *Store) OnlineClients(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.key).Result()
}

// Reset empties the set, dropping entries left by a previous process.
func (s *Store) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}

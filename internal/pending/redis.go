package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osda-portal/apiserver/internal/store"
	"github.com/osda-portal/apiserver/types"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "osda:pending:"

// RedisStore keeps pending identities in Redis so any API replica can
// finish a completion started on another. Entries expire with the
// identity's ExpiresAt.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix, now: time.Now}
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Save(ctx context.Context, pending types.PendingFederatedIdentity) error {
	if strings.TrimSpace(pending.ID) == "" {
		return errMissingID
	}
	ttl := pending.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("pending: expires_at must be in the future")
	}

	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("pending: marshal: %w", err)
	}
	return s.client.Set(ctx, s.key(pending.ID), data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (types.PendingFederatedIdentity, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.PendingFederatedIdentity{}, store.ErrNotFound
	}
	if err != nil {
		return types.PendingFederatedIdentity{}, err
	}

	var pending types.PendingFederatedIdentity
	if err := json.Unmarshal(val, &pending); err != nil {
		return types.PendingFederatedIdentity{}, fmt.Errorf("pending: unmarshal: %w", err)
	}
	return pending, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

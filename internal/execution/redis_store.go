package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"cryptex/config"
	"cryptex/models"
)

// RedisStore keeps the last record per symbol under <prefix>last_order:<SYMBOL>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

func (r *RedisStore) key(symbol string) string {
	return r.prefix + "last_order:" + symbol
}

// Ping verifies the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Last(ctx context.Context, symbol string) (models.OrderRecord, bool, error) {
	data, err := r.client.Get(ctx, r.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.OrderRecord{}, false, nil
	}
	if err != nil {
		return models.OrderRecord{}, false, fmt.Errorf("redis get %s: %w", r.key(symbol), err)
	}
	var rec models.OrderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.OrderRecord{}, false, fmt.Errorf("decode %s: %w", r.key(symbol), err)
	}
	return rec, true, nil
}

func (r *RedisStore) Save(ctx context.Context, rec models.OrderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(rec.Symbol), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key(rec.Symbol), err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

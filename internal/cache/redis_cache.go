package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"apotekita/backend/internal/domain"
)

type RedisInvoiceSearchCache struct {
	client *redis.Client
}

func NewRedisInvoiceSearchCache(addr string, password string, db int) *RedisInvoiceSearchCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisInvoiceSearchCache{client: client}
}

func (c *RedisInvoiceSearchCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInvoiceSearchCache) Close() error {
	return c.client.Close()
}

func (c *RedisInvoiceSearchCache) Get(ctx context.Context, key string) ([]domain.InvoiceSummary, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summaries []domain.InvoiceSummary
	if err := json.Unmarshal(val, &summaries); err != nil {
		return nil, false, err
	}
	return summaries, true, nil
}

func (c *RedisInvoiceSearchCache) Set(ctx context.Context, key string, value []domain.InvoiceSummary, ttl time.Duration) error {
	if value == nil {
		value = []domain.InvoiceSummary{}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

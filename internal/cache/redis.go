package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

const (
	redisKeyPrefix = "mailcore:msg"
	redisScanCount = 100
)

// RedisTier stores cached messages as JSON in Redis. Raw message bytes are not
// stored; bodies and headers are.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier connects to the Redis server at url (redis://host:port/db).
func NewRedisTier(ctx context.Context, url string) (*RedisTier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisTier{client: client}, nil
}

// Close closes the Redis connection.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

func (t *RedisTier) Get(ctx context.Context, key Key) (*models.Message, error) {
	data, err := t.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode cached message %s: %w", key, err)
	}
	return &msg, nil
}

func (t *RedisTier) Put(ctx context.Context, key Key, msg *models.Message, ttl time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", key, err)
	}
	if err := t.client.Set(ctx, redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (t *RedisTier) Delete(ctx context.Context, key Key) error {
	if err := t.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (t *RedisTier) DeleteFolder(ctx context.Context, owner, folder string) error {
	pattern := fmt.Sprintf("%s:%s:%s:*", redisKeyPrefix, escapeGlob(owner), escapeGlob(folder))
	return t.deleteMatching(ctx, pattern)
}

func (t *RedisTier) DeleteOwner(ctx context.Context, owner string) error {
	pattern := fmt.Sprintf("%s:%s:*", redisKeyPrefix, escapeGlob(owner))
	return t.deleteMatching(ctx, pattern)
}

func (t *RedisTier) deleteMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := t.client.Scan(ctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := t.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func redisKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s:%d", redisKeyPrefix, key.Owner, key.Folder, key.UID)
}

// escapeGlob escapes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

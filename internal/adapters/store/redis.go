package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "callsignal:resume:"

// Redis persists resume state with a TTL so stale sessions age out
// on the same schedule the signaling server forgets them.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// DialRedis connects and pings, mirroring how the server side wires its room store.
func DialRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info().Str("module", "store").Str("addr", addr).Msg("redis connected")
	return NewRedis(client, ttl), nil
}

func (r *Redis) Load(ctx context.Context, key string) (ResumeState, bool, error) {
	if key == "" {
		return ResumeState{}, false, ErrEmptyKey
	}
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ResumeState{}, false, nil
	}
	if err != nil {
		return ResumeState{}, false, fmt.Errorf("redis get: %w", err)
	}
	var st ResumeState
	if err := json.Unmarshal(data, &st); err != nil {
		return ResumeState{}, false, fmt.Errorf("decode resume state: %w", err)
	}
	return st, true, nil
}

func (r *Redis) Save(ctx context.Context, key string, st ResumeState) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode resume state: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }

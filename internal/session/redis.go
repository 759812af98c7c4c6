package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/council/internal/model"
)

const (
	keyPrefix      = "council:session:"
	maxPutAttempts = 3
)

// RedisRegistry shares snapshots between the API server and workers.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func key(sessionID int64) string {
	return keyPrefix + strconv.FormatInt(sessionID, 10)
}

// Put refuses to replace a terminal snapshot. The check and the write run
// in one WATCH transaction so two writers cannot both finish a session.
func (r *RedisRegistry) Put(ctx context.Context, snap model.StatusSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	k := key(snap.SessionID)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("reading snapshot: %w", err)
		default:
			var existing model.StatusSnapshot
			if err := json.Unmarshal(current, &existing); err == nil && existing.State.Terminal() {
				return ErrTerminal
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, body, r.ttl)
			return nil
		})
		return err
	}

	for range maxPutAttempts {
		err = r.client.Watch(ctx, txf, k)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("writing snapshot %d: %w", snap.SessionID, err)
}

func (r *RedisRegistry) Get(ctx context.Context, sessionID int64) (model.StatusSnapshot, error) {
	body, err := r.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.StatusSnapshot{}, ErrNotFound
	}
	if err != nil {
		return model.StatusSnapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap model.StatusSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return model.StatusSnapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

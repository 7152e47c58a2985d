package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"telehub/robot"
)

// RedisStore keeps the latest robot snapshot and a bounded shell transcript
// in Redis so other processes can read them without going through the hub.
type RedisStore struct {
	client *redis.Client
	hubID  string
}

func NewRedisStore(client *redis.Client, hubID string) *RedisStore {
	return &RedisStore{client: client, hubID: hubID}
}

func (r *RedisStore) stateKey() string {
	return fmt.Sprintf("telehub:%s:state", r.hubID)
}

func (r *RedisStore) transcriptKey() string {
	return fmt.Sprintf("telehub:%s:transcript", r.hubID)
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// SetSnapshot stores st with the given TTL. A zero TTL never expires.
func (r *RedisStore) SetSnapshot(ctx context.Context, st *robot.State, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.stateKey(), data, ttl).Err()
}

// GetSnapshot returns nil, nil when no snapshot is stored or it expired.
func (r *RedisStore) GetSnapshot(ctx context.Context) (*robot.State, error) {
	data, err := r.client.Get(ctx, r.stateKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st robot.State
	return &st, json.Unmarshal(data, &st)
}

// AppendTranscript pushes chunks, keeping at most maxLines entries.
func (r *RedisStore) AppendTranscript(ctx context.Context, chunks []string, maxLines int64) error {
	if len(chunks) == 0 {
		return nil
	}
	vals := make([]any, len(chunks))
	for i, c := range chunks {
		vals[i] = c
	}
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, r.transcriptKey(), vals...)
	if maxLines > 0 {
		pipe.LTrim(ctx, r.transcriptKey(), 0, maxLines-1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Transcript returns up to n most recent chunks, oldest first.
func (r *RedisStore) Transcript(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := r.client.LRange(ctx, r.transcriptKey(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	slices.Reverse(items)
	return items, nil
}

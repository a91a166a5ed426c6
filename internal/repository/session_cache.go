package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// SessionCache is the Redis hot path for live attempts: latest snapshots,
// start times, question sets and the persist queues.
type SessionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionCache creates a SessionCache whose keys expire after ttl.
func NewSessionCache(rdb *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionCache{rdb: rdb, ttl: ttl}
}

// SaveSnapshot overwrites the latest snapshot of a session.
func (c *SessionCache) SaveSnapshot(ctx context.Context, snap model.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, config.CacheKey.SessionProgressKey(snap.SessionID), data, c.ttl).Err()
}

// Snapshot returns the cached snapshot, or nil when none is cached.
func (c *SessionCache) Snapshot(ctx context.Context, sessionID string) (*model.ProgressSnapshot, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.SessionProgressKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap model.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// EnqueueProgress pushes a snapshot onto the progress persist queue.
func (c *SessionCache) EnqueueProgress(ctx context.Context, job model.ProgressJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, data).Err()
}

// EnqueueCheat pushes an anti-cheat entry onto the cheat persist queue.
func (c *SessionCache) EnqueueCheat(ctx context.Context, ev model.CheatEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.RPush(ctx, config.WorkerKey.PersistCheatsQueue, data).Err()
}

// StartTime returns the cached start time of a session.
func (c *SessionCache) StartTime(ctx context.Context, sessionID string) (time.Time, bool, error) {
	v, err := c.rdb.Get(ctx, config.CacheKey.SessionStartKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(unix, 0), true, nil
}

// SetStartTime caches the start time. An existing value is kept.
func (c *SessionCache) SetStartTime(ctx context.Context, sessionID string, at time.Time) error {
	return c.rdb.SetNX(ctx, config.CacheKey.SessionStartKey(sessionID), at.Unix(), c.ttl).Err()
}

// Questions returns the cached question set of a session.
func (c *SessionCache) Questions(ctx context.Context, sessionID string) ([]model.Question, bool, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.SessionQuestionsKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var qs []model.Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, false, err
	}
	return qs, true, nil
}

// SetQuestions caches a question set. Correct answers are never serialized.
func (c *SessionCache) SetQuestions(ctx context.Context, sessionID string, qs []model.Question) error {
	data, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, config.CacheKey.SessionQuestionsKey(sessionID), data, c.ttl).Err()
}

// PublishMonitor fans an event out to proctors watching the exam.
func (c *SessionCache) PublishMonitor(ctx context.Context, examID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID), data).Err()
}

// SubscribeMonitor attaches to an exam's monitor channel. Callers close the
// returned subscription.
func (c *SessionCache) SubscribeMonitor(ctx context.Context, examID string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID))
}

// Forget drops the cached state of a finished session.
func (c *SessionCache) Forget(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx,
		config.CacheKey.SessionQuestionsKey(sessionID),
		config.CacheKey.SessionStartKey(sessionID),
	).Err()
}

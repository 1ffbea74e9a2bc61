package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/deaddrop/internal/backoff"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultVisibilityTimeout = 60 * time.Second
	defaultReclaimBatch      = 100
	defaultMaxDeadLetters    = 1000
)

// KEYS: ready, inflight, attempts. ARGV: now_ms, note id.
var enqueueScript = goredis.NewScript(`
if redis.call("ZSCORE", KEYS[2], ARGV[2]) then
  return 0
end
local added = redis.call("ZADD", KEYS[1], "NX", ARGV[1], ARGV[2])
if added == 1 then
  redis.call("HSETNX", KEYS[3], ARGV[2], 0)
end
return added
`)

// KEYS: ready, inflight, attempts, leases. ARGV: now_ms, deadline_ms, token.
var dequeueScript = goredis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call("ZREM", KEYS[1], id)
redis.call("ZADD", KEYS[2], ARGV[2], id)
redis.call("HSET", KEYS[4], id, ARGV[3])
local attempts = redis.call("HGET", KEYS[3], id)
if not attempts then
  attempts = "0"
end
return {id, attempts}
`)

// KEYS: inflight, attempts, leases. ARGV: note id, token.
var ackScript = goredis.NewScript(`
if redis.call("HGET", KEYS[3], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
return 1
`)

// KEYS: ready, inflight, attempts, leases. ARGV: note id, token, attempts, visible_at_ms.
var retryScript = goredis.NewScript(`
if redis.call("HGET", KEYS[4], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call("HDEL", KEYS[4], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[3], ARGV[1], ARGV[3])
redis.call("ZADD", KEYS[1], ARGV[4], ARGV[1])
return 1
`)

// KEYS: attempts, leases. ARGV: note id, token, attempts.
var recordExhaustedScript = goredis.NewScript(`
if redis.call("HGET", KEYS[2], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// KEYS: inflight, attempts, leases, dead. ARGV: note id, token, max dead letters.
var buryScript = goredis.NewScript(`
if redis.call("HGET", KEYS[3], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("LPUSH", KEYS[4], ARGV[1])
redis.call("LTRIM", KEYS[4], 0, tonumber(ARGV[3]) - 1)
return 1
`)

// KEYS: ready, inflight, leases. ARGV: now_ms, limit.
var reclaimScript = goredis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[2], id)
  redis.call("HDEL", KEYS[3], id)
  redis.call("ZADD", KEYS[1], "NX", ARGV[1], id)
end
return #ids
`)

var _ Scheduler = (*RedisScheduler)(nil)

// RedisScheduler keeps obligations in Redis:
//
//	<name>:ready     sorted set, note id scored by the time it becomes visible
//	<name>:inflight  sorted set, note id scored by its lease deadline
//	<name>:leases    hash, note id -> lease token
//	<name>:attempts  hash, note id -> attempts made
//	<name>:dead      list of exhausted note ids, newest first
//
// A note id lives in at most one of ready/inflight, which gives single-flight per note.
type RedisScheduler struct {
	client     *goredis.Client
	policy     *backoff.Policy
	visibility time.Duration
	logger     *zap.Logger

	readyKey    string
	inflightKey string
	leasesKey   string
	attemptsKey string
	deadKey     string

	now      func() time.Time
	newToken func() string
}

func NewRedisScheduler(
	client *goredis.Client,
	name string,
	policy *backoff.Policy,
	visibility time.Duration,
	logger *zap.Logger,
) (*RedisScheduler, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if policy == nil {
		return nil, fmt.Errorf("backoff policy is required")
	}
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisScheduler{
		client:      client,
		policy:      policy,
		visibility:  visibility,
		logger:      logger,
		readyKey:    name + ":ready",
		inflightKey: name + ":inflight",
		leasesKey:   name + ":leases",
		attemptsKey: name + ":attempts",
		deadKey:     name + ":dead",
		now:         time.Now,
		newToken:    uuid.NewString,
	}, nil
}

func (s *RedisScheduler) Enqueue(ctx context.Context, noteID string) (bool, error) {
	if strings.TrimSpace(noteID) == "" {
		return false, fmt.Errorf("note id is required")
	}

	added, err := enqueueScript.Run(ctx, s.client,
		[]string{s.readyKey, s.inflightKey, s.attemptsKey},
		s.now().UnixMilli(), noteID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue note %q: %w", noteID, err)
	}
	return added == 1, nil
}

func (s *RedisScheduler) Dequeue(ctx context.Context) (*Lease, error) {
	now := s.now()
	deadline := now.Add(s.visibility)
	token := s.newToken()

	result, err := dequeueScript.Run(ctx, s.client,
		[]string{s.readyKey, s.inflightKey, s.attemptsKey, s.leasesKey},
		now.UnixMilli(), deadline.UnixMilli(), token,
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected dequeue reply of length %d", len(result))
	}

	noteID := fmt.Sprint(result[0])
	attempts, err := strconv.Atoi(fmt.Sprint(result[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid attempt counter for note %q: %w", noteID, err)
	}

	return &Lease{
		NoteID:    noteID,
		Token:     token,
		Attempts:  attempts,
		Exhausted: s.policy.Exhausted(attempts),
		Deadline:  deadline,
	}, nil
}

func (s *RedisScheduler) Ack(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return fmt.Errorf("lease is required")
	}

	ok, err := ackScript.Run(ctx, s.client,
		[]string{s.inflightKey, s.attemptsKey, s.leasesKey},
		lease.NoteID, lease.Token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to ack note %q: %w", lease.NoteID, err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: note %q", ErrLeaseLost, lease.NoteID)
	}
	return nil
}

func (s *RedisScheduler) Fail(ctx context.Context, lease *Lease, onExhausted ExhaustedFunc) (Decision, error) {
	if lease == nil {
		return Decision{}, fmt.Errorf("lease is required")
	}

	attempts := lease.Attempts + 1
	if !s.policy.Exhausted(attempts) {
		delay := s.policy.Delay(attempts)
		visibleAt := s.now().Add(delay)

		ok, err := retryScript.Run(ctx, s.client,
			[]string{s.readyKey, s.inflightKey, s.attemptsKey, s.leasesKey},
			lease.NoteID, lease.Token, attempts, visibleAt.UnixMilli(),
		).Int()
		if err != nil {
			return Decision{}, fmt.Errorf("failed to schedule retry for note %q: %w", lease.NoteID, err)
		}
		if ok != 1 {
			return Decision{}, fmt.Errorf("%w: note %q", ErrLeaseLost, lease.NoteID)
		}
		return Decision{Attempts: attempts, Delay: delay}, nil
	}

	// The final attempt is counted before onExhausted runs, so a redelivery after a failed
	// handler arrives already exhausted instead of earning another try.
	ok, err := recordExhaustedScript.Run(ctx, s.client,
		[]string{s.attemptsKey, s.leasesKey},
		lease.NoteID, lease.Token, attempts,
	).Int()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to record final attempt for note %q: %w", lease.NoteID, err)
	}
	if ok != 1 {
		return Decision{}, fmt.Errorf("%w: note %q", ErrLeaseLost, lease.NoteID)
	}

	return s.bury(ctx, lease, attempts, onExhausted)
}

// Exhaust discards an obligation that was redelivered with no attempts left.
func (s *RedisScheduler) Exhaust(ctx context.Context, lease *Lease, onExhausted ExhaustedFunc) (Decision, error) {
	if lease == nil {
		return Decision{}, fmt.Errorf("lease is required")
	}
	if !s.policy.Exhausted(lease.Attempts) {
		return Decision{}, fmt.Errorf("note %q has attempts left (%d of %d made)",
			lease.NoteID, lease.Attempts, s.policy.MaxAttempts())
	}

	holder, err := s.client.HGet(ctx, s.leasesKey, lease.NoteID).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return Decision{}, fmt.Errorf("failed to verify lease for note %q: %w", lease.NoteID, err)
	}
	if holder != lease.Token {
		return Decision{}, fmt.Errorf("%w: note %q", ErrLeaseLost, lease.NoteID)
	}

	return s.bury(ctx, lease, lease.Attempts, onExhausted)
}

func (s *RedisScheduler) bury(ctx context.Context, lease *Lease, attempts int, onExhausted ExhaustedFunc) (Decision, error) {
	if onExhausted != nil {
		if err := onExhausted(ctx, lease.NoteID, attempts); err != nil {
			return Decision{}, fmt.Errorf("exhaustion handler failed for note %q: %w", lease.NoteID, err)
		}
	}

	ok, err := buryScript.Run(ctx, s.client,
		[]string{s.inflightKey, s.attemptsKey, s.leasesKey, s.deadKey},
		lease.NoteID, lease.Token, defaultMaxDeadLetters,
	).Int()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to discard exhausted note %q: %w", lease.NoteID, err)
	}
	if ok != 1 {
		return Decision{}, fmt.Errorf("%w: note %q", ErrLeaseLost, lease.NoteID)
	}

	return Decision{Attempts: attempts, Exhausted: true}, nil
}

func (s *RedisScheduler) Reclaim(ctx context.Context) (int, error) {
	n, err := reclaimScript.Run(ctx, s.client,
		[]string{s.readyKey, s.inflightKey, s.leasesKey},
		s.now().UnixMilli(), defaultReclaimBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	if n > 0 {
		s.logger.Warn("reclaimed expired leases", zap.String("queue", s.readyKey), zap.Int("count", n))
	}
	return n, nil
}

// DeadLetters returns up to limit exhausted note ids, newest first.
func (s *RedisScheduler) DeadLetters(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultMaxDeadLetters
	}
	ids, err := s.client.LRange(ctx, s.deadKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	return ids, nil
}

// Depth reports how many obligations are waiting and how many are leased.
func (s *RedisScheduler) Depth(ctx context.Context) (ready int64, inflight int64, err error) {
	pipe := s.client.Pipeline()
	readyCmd := pipe.ZCard(ctx, s.readyKey)
	inflightCmd := pipe.ZCard(ctx, s.inflightKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return readyCmd.Val(), inflightCmd.Val(), nil
}

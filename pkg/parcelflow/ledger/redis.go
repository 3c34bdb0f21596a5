package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
)

// RedisConfig configures a RedisLedger.
type RedisConfig struct {
	// Prefix namespaces the ledger keys. Default: "parcelflow".
	Prefix string

	// Mode selects the dedup key function. Default: ModeExact.
	Mode Mode

	// Retry governs retries of transient Redis failures.
	// Default: pferrors.DefaultRetry
	Retry *pferrors.RetryPolicy
}

// RedisLedger keeps the ledger in a Redis hash: field = identity key,
// value = normalized event. HSETNX makes recording atomic per key.
type RedisLedger struct {
	client  redis.UniversalClient
	owned   bool
	keyFunc KeyFunc
	hashKey string
	seqKey  string
	retry   pferrors.RetryPolicy

	mu     sync.RWMutex
	closed bool
}

// NewRedisLedger connects to addr and returns a ledger that owns the client.
func NewRedisLedger(ctx context.Context, addr string, cfg RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, pferrors.Backend("redis", "ping", err)
	}
	l := NewRedisLedgerFromClient(client, cfg)
	l.owned = true
	return l, nil
}

// NewRedisLedgerFromClient wraps an existing client. Close does not close a
// client it did not create.
func NewRedisLedgerFromClient(client redis.UniversalClient, cfg RedisConfig) *RedisLedger {
	if cfg.Prefix == "" {
		cfg.Prefix = "parcelflow"
	}
	retry := pferrors.DefaultRetry
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	return &RedisLedger{
		client:  client,
		keyFunc: KeyFuncFor(cfg.Mode),
		hashKey: cfg.Prefix + ":ledger",
		seqKey:  cfg.Prefix + ":ledger:seq",
		retry:   retry,
	}
}

// IsDuplicate implements Ledger.
func (l *RedisLedger) IsDuplicate(ctx context.Context, evt event.Event) (bool, error) {
	key, err := l.keyFunc(evt)
	if err != nil {
		return false, err
	}
	if l.isClosed() {
		return false, ErrLedgerClosed
	}

	return pferrors.Retry(ctx, l.retry, func(ctx context.Context) (bool, error) {
		ok, err := l.client.HExists(ctx, l.hashKey, key).Result()
		return ok, pferrors.Backend("redis", "hexists", err)
	})
}

// Record implements Ledger.
func (l *RedisLedger) Record(ctx context.Context, evt event.Event) (Entry, error) {
	key, err := l.keyFunc(evt)
	if err != nil {
		return Entry{}, err
	}
	if l.isClosed() {
		return Entry{}, ErrLedgerClosed
	}

	entry, err := newEntry(uuid.New().String(), key, 0, evt)
	if err != nil {
		return Entry{}, err
	}

	set, err := pferrors.Retry(ctx, l.retry, func(ctx context.Context) (bool, error) {
		ok, err := l.client.HSetNX(ctx, l.hashKey, key, entry.Payload).Result()
		return ok, pferrors.Backend("redis", "hsetnx", err)
	})
	if err != nil {
		return Entry{}, err
	}
	if !set {
		return Entry{}, ErrAlreadyRecorded
	}

	entry.Sequence, err = pferrors.Retry(ctx, l.retry, func(ctx context.Context) (int64, error) {
		n, err := l.client.Incr(ctx, l.seqKey).Result()
		return n, pferrors.Backend("redis", "incr", err)
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Len implements Ledger.
func (l *RedisLedger) Len(ctx context.Context) (int, error) {
	if l.isClosed() {
		return 0, ErrLedgerClosed
	}
	n, err := l.client.HLen(ctx, l.hashKey).Result()
	if err != nil {
		return 0, pferrors.Backend("redis", "hlen", err)
	}
	return int(n), nil
}

// Close implements Ledger.
func (l *RedisLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.owned {
		return l.client.Close()
	}
	return nil
}

func (l *RedisLedger) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

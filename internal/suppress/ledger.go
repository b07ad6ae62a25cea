package suppress

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"notifyrelay/internal/storage"
)

// Ledger is a shared claim register for suppression windows.
// Claim reports whether the caller now owns the window for key.
type Ledger interface {
	Claim(ctx context.Context, key string, until, now time.Time) (bool, error)
}

// StoreLedger persists claims so a restarted relay keeps its open windows.
type StoreLedger struct {
	Store storage.Store
}

func (l StoreLedger) Claim(ctx context.Context, key string, until, now time.Time) (bool, error) {
	if l.Store == nil {
		return true, nil
	}
	return l.Store.ClaimSuppression(ctx, key, until, now)
}

// RedisLedger shares claims between relay instances with SET NX PX.
type RedisLedger struct {
	Client *redis.Client
	Prefix string
}

func NewRedisLedger(addr, password string, db int, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "notify:suppress:"
	}
	return &RedisLedger{
		Client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		Prefix: prefix,
	}
}

func (l *RedisLedger) Claim(ctx context.Context, key string, until, now time.Time) (bool, error) {
	ttl := until.Sub(now)
	if ttl <= 0 {
		return true, nil
	}
	return l.Client.SetNX(ctx, l.Prefix+key, now.UnixMilli(), ttl).Result()
}

func (l *RedisLedger) Ping(ctx context.Context) error { return l.Client.Ping(ctx).Err() }

func (l *RedisLedger) Close() error { return l.Client.Close() }

// MemoryLedger is a process-local ledger, shared by engines in the same process.
type MemoryLedger struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{claims: map[string]time.Time{}} }

func (l *MemoryLedger) Claim(_ context.Context, key string, until, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claims == nil {
		l.claims = map[string]time.Time{}
	}
	if cur, ok := l.claims[key]; ok && now.Before(cur) {
		return false, nil
	}
	l.claims[key] = until
	return true, nil
}

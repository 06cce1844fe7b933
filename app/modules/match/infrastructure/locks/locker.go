// Package locks provides short-lived cross-process mutual exclusion keyed by
// string. Ownership is proven by the random token handed out on acquire.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Backend names accepted in configuration.
const (
	BackendRedis     = "redis"
	BackendJetStream = "nats"
)

// Locker acquires and releases named locks.
type Locker interface {
	// Acquire sets a fresh token for key only if the key is free. It returns
	// ("", false, nil) when someone else holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release deletes key only while it still holds token. Releasing with a
	// stale or wrong token is a no-op.
	Release(ctx context.Context, key, token string) error
}

// MatchKey is the lock key guarding background resolution of one match. The
// format is valid for both Redis keys and JetStream KV keys.
func MatchKey(matchID uuid.UUID) string {
	return fmt.Sprintf("match.%s", matchID)
}

func newToken() string {
	return uuid.NewString()
}

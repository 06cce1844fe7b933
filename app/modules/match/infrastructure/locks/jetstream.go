package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket holding match locks.
const DefaultBucket = "matchflow-locks"

// JetStreamLocker implements Locker on a JetStream KeyValue bucket. Create only
// succeeds for an absent key, and Delete is guarded by the revision we read.
type JetStreamLocker struct {
	kv jetstream.KeyValue
}

// NewJetStreamLocker wraps an existing bucket.
func NewJetStreamLocker(kv jetstream.KeyValue) *JetStreamLocker {
	return &JetStreamLocker{kv: kv}
}

// EnsureLockBucket creates or updates the lock bucket. Per-key TTLs need
// limit markers enabled on the bucket.
func EnsureLockBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:         bucket,
		Description:    "per-match resolution locks",
		History:        1,
		LimitMarkerTTL: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure lock bucket %q: %w", bucket, err)
	}
	return kv, nil
}

func (l *JetStreamLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := newToken()
	_, err := l.kv.Create(ctx, key, []byte(token), jetstream.KeyTTL(ttl))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to acquire lock %q: %w", key, err)
	}
	return token, true, nil
}

func (l *JetStreamLocker) Release(ctx context.Context, key, token string) error {
	entry, err := l.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read lock %q: %w", key, err)
	}
	if string(entry.Value()) != token {
		return nil
	}

	err = l.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision()))
	if err != nil {
		// The key moved on since we read it: someone else owns it now.
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return nil
		}
		return fmt.Errorf("failed to release lock %q: %w", key, err)
	}
	return nil
}

var _ Locker = (*JetStreamLocker)(nil)

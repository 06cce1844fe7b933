package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	matchdomain "github.com/Black-And-White-Club/matchflow/app/modules/match/domain"
	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an untouched handshake survives.
const DefaultTTL = 6 * time.Hour

const keyPrefix = "matchflow:handshake:"

// signalScript sets or clears one participant's flags, recomputes the aggregate
// status and refreshes the key TTL in a single round trip.
//
// KEYS[1] handshake hash
// ARGV[1] user id, ARGV[2] op (ready|active|clear), ARGV[3] unix millis, ARGV[4] ttl seconds
var signalScript = redis.NewScript(`
local key = KEYS[1]
local user = ARGV[1]
local op = ARGV[2]
local now = ARGV[3]

if op == 'ready' then
  redis.call('HSET', key, user .. ':ready', '1', user .. ':ready_at', now)
elseif op == 'active' then
  redis.call('HSET', key, user .. ':active', '1', user .. ':active_at', now)
elseif op == 'clear' then
  redis.call('HDEL', key, user .. ':ready', user .. ':ready_at', user .. ':active', user .. ':active_at')
end

local fields = redis.call('HGETALL', key)
local ready, active = 0, 0
for i = 1, #fields, 2 do
  local f = fields[i]
  if fields[i + 1] == '1' then
    if string.sub(f, -6) == ':ready' then
      ready = ready + 1
    elseif string.sub(f, -7) == ':active' then
      active = active + 1
    end
  end
end

local status = 'waiting'
if active >= 2 then
  status = 'live'
elseif ready >= 2 then
  status = 'both_ready'
elseif ready == 1 then
  status = 'one_ready'
end

redis.call('HSET', key, 'status', status)
redis.call('EXPIRE', key, tonumber(ARGV[4]))
return status
`)

// ParticipantState is one participant's handshake flags.
type ParticipantState struct {
	UserID   uuid.UUID
	Ready    bool
	Active   bool
	ReadyAt  *time.Time
	ActiveAt *time.Time
}

// Snapshot is the handshake of one match.
type Snapshot struct {
	MatchID uuid.UUID
	Status  matchdomain.HandshakeStatus
	First   ParticipantState
	Second  ParticipantState
}

// Coordinator stores handshakes in Redis hashes.
type Coordinator struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator creates a Redis-backed handshake coordinator.
func NewCoordinator(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func key(matchID uuid.UUID) string {
	return keyPrefix + matchID.String()
}

// SetReady marks userID as ready and returns the new aggregate status.
func (c *Coordinator) SetReady(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error) {
	return c.signal(ctx, matchID, userID, "ready")
}

// SetActive marks userID as active and returns the new aggregate status.
func (c *Coordinator) SetActive(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error) {
	return c.signal(ctx, matchID, userID, "active")
}

// ClearUser resets userID's flags and returns the new aggregate status.
func (c *Coordinator) ClearUser(ctx context.Context, matchID, userID uuid.UUID) (matchdomain.HandshakeStatus, error) {
	return c.signal(ctx, matchID, userID, "clear")
}

func (c *Coordinator) signal(ctx context.Context, matchID, userID uuid.UUID, op string) (matchdomain.HandshakeStatus, error) {
	status, err := signalScript.Run(ctx, c.client,
		[]string{key(matchID)},
		userID.String(),
		op,
		strconv.FormatInt(c.now().UnixMilli(), 10),
		int64(c.ttl/time.Second),
	).Text()
	if err != nil {
		return "", fmt.Errorf("handshake %s failed: %w", op, err)
	}

	c.logger.DebugContext(ctx, "handshake updated",
		attr.MatchID(matchID),
		attr.UUID("user_id", userID),
		attr.String("op", op),
		attr.String("status", status),
	)
	return matchdomain.HandshakeStatus(status), nil
}

// Snapshot reads both participants' flags. A missing or expired handshake
// reads as nobody ready.
func (c *Coordinator) Snapshot(ctx context.Context, matchID, user1, user2 uuid.UUID) (*Snapshot, error) {
	fields, err := c.client.HGetAll(ctx, key(matchID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("handshake snapshot failed: %w", err)
	}

	snap := &Snapshot{
		MatchID: matchID,
		Status:  matchdomain.HandshakeWaiting,
		First:   participantState(fields, user1),
		Second:  participantState(fields, user2),
	}
	if s, ok := fields["status"]; ok {
		snap.Status = matchdomain.HandshakeStatus(s)
	}
	return snap, nil
}

func participantState(fields map[string]string, userID uuid.UUID) ParticipantState {
	prefix := userID.String() + ":"
	return ParticipantState{
		UserID:   userID,
		Ready:    fields[prefix+"ready"] == "1",
		Active:   fields[prefix+"active"] == "1",
		ReadyAt:  parseMillis(fields[prefix+"ready_at"]),
		ActiveAt: parseMillis(fields[prefix+"active_at"]),
	}
}

func parseMillis(v string) *time.Time {
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

package prize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Payout asks the wallet service to credit a tournament placing.
type Payout struct {
	TournamentID  uuid.UUID `json:"tournament_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	UserID        uuid.UUID `json:"user_id"`
	Placement     int       `json:"placement"`
}

// IdempotencyKey identifies a payout so retries never double-credit.
func (p Payout) IdempotencyKey() string {
	return fmt.Sprintf("prize:%s:%d", p.TournamentID, p.Placement)
}

// ErrPermanent marks a wallet rejection that retrying will not fix.
var ErrPermanent = errors.New("wallet rejected payout")

// Distributor sends prize payouts.
type Distributor interface {
	Distribute(ctx context.Context, payout Payout) error
}

// Client talks to the wallet HTTP service, throttled client-side.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a wallet client allowing perSecond requests with a small burst.
func NewClient(baseURL string, perSecond float64, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if perSecond <= 0 {
		perSecond = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 2),
		logger:  logger,
	}
}

func (c *Client) Distribute(ctx context.Context, payout Payout) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("prize rate limiter: %w", err)
	}

	body, err := json.Marshal(payout)
	if err != nil {
		return fmt.Errorf("failed to marshal payout: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/prizes", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payout.IdempotencyKey())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("payout request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		// Already credited under this idempotency key.
		c.logger.InfoContext(ctx, "prize payout already recorded",
			attr.TournamentID(payout.TournamentID),
			attr.Int("placement", payout.Placement),
		)
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.InfoContext(ctx, "prize payout sent",
			attr.TournamentID(payout.TournamentID),
			attr.UUID("participant_id", payout.ParticipantID),
			attr.Int("placement", payout.Placement),
		)
		return nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("wallet returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return err
	}
}

var _ Distributor = (*Client)(nil)

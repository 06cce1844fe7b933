package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/matchflow/pkg/attr"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// TopicPrefix is prepended to the recipient's user id to build the topic.
const TopicPrefix = "notifications."

// Notification is one message to a user.
type Notification struct {
	UserID      uuid.UUID `json:"user_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Category    string    `json:"category"`
	SubjectType string    `json:"subject_type"`
	SubjectID   uuid.UUID `json:"subject_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Topic returns the subject a notification is published on.
func Topic(userID uuid.UUID) string {
	return TopicPrefix + userID.String()
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// PublisherNotifier publishes notifications through a watermill publisher.
type PublisherNotifier struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewPublisherNotifier creates a notifier over publisher.
func NewPublisherNotifier(publisher message.Publisher, logger *slog.Logger) *PublisherNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublisherNotifier{publisher: publisher, logger: logger}
}

func (p *PublisherNotifier) Notify(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("subject", Topic(n.UserID))
	msg.Metadata.Set("category", n.Category)
	if id := attr.CorrelationID(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}
	msg.SetContext(ctx)

	if err := p.publisher.Publish(Topic(n.UserID), msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.DebugContext(ctx, "notification published",
		attr.UUID("user_id", n.UserID),
		attr.String("category", n.Category),
		attr.UUID("subject_id", n.SubjectID),
	)
	return nil
}

var _ Notifier = (*PublisherNotifier)(nil)

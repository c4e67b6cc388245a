package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/tenant"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// Event type suffixes published under the base subject.
const (
	EventProspectReplied    = "prospect.replied"
	EventOptOutPropagated   = "prospect.opted_out"
	EventProspectAutoDead   = "prospect.auto_dead"
	EventWrongNumber        = "prospect.wrong_number"
	EventSpamCooldown       = "market.spam_cooldown"
	EventDeliveryResolved   = "message.delivery_resolved"
	EventCallForwarded      = "call.forwarded"
	EventRelayConnected     = "relay.connected"
	EventActivityAppended   = "activity.appended"
	EventCampaignStatsDirty = "campaign.stats_dirty"
)

// Envelope is the wire shape of every published domain event.
type Envelope struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	CompanyID  int64                  `json:"company_id,omitempty"`
	Payload    map[string]interface{} `json:"payload"`
}

// Publisher emits domain events for downstream collaborators (activity feeds,
// campaign stat recalculation, CRM sync).
type Publisher interface {
	Emit(ctx context.Context, eventType string, companyID int64, payload map[string]interface{})
}

// NatsPublisher publishes envelopes to a JetStream subject tree.
type NatsPublisher struct {
	client      ClientInterface
	baseSubject string
}

// NewNatsPublisher builds a publisher rooted at baseSubject and ensures the
// backing stream exists.
func NewNatsPublisher(ctx context.Context, client ClientInterface, stream, baseSubject string) (*NatsPublisher, error) {
	cfg := &nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{baseSubject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	}
	if err := client.SetupStream(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to set up event stream: %w", err)
	}
	return &NatsPublisher{client: client, baseSubject: baseSubject}, nil
}

// Emit publishes an event. Publishing is best effort: a broker hiccup is
// logged and swallowed so webhook processing never fails on it.
func (p *NatsPublisher) Emit(ctx context.Context, eventType string, companyID int64, payload map[string]interface{}) {
	envelope := Envelope{
		Type:       eventType,
		OccurredAt: utils.Now(),
		CompanyID:  companyID,
		Payload:    payload,
	}

	headers := map[string]string{}
	if requestID, err := tenant.FromRequestIDContext(ctx); err == nil && requestID != "" {
		headers["request_id"] = requestID
	}

	subject := p.baseSubject + "." + eventType
	if err := p.client.Publish(subject, utils.MustMarshalJSON(envelope), headers); err != nil {
		logger.FromContext(ctx).Warn("Failed to publish domain event",
			zap.String("subject", subject),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// NopPublisher drops every event. Used in tests and when NATS is disabled.
type NopPublisher struct{}

func (NopPublisher) Emit(context.Context, string, int64, map[string]interface{}) {}

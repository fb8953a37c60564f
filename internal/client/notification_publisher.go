package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/buildcore-ai/be-ap-approvals/internal/queue"
)

// NotificationPublisher publishes invoice lifecycle events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.ap.<event_type>
// Event types: invoice_confirmed, invoice_submitted, invoice_approval_required,
//              invoice_approved, invoice_rejected, invoice_exported
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt
// lifecycle transitions.
type NotificationPublisher struct {
	nats *queue.Client
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType  string         `json:"event_type"`
	CompanyID  string         `json:"company_id"`
	ActorID    string         `json:"actor_id"`
	Recipients []string       `json:"recipients"`
	InvoiceID  string         `json:"invoice_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// client. A nil client disables publishing.
func NewNotificationPublisher(nats *queue.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishInvoiceEvent publishes an invoice lifecycle event.
// Subject: notifications.ap.<eventType>
func (p *NotificationPublisher) PublishInvoiceEvent(ctx context.Context, eventType, invoiceID, companyID, actorID string, recipients []string, payload map[string]any) {
	if p.nats == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:  eventType,
		CompanyID:  companyID,
		ActorID:    actorID,
		Recipients: recipients,
		InvoiceID:  invoiceID,
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.ap.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("invoice_id", invoiceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("invoice_id", invoiceID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

package repository

import (
	"context"
	"encoding/json"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/database"
)

// ActivityRepository appends and reads immutable audit trail entries.
type ActivityRepository struct {
	db *database.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *database.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append inserts one activity entry. The trail is append-only; no update or
// delete operations are exposed.
func (r *ActivityRepository) Append(ctx context.Context, event *ActivityEvent) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal activity metadata")
		}
	}

	query := `
		INSERT INTO activity_log (invoice_id, type, message, actor_user_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		event.InvoiceID,
		event.Type,
		event.Message,
		event.ActorUserID,
		metadataJSON,
	).Scan(&event.ID, &event.CreatedAt)
}

// ListByInvoice returns the full activity trail for an invoice oldest-first.
func (r *ActivityRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*ActivityEvent, error) {
	query := `
		SELECT id, invoice_id, type, message, actor_user_id, metadata, created_at
		FROM activity_log
		WHERE invoice_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get activity trail")
	}
	defer rows.Close()

	var events []*ActivityEvent
	for rows.Next() {
		event := &ActivityEvent{}
		var metadataJSON []byte
		err := rows.Scan(
			&event.ID,
			&event.InvoiceID,
			&event.Type,
			&event.Message,
			&event.ActorUserID,
			&metadataJSON,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan activity entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal activity metadata")
			}
		}
		events = append(events, event)
	}
	return events, nil
}

package repository

import (
	"context"
	"encoding/json"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/database"
)

// ExportLogRepository appends and reads export attempt records. Every export
// attempt leaves a row, success or failure; nothing is ever updated in place.
type ExportLogRepository struct {
	db *database.DB
}

// NewExportLogRepository creates a new ExportLogRepository.
func NewExportLogRepository(db *database.DB) *ExportLogRepository {
	return &ExportLogRepository{db: db}
}

// Append inserts one export attempt record.
func (r *ExportLogRepository) Append(ctx context.Context, entry *ExportLog) error {
	var responseJSON []byte
	if entry.Response != nil {
		var err error
		responseJSON, err = json.Marshal(entry.Response)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal export response")
		}
	}

	query := `
		INSERT INTO export_logs (invoice_id, success, external_id, response, error_message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		entry.InvoiceID,
		entry.Success,
		entry.ExternalID,
		responseJSON,
		entry.ErrorMessage,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListByInvoice returns all export attempts for an invoice oldest-first.
func (r *ExportLogRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*ExportLog, error) {
	query := `
		SELECT id, invoice_id, success, external_id, response, error_message, created_at
		FROM export_logs
		WHERE invoice_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get export logs")
	}
	defer rows.Close()

	var entries []*ExportLog
	for rows.Next() {
		entry := &ExportLog{}
		var responseJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.InvoiceID,
			&entry.Success,
			&entry.ExternalID,
			&responseJSON,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan export log")
		}
		if responseJSON != nil {
			if err := json.Unmarshal(responseJSON, &entry.Response); err != nil {
				return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal export response")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

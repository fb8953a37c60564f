package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/database"
)

// ApprovalStepsRepository manages the approval ledger for invoices.
// Regeneration is always delete-then-insert inside one transaction so the
// ledger can never be half-updated.
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

// Replace atomically deletes all existing steps for the invoice and inserts
// the freshly generated set.
func (r *ApprovalStepsRepository) Replace(ctx context.Context, invoiceID string, steps []*ApprovalStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM approval_steps WHERE invoice_id = $1`, invoiceID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to clear approval steps")
		}

		query := `
			INSERT INTO approval_steps (invoice_id, rule_id, step_index, approver_user_id, status)
			VALUES ($1, $2, $3, $4, $5::approval_step_status)
			RETURNING id, created_at, updated_at
		`
		for _, step := range steps {
			step.InvoiceID = invoiceID
			err := tx.QueryRow(ctx, query,
				step.InvoiceID,
				step.RuleID,
				step.StepIndex,
				step.ApproverUserID,
				step.Status,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval step")
			}
		}
		return nil
	})
}

// ListByInvoice returns all steps for an invoice ordered by step_index.
func (r *ApprovalStepsRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*ApprovalStep, error) {
	query := `
		SELECT id, invoice_id, rule_id, step_index, approver_user_id,
		       status, decided_at, decision_note, created_at, updated_at
		FROM approval_steps
		WHERE invoice_id = $1
		ORDER BY step_index ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// ListPendingForUser returns the pending steps awaiting a user's decision
// across the company, current-step-first.
func (r *ApprovalStepsRepository) ListPendingForUser(ctx context.Context, companyID, userID string) ([]*ApprovalStep, error) {
	query := `
		SELECT s.id, s.invoice_id, s.rule_id, s.step_index, s.approver_user_id,
		       s.status, s.decided_at, s.decision_note, s.created_at, s.updated_at
		FROM approval_steps s
		JOIN invoices i ON i.id = s.invoice_id
		WHERE i.company_id = $1
		  AND s.approver_user_id = $2
		  AND s.status = 'PENDING'
		  AND i.status = 'PARTIALLY_APPROVED'
		ORDER BY i.created_at ASC, s.step_index ASC
	`

	rows, err := r.db.Query(ctx, query, companyID, userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// DecideIfPending records a decision on a step only if it is still PENDING.
// Returns false when another actor resolved the step first; the caller maps
// that to a conflict.
func (r *ApprovalStepsRepository) DecideIfPending(ctx context.Context, id string, status StepStatus, note *string) (bool, error) {
	query := `
		UPDATE approval_steps
		SET status        = $2::approval_step_status,
		    decided_at    = NOW(),
		    decision_note = $3,
		    updated_at    = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, note).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "failed to record step decision")
	}
	return true, nil
}

// CountPending returns the number of steps still PENDING for an invoice.
func (r *ApprovalStepsRepository) CountPending(ctx context.Context, invoiceID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM approval_steps WHERE invoice_id = $1 AND status = 'PENDING'
	`, invoiceID).Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count pending steps")
	}
	return count, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanStepRows(rows pgx.Rows) ([]*ApprovalStep, error) {
	var steps []*ApprovalStep
	for rows.Next() {
		s := &ApprovalStep{}
		err := rows.Scan(
			&s.ID,
			&s.InvoiceID,
			&s.RuleID,
			&s.StepIndex,
			&s.ApproverUserID,
			&s.Status,
			&s.DecidedAt,
			&s.DecisionNote,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	return steps, nil
}

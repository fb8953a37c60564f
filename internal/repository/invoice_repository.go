package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/database"
)

const invoiceColumns = `
	id, company_id, supplier_id, invoice_number, invoice_date, due_date,
	description, total_ex, total_tax, total_inc, status,
	assignee_user_id, risk_score, is_urgent, document_key,
	created_by, created_at, updated_at`

// InvoiceRepository handles invoice data operations.
type InvoiceRepository struct {
	db *database.DB
}

// NewInvoiceRepository creates a new invoice repository.
func NewInvoiceRepository(db *database.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create inserts a new invoice with its coding splits in one transaction.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *Invoice) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO invoices (company_id, supplier_id, invoice_number, invoice_date, due_date,
			                      description, total_ex, total_tax, total_inc, status,
			                      assignee_user_id, risk_score, is_urgent, document_key, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::invoice_status, $11, $12, $13, $14, $15)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			invoice.CompanyID,
			invoice.SupplierID,
			invoice.InvoiceNumber,
			invoice.InvoiceDate,
			invoice.DueDate,
			invoice.Description,
			invoice.TotalEx,
			invoice.TotalTax,
			invoice.TotalInc,
			invoice.Status,
			invoice.AssigneeUserID,
			invoice.RiskScore,
			invoice.IsUrgent,
			invoice.DocumentKey,
			invoice.CreatedBy,
		).Scan(&invoice.ID, &invoice.CreatedAt, &invoice.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create invoice")
		}

		for _, split := range invoice.Splits {
			split.InvoiceID = invoice.ID
			if err := insertSplit(ctx, tx, split); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertSplit(ctx context.Context, tx pgx.Tx, split *CodingSplit) error {
	query := `
		INSERT INTO invoice_coding_splits (invoice_id, job_id, cost_code_id, account_code, amount, memo)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query,
		split.InvoiceID,
		split.JobID,
		split.CostCodeID,
		split.AccountCode,
		split.Amount,
		split.Memo,
	).Scan(&split.ID, &split.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create coding split")
	}
	return nil
}

// GetByID retrieves an invoice with its coding splits.
func (r *InvoiceRepository) GetByID(ctx context.Context, id, companyID string) (*Invoice, error) {
	query := `SELECT` + invoiceColumns + `
		FROM invoices
		WHERE id = $1 AND company_id = $2
	`

	invoice, err := scanInvoice(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("invoice", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get invoice")
	}

	splits, err := r.GetSplits(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	invoice.Splits = splits
	return invoice, nil
}

// GetSplits retrieves all coding splits for an invoice.
func (r *InvoiceRepository) GetSplits(ctx context.Context, invoiceID string) ([]*CodingSplit, error) {
	query := `
		SELECT id, invoice_id, job_id, cost_code_id, account_code, amount, memo, created_at
		FROM invoice_coding_splits
		WHERE invoice_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get coding splits")
	}
	defer rows.Close()

	splits := make([]*CodingSplit, 0)
	for rows.Next() {
		split := &CodingSplit{}
		err := rows.Scan(
			&split.ID,
			&split.InvoiceID,
			&split.JobID,
			&split.CostCodeID,
			&split.AccountCode,
			&split.Amount,
			&split.Memo,
			&split.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan coding split")
		}
		splits = append(splits, split)
	}
	return splits, nil
}

// ReplaceSplits deletes and recreates the coding splits for an invoice.
func (r *InvoiceRepository) ReplaceSplits(ctx context.Context, invoiceID string, splits []*CodingSplit) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM invoice_coding_splits WHERE invoice_id = $1`, invoiceID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to clear coding splits")
		}
		for _, split := range splits {
			split.InvoiceID = invoiceID
			if err := insertSplit(ctx, tx, split); err != nil {
				return err
			}
		}
		return nil
	})
}

// List retrieves invoices with filtering and pagination.
func (r *InvoiceRepository) List(ctx context.Context, companyID string, status *InvoiceStatus, supplierID *string, limit, offset int) ([]*Invoice, int64, error) {
	query := `SELECT` + invoiceColumns + ` FROM invoices WHERE company_id = $1`
	countQuery := `SELECT COUNT(*) FROM invoices WHERE company_id = $1`

	args := []any{companyID}
	argCount := 2

	if status != nil {
		clause := fmt.Sprintf(" AND status = $%d::invoice_status", argCount)
		query += clause
		countQuery += clause
		args = append(args, *status)
		argCount++
	}
	if supplierID != nil {
		clause := fmt.Sprintf(" AND supplier_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *supplierID)
		argCount++
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count invoices")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list invoices")
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to scan invoice")
		}
		invoices = append(invoices, invoice)
	}
	return invoices, total, nil
}

// ListRoutable returns the company's invoices whose routing is still
// unresolved, i.e. submitted but not yet fully approved, exported or rejected.
func (r *InvoiceRepository) ListRoutable(ctx context.Context, companyID string) ([]*Invoice, error) {
	query := `SELECT` + invoiceColumns + `
		FROM invoices
		WHERE company_id = $1 AND status = 'PARTIALLY_APPROVED'
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list routable invoices")
	}

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan invoice")
		}
		invoices = append(invoices, invoice)
	}
	// Release the connection before the per-invoice split queries below.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list routable invoices")
	}

	// Splits are needed for JOB condition matching during re-routing.
	for _, invoice := range invoices {
		splits, err := r.GetSplits(ctx, invoice.ID)
		if err != nil {
			return nil, err
		}
		invoice.Splits = splits
	}
	return invoices, nil
}

// UpdateStatus sets the invoice status unconditionally.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, status InvoiceStatus) error {
	query := `
		UPDATE invoices
		SET status = $2::invoice_status, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("invoice", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update invoice status")
	}
	return nil
}

// TransitionStatus sets the status only when the invoice is currently in one
// of the allowed source statuses. Returns false when another actor moved the
// invoice first.
func (r *InvoiceRepository) TransitionStatus(ctx context.Context, id string, to InvoiceStatus, from ...InvoiceStatus) (bool, error) {
	query := `
		UPDATE invoices
		SET status = $2::invoice_status, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3::invoice_status[])
		RETURNING id
	`

	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, to, sources).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "failed to transition invoice status")
	}
	return true, nil
}

// UpdateExtractedFields writes the field values produced by extraction and
// marks the invoice PROCESSED.
func (r *InvoiceRepository) UpdateExtractedFields(ctx context.Context, invoice *Invoice) error {
	query := `
		UPDATE invoices
		SET supplier_id    = $2,
		    invoice_number = $3,
		    invoice_date   = $4,
		    due_date       = $5,
		    description    = $6,
		    total_ex       = $7,
		    total_tax      = $8,
		    total_inc      = $9,
		    risk_score     = $10,
		    status         = 'PROCESSED'::invoice_status,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		invoice.ID,
		invoice.SupplierID,
		invoice.InvoiceNumber,
		invoice.InvoiceDate,
		invoice.DueDate,
		invoice.Description,
		invoice.TotalEx,
		invoice.TotalTax,
		invoice.TotalInc,
		invoice.RiskScore,
	).Scan(&invoice.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("invoice", invoice.ID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update extracted fields")
	}
	invoice.Status = StatusProcessed
	return nil
}

// SetUrgent flips the urgent flag.
func (r *InvoiceRepository) SetUrgent(ctx context.Context, id string, urgent bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET is_urgent = $2, updated_at = NOW() WHERE id = $1
	`, id, urgent)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to set urgent flag")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice", id)
	}
	return nil
}

// FindDuplicate looks for another non-rejected invoice of the same company
// sharing (invoice_number, supplier_id), created within the window, whose
// total (inclusive, falling back to exclusive) matches exactly when the
// submitted total is nonzero. Returns nil when no duplicate exists.
func (r *InvoiceRepository) FindDuplicate(ctx context.Context, invoice *Invoice, window time.Duration) (*Invoice, error) {
	if invoice.SupplierID == nil || invoice.InvoiceNumber == "" {
		return nil, nil
	}

	query := `SELECT` + invoiceColumns + `
		FROM invoices
		WHERE company_id = $1
		  AND id <> $2
		  AND invoice_number = $3
		  AND supplier_id = $4
		  AND status <> 'REJECTED'
		  AND created_at > NOW() - $5::interval
		  AND ($6::numeric = 0
		       OR (CASE WHEN total_inc <> 0 THEN total_inc ELSE total_ex END) = $6::numeric)
		ORDER BY created_at ASC
		LIMIT 1
	`

	total := invoice.Total()
	dup, err := scanInvoice(r.db.QueryRow(ctx, query,
		invoice.CompanyID,
		invoice.ID,
		invoice.InvoiceNumber,
		*invoice.SupplierID,
		fmt.Sprintf("%d seconds", int(window.Seconds())),
		total,
	))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to probe for duplicate invoice")
	}
	return dup, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type invoiceScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row invoiceScanner) (*Invoice, error) {
	invoice := &Invoice{
		TotalEx:  decimal.Zero,
		TotalTax: decimal.Zero,
		TotalInc: decimal.Zero,
	}
	err := row.Scan(
		&invoice.ID,
		&invoice.CompanyID,
		&invoice.SupplierID,
		&invoice.InvoiceNumber,
		&invoice.InvoiceDate,
		&invoice.DueDate,
		&invoice.Description,
		&invoice.TotalEx,
		&invoice.TotalTax,
		&invoice.TotalInc,
		&invoice.Status,
		&invoice.AssigneeUserID,
		&invoice.RiskScore,
		&invoice.IsUrgent,
		&invoice.DocumentKey,
		&invoice.CreatedBy,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

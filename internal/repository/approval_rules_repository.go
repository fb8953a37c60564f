package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/database"
)

// ApprovalRulesRepository handles CRUD for approval_rules.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal rule conditions")
	}

	query := `
		INSERT INTO approval_rules
		    (company_id, name, rule_type, is_active, priority, conditions, approver_ids, auto_approve)
		VALUES ($1, $2, $3::approval_rule_type, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rule.CompanyID,
		rule.Name,
		rule.RuleType,
		rule.IsActive,
		rule.Priority,
		conditionsJSON,
		rule.ApproverIDs,
		rule.AutoApprove,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// GetByID retrieves a rule by primary key.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id, companyID string) (*ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, rule_type, is_active, priority,
		       conditions, approver_ids, auto_approve, created_at, updated_at
		FROM approval_rules
		WHERE id = $1 AND company_id = $2
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("approval_rule", id)
	}
	return rule, err
}

// List returns all rules for a company, optionally filtered to active only,
// in deterministic evaluation order (priority asc, created_at asc, id asc).
func (r *ApprovalRulesRepository) List(ctx context.Context, companyID string, activeOnly bool) ([]*ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, rule_type, is_active, priority,
		       conditions, approver_ids, auto_approve, created_at, updated_at
		FROM approval_rules
		WHERE company_id = $1
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, created_at ASC, id ASC"

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Update persists changes to an existing rule.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal rule conditions")
	}

	query := `
		UPDATE approval_rules
		SET name         = $3,
		    rule_type    = $4::approval_rule_type,
		    is_active    = $5,
		    priority     = $6,
		    conditions   = $7,
		    approver_ids = $8,
		    auto_approve = $9,
		    updated_at   = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.CompanyID,
		rule.Name,
		rule.RuleType,
		rule.IsActive,
		rule.Priority,
		conditionsJSON,
		rule.ApproverIDs,
		rule.AutoApprove,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return apperr.NotFound("approval_rule", rule.ID)
	}
	return err
}

// Delete removes an approval rule. Steps referencing it keep their history
// via the ON DELETE SET NULL foreign key.
func (r *ApprovalRulesRepository) Delete(ctx context.Context, id, companyID string) error {
	query := `
		DELETE FROM approval_rules
		WHERE id = $1 AND company_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, companyID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to delete approval rule")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var conditionsJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.Name,
		&rule.RuleType,
		&rule.IsActive,
		&rule.Priority,
		&conditionsJSON,
		&rule.ApproverIDs,
		&rule.AutoApprove,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal rule conditions")
	}
	return rule, nil
}

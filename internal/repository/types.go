package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Invoice lifecycle ────────────────────────────────────────────────────────

// InvoiceStatus is the authoritative lifecycle state of an invoice.
type InvoiceStatus string

const (
	StatusImported          InvoiceStatus = "IMPORTED"
	StatusProcessed         InvoiceStatus = "PROCESSED"
	StatusConfirmed         InvoiceStatus = "CONFIRMED"
	StatusPartiallyApproved InvoiceStatus = "PARTIALLY_APPROVED"
	StatusApproved          InvoiceStatus = "APPROVED"
	StatusRejected          InvoiceStatus = "REJECTED"
	StatusOnHold            InvoiceStatus = "ON_HOLD"
	StatusExported          InvoiceStatus = "EXPORTED"
	StatusFailedExport      InvoiceStatus = "FAILED_EXPORT"
)

// Invoice is an accounts-payable invoice header.
// Monetary totals are decimal, never floats.
type Invoice struct {
	ID             string
	CompanyID      string
	SupplierID     *string // nil until resolved by extraction or coding
	InvoiceNumber  string
	InvoiceDate    *time.Time
	DueDate        *time.Time
	Description    *string
	TotalEx        decimal.Decimal
	TotalTax       decimal.Decimal
	TotalInc       decimal.Decimal
	Status         InvoiceStatus
	AssigneeUserID *string
	RiskScore      int
	IsUrgent       bool
	DocumentKey    *string // object-storage pointer for the source document
	CreatedBy      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Splits         []*CodingSplit
}

// Total returns the inclusive total, falling back to the exclusive total when
// the inclusive one has not been populated yet.
func (i *Invoice) Total() decimal.Decimal {
	if !i.TotalInc.IsZero() {
		return i.TotalInc
	}
	return i.TotalEx
}

// JobIDs returns the distinct job references across the invoice's splits.
func (i *Invoice) JobIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, s := range i.Splits {
		if s.JobID == nil || *s.JobID == "" {
			continue
		}
		if _, ok := seen[*s.JobID]; ok {
			continue
		}
		seen[*s.JobID] = struct{}{}
		ids = append(ids, *s.JobID)
	}
	return ids
}

// CodingSplit allocates part of an invoice's total to a job / cost code.
type CodingSplit struct {
	ID          string
	InvoiceID   string
	JobID       *string
	CostCodeID  *string
	AccountCode *string
	Amount      decimal.Decimal
	Memo        *string
	CreatedAt   time.Time
}

// ── Approval rules ───────────────────────────────────────────────────────────

// RuleType classifies an approval rule.
type RuleType string

const (
	RuleTypeUser        RuleType = "USER"
	RuleTypeCatchAll    RuleType = "USER_CATCH_ALL"
	RuleTypeAutoApprove RuleType = "AUTO_APPROVE"
)

// RuleCondition is one (field, operator, values) constraint. Conditions are
// combined with AND semantics; an empty Values list matches everything.
type RuleCondition struct {
	Field    string   `json:"field"`    // COMPANY | SUPPLIER | JOB | AMOUNT
	Operator string   `json:"operator"` // IN | NOT_IN
	Values   []string `json:"values"`
}

// ApprovalRule is a company-scoped routing rule. Rules are evaluated in
// (priority asc, created_at asc, id asc) order; the first full match wins.
type ApprovalRule struct {
	ID          string
	CompanyID   string
	Name        string
	RuleType    RuleType
	IsActive    bool
	Priority    int
	Conditions  []RuleCondition
	ApproverIDs []string // ordered; defines step order
	AutoApprove bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ── Approval ledger ──────────────────────────────────────────────────────────

// StepStatus is the decision state of one approval step.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
)

// ApprovalStep is one approver's slot in an invoice's approval chain.
// Step indices are contiguous from 0; the lowest-indexed PENDING step is the
// current step.
type ApprovalStep struct {
	ID             string
	InvoiceID      string
	RuleID         *string
	StepIndex      int
	ApproverUserID string
	Status         StepStatus
	DecidedAt      *time.Time
	DecisionNote   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ── Export & audit ───────────────────────────────────────────────────────────

// ExportLog is one append-only record of an export attempt.
type ExportLog struct {
	ID           string
	InvoiceID    string
	Success      bool
	ExternalID   *string
	Response     map[string]any
	ErrorMessage *string
	CreatedAt    time.Time
}

// ActivityEvent is one append-only audit trail entry.
type ActivityEvent struct {
	ID          string
	InvoiceID   string
	Type        string // e.g. confirmed, submitted, approved, rejected, exported
	Message     string
	ActorUserID *string
	Metadata    map[string]any
	CreatedAt   time.Time
}

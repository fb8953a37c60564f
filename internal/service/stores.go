package service

import (
	"context"
	"time"

	"github.com/buildcore-ai/be-ap-approvals/internal/client"
	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

// Store interfaces are satisfied by the repository types; services depend on
// these so tests can substitute fakes without a database.

// InvoiceStore persists invoices and their coding splits.
type InvoiceStore interface {
	Create(ctx context.Context, invoice *repository.Invoice) error
	GetByID(ctx context.Context, id, companyID string) (*repository.Invoice, error)
	List(ctx context.Context, companyID string, status *repository.InvoiceStatus, supplierID *string, limit, offset int) ([]*repository.Invoice, int64, error)
	ListRoutable(ctx context.Context, companyID string) ([]*repository.Invoice, error)
	UpdateStatus(ctx context.Context, id string, status repository.InvoiceStatus) error
	TransitionStatus(ctx context.Context, id string, to repository.InvoiceStatus, from ...repository.InvoiceStatus) (bool, error)
	UpdateExtractedFields(ctx context.Context, invoice *repository.Invoice) error
	ReplaceSplits(ctx context.Context, invoiceID string, splits []*repository.CodingSplit) error
	SetUrgent(ctx context.Context, id string, urgent bool) error
	FindDuplicate(ctx context.Context, invoice *repository.Invoice, window time.Duration) (*repository.Invoice, error)
}

// RuleStore persists approval rules.
type RuleStore interface {
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	GetByID(ctx context.Context, id, companyID string) (*repository.ApprovalRule, error)
	List(ctx context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error)
	Update(ctx context.Context, rule *repository.ApprovalRule) error
	Delete(ctx context.Context, id, companyID string) error
}

// StepStore persists the approval ledger.
type StepStore interface {
	Replace(ctx context.Context, invoiceID string, steps []*repository.ApprovalStep) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*repository.ApprovalStep, error)
	ListPendingForUser(ctx context.Context, companyID, userID string) ([]*repository.ApprovalStep, error)
	DecideIfPending(ctx context.Context, id string, status repository.StepStatus, note *string) (bool, error)
	CountPending(ctx context.Context, invoiceID string) (int, error)
}

// ActivityStore appends audit trail entries.
type ActivityStore interface {
	Append(ctx context.Context, event *repository.ActivityEvent) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*repository.ActivityEvent, error)
}

// ExportLogStore appends export attempt records.
type ExportLogStore interface {
	Append(ctx context.Context, entry *repository.ExportLog) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*repository.ExportLog, error)
}

// ── External collaborators ───────────────────────────────────────────────────

// IdentityProvider resolves users and their approval ceilings.
type IdentityProvider interface {
	GetUser(ctx context.Context, userID string) (*client.User, error)
}

// Extractor reads invoice fields out of a document.
type Extractor interface {
	Extract(ctx context.Context, document []byte, mimeType string) (*client.ExtractionResult, error)
}

// ObjectStore holds source documents.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// BillExporter submits approved invoices to the external accounting system.
type BillExporter interface {
	CreateBill(ctx context.Context, payload *client.BillPayload) (string, error)
}

// Notifier publishes best-effort lifecycle events.
type Notifier interface {
	PublishInvoiceEvent(ctx context.Context, eventType, invoiceID, companyID, actorID string, recipients []string, payload map[string]any)
}

// TaskPublisher hands work off to the queue. Satisfied by queue.Client.
type TaskPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

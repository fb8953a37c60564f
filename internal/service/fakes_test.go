package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/client"
	"github.com/buildcore-ai/be-ap-approvals/internal/logger"
	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

// In-memory fakes for the store interfaces so the state machine is tested
// without a database.

type fakeInvoiceStore struct {
	mu        sync.Mutex
	invoices  map[string]*repository.Invoice
	duplicate *repository.Invoice
	// failTransition makes TransitionStatus report a lost race.
	failTransition bool
}

func newFakeInvoiceStore() *fakeInvoiceStore {
	return &fakeInvoiceStore{invoices: make(map[string]*repository.Invoice)}
}

func (f *fakeInvoiceStore) Create(_ context.Context, invoice *repository.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	invoice.CreatedAt = time.Now()
	f.invoices[invoice.ID] = invoice
	return nil
}

func (f *fakeInvoiceStore) GetByID(_ context.Context, id, companyID string) (*repository.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice, ok := f.invoices[id]
	if !ok || invoice.CompanyID != companyID {
		return nil, apperr.NotFound("invoice", id)
	}
	// Return a detached copy, matching the row-per-query semantics of the
	// real repository.
	cp := *invoice
	return &cp, nil
}

func (f *fakeInvoiceStore) List(_ context.Context, companyID string, status *repository.InvoiceStatus, supplierID *string, limit, offset int) ([]*repository.Invoice, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Invoice
	for _, invoice := range f.invoices {
		if invoice.CompanyID != companyID {
			continue
		}
		if status != nil && invoice.Status != *status {
			continue
		}
		if supplierID != nil && (invoice.SupplierID == nil || *invoice.SupplierID != *supplierID) {
			continue
		}
		out = append(out, invoice)
	}
	return out, int64(len(out)), nil
}

func (f *fakeInvoiceStore) ListRoutable(_ context.Context, companyID string) ([]*repository.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Invoice
	for _, invoice := range f.invoices {
		if invoice.CompanyID == companyID && invoice.Status == repository.StatusPartiallyApproved {
			out = append(out, invoice)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeInvoiceStore) UpdateStatus(_ context.Context, id string, status repository.InvoiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice, ok := f.invoices[id]
	if !ok {
		return apperr.NotFound("invoice", id)
	}
	invoice.Status = status
	return nil
}

func (f *fakeInvoiceStore) TransitionStatus(_ context.Context, id string, to repository.InvoiceStatus, from ...repository.InvoiceStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTransition {
		return false, nil
	}
	invoice, ok := f.invoices[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if invoice.Status == s {
			invoice.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInvoiceStore) UpdateExtractedFields(_ context.Context, invoice *repository.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice.Status = repository.StatusProcessed
	f.invoices[invoice.ID] = invoice
	return nil
}

func (f *fakeInvoiceStore) ReplaceSplits(_ context.Context, invoiceID string, splits []*repository.CodingSplit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice, ok := f.invoices[invoiceID]
	if !ok {
		return apperr.NotFound("invoice", invoiceID)
	}
	invoice.Splits = splits
	return nil
}

func (f *fakeInvoiceStore) SetUrgent(_ context.Context, id string, urgent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice, ok := f.invoices[id]
	if !ok {
		return apperr.NotFound("invoice", id)
	}
	invoice.IsUrgent = urgent
	return nil
}

func (f *fakeInvoiceStore) FindDuplicate(_ context.Context, _ *repository.Invoice, _ time.Duration) (*repository.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duplicate, nil
}

type fakeRuleStore struct {
	mu    sync.Mutex
	rules map[string]*repository.ApprovalRule
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{rules: make(map[string]*repository.ApprovalRule)}
}

func (f *fakeRuleStore) Create(_ context.Context, rule *repository.ApprovalRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = time.Now()
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) GetByID(_ context.Context, id, companyID string) (*repository.ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok || rule.CompanyID != companyID {
		return nil, apperr.NotFound("approval_rule", id)
	}
	return rule, nil
}

func (f *fakeRuleStore) List(_ context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ApprovalRule
	for _, rule := range f.rules {
		if rule.CompanyID != companyID {
			continue
		}
		if activeOnly && !rule.IsActive {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (f *fakeRuleStore) Update(_ context.Context, rule *repository.ApprovalRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[rule.ID]; !ok {
		return apperr.NotFound("approval_rule", rule.ID)
	}
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) Delete(_ context.Context, id, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok || rule.CompanyID != companyID {
		return apperr.NotFound("approval_rule", id)
	}
	delete(f.rules, id)
	return nil
}

type fakeStepStore struct {
	mu    sync.Mutex
	steps map[string][]*repository.ApprovalStep // invoiceID -> ordered steps
}

func newFakeStepStore() *fakeStepStore {
	return &fakeStepStore{steps: make(map[string][]*repository.ApprovalStep)}
}

func (f *fakeStepStore) Replace(_ context.Context, invoiceID string, steps []*repository.ApprovalStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]*repository.ApprovalStep, 0, len(steps))
	for _, step := range steps {
		cp := *step
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		cp.InvoiceID = invoiceID
		stored = append(stored, &cp)
	}
	f.steps[invoiceID] = stored
	return nil
}

func (f *fakeStepStore) ListByInvoice(_ context.Context, invoiceID string) ([]*repository.ApprovalStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	steps := append([]*repository.ApprovalStep(nil), f.steps[invoiceID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepIndex < steps[j].StepIndex })
	return steps, nil
}

func (f *fakeStepStore) ListPendingForUser(_ context.Context, _, userID string) ([]*repository.ApprovalStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ApprovalStep
	for _, steps := range f.steps {
		for _, step := range steps {
			if step.ApproverUserID == userID && step.Status == repository.StepPending {
				out = append(out, step)
			}
		}
	}
	return out, nil
}

func (f *fakeStepStore) DecideIfPending(_ context.Context, id string, status repository.StepStatus, note *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, steps := range f.steps {
		for _, step := range steps {
			if step.ID != id {
				continue
			}
			if step.Status != repository.StepPending {
				return false, nil
			}
			now := time.Now()
			step.Status = status
			step.DecisionNote = note
			step.DecidedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStepStore) CountPending(_ context.Context, invoiceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, step := range f.steps[invoiceID] {
		if step.Status == repository.StepPending {
			n++
		}
	}
	return n, nil
}

type fakeActivityStore struct {
	mu     sync.Mutex
	events []*repository.ActivityEvent
}

func (f *fakeActivityStore) Append(_ context.Context, event *repository.ActivityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeActivityStore) ListByInvoice(_ context.Context, invoiceID string) ([]*repository.ActivityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ActivityEvent
	for _, e := range f.events {
		if e.InvoiceID == invoiceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeActivityStore) typesFor(invoiceID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if e.InvoiceID == invoiceID {
			out = append(out, e.Type)
		}
	}
	return out
}

type fakeExportLogStore struct {
	mu   sync.Mutex
	logs []*repository.ExportLog
}

func (f *fakeExportLogStore) Append(_ context.Context, entry *repository.ExportLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeExportLogStore) ListByInvoice(_ context.Context, invoiceID string) ([]*repository.ExportLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ExportLog
	for _, l := range f.logs {
		if l.InvoiceID == invoiceID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeIdentity struct {
	users map[string]*client.User
}

func (f *fakeIdentity) GetUser(_ context.Context, userID string) (*client.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return user, nil
}

type fakeExtractor struct {
	result *client.ExtractionResult
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _ string) (*client.ExtractionResult, error) {
	return f.result, f.err
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (f *fakeObjectStore) Put(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

type fakeExporter struct {
	externalID string
	err        error
	calls      int
}

func (f *fakeExporter) CreateBill(_ context.Context, _ *client.BillPayload) (string, error) {
	f.calls++
	return f.externalID, f.err
}

type notifiedEvent struct {
	eventType  string
	recipients []string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifiedEvent
}

func (f *fakeNotifier) PublishInvoiceEvent(_ context.Context, eventType, _, _, _ string, recipients []string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notifiedEvent{eventType: eventType, recipients: recipients})
}

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{subject: subject, data: data})
	return nil
}

// testLogger returns a quiet logger for tests.
func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Environment: "test"})
}

package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/approval"
	"github.com/buildcore-ai/be-ap-approvals/internal/client"
	"github.com/buildcore-ai/be-ap-approvals/internal/logger"
	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

// duplicateWindow is how far back the duplicate detector looks at confirm time.
const duplicateWindow = 24 * time.Hour

// InvoiceService owns the invoice lifecycle state machine: every status
// transition goes through here.
type InvoiceService struct {
	invoices   InvoiceStore
	rules      RuleStore
	steps      StepStore
	activity   ActivityStore
	exportLogs ExportLogStore
	identity   IdentityProvider
	extractor  Extractor
	storage    ObjectStore
	exporter   BillExporter
	notifier   Notifier
	log        *logger.Logger
	validate   *validator.Validate
}

// InvoiceServiceDeps bundles the collaborators of InvoiceService.
type InvoiceServiceDeps struct {
	Invoices   InvoiceStore
	Rules      RuleStore
	Steps      StepStore
	Activity   ActivityStore
	ExportLogs ExportLogStore
	Identity   IdentityProvider
	Extractor  Extractor
	Storage    ObjectStore
	Exporter   BillExporter
	Notifier   Notifier
}

// NewInvoiceService creates a new invoice service.
func NewInvoiceService(deps InvoiceServiceDeps, log *logger.Logger) *InvoiceService {
	return &InvoiceService{
		invoices:   deps.Invoices,
		rules:      deps.Rules,
		steps:      deps.Steps,
		activity:   deps.Activity,
		exportLogs: deps.ExportLogs,
		identity:   deps.Identity,
		extractor:  deps.Extractor,
		storage:    deps.Storage,
		exporter:   deps.Exporter,
		notifier:   deps.Notifier,
		log:        log,
		validate:   validator.New(),
	}
}

// ── Requests ─────────────────────────────────────────────────────────────────

// CreateInvoiceRequest creates an invoice from an uploaded document or manual
// entry. Document bytes are optional; when present they are stored and the
// storage key recorded on the invoice.
type CreateInvoiceRequest struct {
	CompanyID     string `validate:"required"`
	SupplierID    *string
	InvoiceNumber string
	Document      []byte
	MimeType      string
	CreatedBy     string
}

// CodingSplitRequest is one coding allocation line.
type CodingSplitRequest struct {
	JobID       *string
	CostCodeID  *string
	AccountCode *string
	Amount      decimal.Decimal
	Memo        *string
}

// ConfirmRequest confirms an invoice's extracted and coded data.
type ConfirmRequest struct {
	ID        string `validate:"required"`
	CompanyID string `validate:"required"`
	ActorID   string `validate:"required"`
	// AllowDuplicate consciously overrides the duplicate detector.
	AllowDuplicate bool
}

// DecisionRequest carries an approve or reject action.
type DecisionRequest struct {
	ID        string `validate:"required"`
	CompanyID string `validate:"required"`
	ActorID   string `validate:"required"`
	Note      *string
}

// BulkApproveResult is the per-invoice outcome of a bulk approval.
type BulkApproveResult struct {
	InvoiceID string `json:"invoice_id"`
	Approved  bool   `json:"approved"`
	Error     string `json:"error,omitempty"`
}

// ── Creation & extraction ────────────────────────────────────────────────────

// CreateInvoice stores the uploaded document (when present) and creates the
// invoice in IMPORTED.
func (s *InvoiceService) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*repository.Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid create request")
	}

	invoice := &repository.Invoice{
		CompanyID:     req.CompanyID,
		SupplierID:    req.SupplierID,
		InvoiceNumber: req.InvoiceNumber,
		Status:        repository.StatusImported,
		TotalEx:       decimal.Zero,
		TotalTax:      decimal.Zero,
		TotalInc:      decimal.Zero,
	}
	if req.CreatedBy != "" {
		invoice.CreatedBy = &req.CreatedBy
	}

	if len(req.Document) > 0 {
		key := "invoices/" + uuid.NewString()
		if err := s.storage.Put(ctx, key, req.Document); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to store document")
		}
		invoice.DocumentKey = &key
	}

	if err := s.invoices.Create(ctx, invoice); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, invoice.ID, "imported", "Invoice imported", req.CreatedBy, nil)
	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("company_id", invoice.CompanyID).
		Msg("Invoice created")

	return invoice, nil
}

// ProcessInvoice runs extraction over the stored document and fills the
// invoice fields, moving IMPORTED → PROCESSED.
func (s *InvoiceService) ProcessInvoice(ctx context.Context, id, companyID string) (*repository.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, id, companyID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != repository.StatusImported {
		return nil, apperr.Newf(apperr.CodePrecondition,
			"cannot process invoice with status %q", invoice.Status)
	}
	if invoice.DocumentKey == nil {
		return nil, apperr.InvalidInput("document", "invoice has no stored document to extract")
	}

	document, err := s.storage.Get(ctx, *invoice.DocumentKey)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "failed to fetch document")
	}

	result, err := s.extractor.Extract(ctx, document, "application/pdf")
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDependency, "extraction failed")
	}

	applyExtraction(invoice, result)
	if err := s.invoices.UpdateExtractedFields(ctx, invoice); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, invoice.ID, "processed", "Extraction completed", "", map[string]any{
		"confidence": result.Confidence,
	})
	s.log.Info().
		Str("invoice_id", invoice.ID).
		Float64("confidence", result.Confidence).
		Msg("Invoice processed")

	return invoice, nil
}

// applyExtraction copies extraction results onto the invoice. Unparseable
// amounts are left at zero for the clerk to fix before confirm.
func applyExtraction(invoice *repository.Invoice, result *client.ExtractionResult) {
	if result.SupplierID != nil {
		invoice.SupplierID = result.SupplierID
	}
	if result.InvoiceNumber != "" {
		invoice.InvoiceNumber = result.InvoiceNumber
	}
	invoice.Description = result.Description
	invoice.InvoiceDate = parseDate(result.InvoiceDate)
	invoice.DueDate = parseDate(result.DueDate)
	invoice.TotalEx = parseAmount(result.TotalEx)
	invoice.TotalTax = parseAmount(result.TotalTax)
	invoice.TotalInc = parseAmount(result.TotalInc)
	if result.Confidence < 0.5 {
		invoice.RiskScore = 80
	}
}

func parseDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil
	}
	return &t
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// UpdateCoding replaces the invoice's coding splits. Allowed while routing is
// not yet underway.
func (s *InvoiceService) UpdateCoding(ctx context.Context, id, companyID string, splits []CodingSplitRequest) (*repository.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, id, companyID)
	if err != nil {
		return nil, err
	}
	switch invoice.Status {
	case repository.StatusImported, repository.StatusProcessed, repository.StatusConfirmed:
	default:
		return nil, apperr.Newf(apperr.CodePrecondition,
			"cannot recode invoice with status %q", invoice.Status)
	}

	records := make([]*repository.CodingSplit, 0, len(splits))
	for _, split := range splits {
		records = append(records, &repository.CodingSplit{
			JobID:       split.JobID,
			CostCodeID:  split.CostCodeID,
			AccountCode: split.AccountCode,
			Amount:      split.Amount,
			Memo:        split.Memo,
		})
	}
	if err := s.invoices.ReplaceSplits(ctx, id, records); err != nil {
		return nil, err
	}
	invoice.Splits = records
	return invoice, nil
}

// ── Confirm ──────────────────────────────────────────────────────────────────

// Confirm validates the invoice's data, runs the duplicate detector and moves
// IMPORTED/PROCESSED → CONFIRMED.
func (s *InvoiceService) Confirm(ctx context.Context, req *ConfirmRequest) (*repository.Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid confirm request")
	}

	invoice, err := s.invoices.GetByID(ctx, req.ID, req.CompanyID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != repository.StatusImported && invoice.Status != repository.StatusProcessed {
		return nil, apperr.Newf(apperr.CodePrecondition,
			"cannot confirm invoice with status %q", invoice.Status)
	}

	if err := validateConfirmable(invoice); err != nil {
		return nil, err
	}

	if !req.AllowDuplicate {
		dup, err := s.invoices.FindDuplicate(ctx, invoice, duplicateWindow)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			// Conflict signal, not a hard error: the caller may override by
			// re-confirming with AllowDuplicate set.
			return nil, apperr.New(apperr.CodeConflict, "probable duplicate invoice").
				WithMeta("duplicate_invoice_id", dup.ID).
				WithMeta("duplicate_status", string(dup.Status))
		}
	}

	ok, err := s.invoices.TransitionStatus(ctx, invoice.ID, repository.StatusConfirmed,
		repository.StatusImported, repository.StatusProcessed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.CodeConflict, "invoice was moved by another actor")
	}
	invoice.Status = repository.StatusConfirmed

	s.recordActivity(ctx, invoice.ID, "confirmed", "Invoice confirmed", req.ActorID, nil)
	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("invoice_number", invoice.InvoiceNumber).
		Str("actor", req.ActorID).
		Msg("Invoice confirmed")

	return invoice, nil
}

// validateConfirmable enforces the data completeness rules for confirm.
func validateConfirmable(invoice *repository.Invoice) error {
	if invoice.InvoiceNumber == "" {
		return apperr.InvalidInput("invoice_number", "invoice number is required")
	}
	if invoice.SupplierID == nil || *invoice.SupplierID == "" {
		return apperr.InvalidInput("supplier_id", "supplier must be resolved before confirming")
	}
	if !invoice.Total().IsPositive() {
		return apperr.InvalidInput("total", "invoice total must be positive")
	}
	if len(invoice.Splits) == 0 {
		return apperr.InvalidInput("splits", "invoice must have at least one coding split")
	}
	if len(invoice.JobIDs()) == 0 {
		return apperr.InvalidInput("splits", "at least one coding split must reference a job")
	}
	return nil
}

// ── Submit ───────────────────────────────────────────────────────────────────

// Submit routes a CONFIRMED invoice: the first matching rule generates the
// approval steps. A matched auto-approve rule approves immediately; an
// unrouted invoice still proceeds so the pipeline is never blocked.
func (s *InvoiceService) Submit(ctx context.Context, req *DecisionRequest) (*repository.Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid submit request")
	}

	invoice, err := s.invoices.GetByID(ctx, req.ID, req.CompanyID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != repository.StatusConfirmed {
		return nil, apperr.Newf(apperr.CodePrecondition,
			"cannot submit invoice with status %q", invoice.Status)
	}

	rules, err := s.rules.List(ctx, req.CompanyID, true)
	if err != nil {
		return nil, err
	}

	sel := approval.SelectRule(rules, approval.AttributesOf(invoice))
	steps := approval.GenerateSteps(sel.Rule)

	target := repository.StatusPartiallyApproved
	if sel.Matched && len(steps) == 0 {
		target = repository.StatusApproved
	}
	if !sel.Matched {
		s.log.Warn().
			Str("invoice_id", invoice.ID).
			Str("company_id", req.CompanyID).
			Msg("No approval rule matched; invoice proceeds unrouted")
	}

	// Claim the submit before writing the ledger: the loser of a racing
	// submit must not touch the winner's steps.
	ok, err := s.invoices.TransitionStatus(ctx, invoice.ID, target, repository.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.CodeConflict, "invoice was moved by another actor")
	}
	invoice.Status = target

	// Replace even when empty so a stale ledger from a prior cycle is cleared.
	if err := s.steps.Replace(ctx, invoice.ID, steps); err != nil {
		return nil, err
	}

	meta := map[string]any{"steps": len(steps)}
	if sel.Matched {
		meta["rule_id"] = sel.Rule.ID
		meta["rule_name"] = sel.RuleName
	}
	s.recordActivity(ctx, invoice.ID, "submitted", "Invoice submitted for approval", req.ActorID, meta)

	if len(steps) > 0 {
		s.notifier.PublishInvoiceEvent(ctx, "invoice_approval_required", invoice.ID,
			invoice.CompanyID, req.ActorID, []string{steps[0].ApproverUserID},
			map[string]any{"invoice_number": invoice.InvoiceNumber})
	}

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("rule", sel.RuleName).
		Int("steps", len(steps)).
		Str("status", string(target)).
		Msg("Invoice submitted")

	return invoice, nil
}

// ── Approve / Reject ─────────────────────────────────────────────────────────

// Approve records the current approver's decision. The step update is an
// atomic PENDING-conditional write so two racing approvals resolve to exactly
// one winner.
func (s *InvoiceService) Approve(ctx context.Context, req *DecisionRequest) (*repository.Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid approve request")
	}

	invoice, err := s.invoices.GetByID(ctx, req.ID, req.CompanyID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != repository.StatusPartiallyApproved {
		// A re-approval after the chain completed is a duplicate decision,
		// not a bad precondition.
		if invoice.Status == repository.StatusApproved {
			steps, err := s.steps.ListByInvoice(ctx, invoice.ID)
			if err != nil {
				return nil, err
			}
			if stepDecidedBy(steps, req.ActorID) {
				return nil, apperr.New(apperr.CodeConflict, "your approval step is already resolved")
			}
		}
		return nil, apperr.Newf(apperr.CodePrecondition,
			"cannot approve invoice with status %q", invoice.Status)
	}

	steps, err := s.steps.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	current := approval.CurrentStep(steps)
	if current == nil {
		return nil, apperr.New(apperr.CodeConflict, "invoice has no pending approval step")
	}
	if current.ApproverUserID != req.ActorID {
		// An actor whose only steps are already decided gets a duplicate-
		// decision conflict; an actor still waiting their turn does not.
		if !stepPendingFor(steps, req.ActorID) && stepDecidedBy(steps, req.ActorID) {
			return nil, apperr.New(apperr.CodeConflict, "your approval step is already resolved")
		}
		return nil, apperr.New(apperr.CodeUnauthorized, "it is not your turn to approve this invoice")
	}

	if err := s.checkSpendLimit(ctx, req.ActorID, invoice); err != nil {
		return nil, err
	}

	ok, err := s.steps.DecideIfPending(ctx, current.ID, repository.StepApproved, req.Note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.CodeConflict, "approval step is no longer pending")
	}

	remaining, err := s.steps.CountPending(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		if err := s.invoices.UpdateStatus(ctx, invoice.ID, repository.StatusApproved); err != nil {
			return nil, err
		}
		invoice.Status = repository.StatusApproved
		s.notifier.PublishInvoiceEvent(ctx, "invoice_approved", invoice.ID,
			invoice.CompanyID, req.ActorID, recipientsOf(invoice),
			map[string]any{"invoice_number": invoice.InvoiceNumber})
	} else if next := nextPending(steps, current.StepIndex); next != nil {
		s.notifier.PublishInvoiceEvent(ctx, "invoice_approval_required", invoice.ID,
			invoice.CompanyID, req.ActorID, []string{next.ApproverUserID},
			map[string]any{"invoice_number": invoice.InvoiceNumber})
	}

	s.recordActivity(ctx, invoice.ID, "approved", "Approval step completed", req.ActorID, map[string]any{
		"step_index": current.StepIndex,
		"complete":   remaining == 0,
	})
	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("actor", req.ActorID).
		Int("step_index", current.StepIndex).
		Int("pending_remaining", remaining).
		Msg("Approval recorded")

	return invoice, nil
}

// checkSpendLimit enforces the actor's personal approval ceiling. A zero
// limit means unlimited.
func (s *InvoiceService) checkSpendLimit(ctx context.Context, actorID string, invoice *repository.Invoice) error {
	user, err := s.identity.GetUser(ctx, actorID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDependency, "failed to resolve approver")
	}
	if user.ApprovalLimit.IsPositive() && invoice.Total().GreaterThan(user.ApprovalLimit) {
		return apperr.Newf(apperr.CodeUnauthorized,
			"invoice total %s exceeds your approval limit %s",
			invoice.Total().StringFixed(2), user.ApprovalLimit.StringFixed(2))
	}
	return nil
}

func stepDecidedBy(steps []*repository.ApprovalStep, actorID string) bool {
	for _, step := range steps {
		if step.ApproverUserID == actorID && step.Status != repository.StepPending {
			return true
		}
	}
	return false
}

func stepPendingFor(steps []*repository.ApprovalStep, actorID string) bool {
	for _, step := range steps {
		if step.ApproverUserID == actorID && step.Status == repository.StepPending {
			return true
		}
	}
	return false
}

func nextPending(steps []*repository.ApprovalStep, afterIndex int) *repository.ApprovalStep {
	for _, step := range steps {
		if step.StepIndex > afterIndex && step.Status == repository.StepPending {
			return step
		}
	}
	return nil
}

func recipientsOf(invoice *repository.Invoice) []string {
	if invoice.CreatedBy != nil && *invoice.CreatedBy != "" {
		return []string{*invoice.CreatedBy}
	}
	return nil
}

// Reject marks the actor's own pending step(s) rejected and the invoice
// REJECTED. Other approvers' pending steps are left untouched; rejection is
// terminal for this submission cycle and a fresh submit starts over.
func (s *InvoiceService) Reject(ctx context.Context, req *DecisionRequest) (*repository.Invoice, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid reject request")
	}
	if req.Note == nil || *req.Note == "" {
		return nil, apperr.InvalidInput("note", "a rejection note is required")
	}

	invoice, err := s.invoices.GetByID(ctx, req.ID, req.CompanyID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != repository.StatusPartiallyApproved {
		return nil, apperr.Newf(apperr.CodePrecondition,
			"cannot reject invoice with status %q", invoice.Status)
	}

	steps, err := s.steps.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}

	var owned, rejected int
	for _, step := range steps {
		if step.ApproverUserID != req.ActorID {
			continue
		}
		owned++
		if step.Status != repository.StepPending {
			continue
		}
		ok, err := s.steps.DecideIfPending(ctx, step.ID, repository.StepRejected, req.Note)
		if err != nil {
			return nil, err
		}
		if ok {
			rejected++
		}
	}
	if owned == 0 {
		return nil, apperr.New(apperr.CodeUnauthorized, "you are not an approver for this invoice")
	}
	if rejected == 0 {
		return nil, apperr.New(apperr.CodeConflict, "your approval step is already resolved")
	}

	if err := s.invoices.UpdateStatus(ctx, invoice.ID, repository.StatusRejected); err != nil {
		return nil, err
	}
	invoice.Status = repository.StatusRejected

	s.recordActivity(ctx, invoice.ID, "rejected", "Invoice rejected", req.ActorID, map[string]any{
		"note": *req.Note,
	})
	s.notifier.PublishInvoiceEvent(ctx, "invoice_rejected", invoice.ID,
		invoice.CompanyID, req.ActorID, recipientsOf(invoice),
		map[string]any{"note": *req.Note})

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("actor", req.ActorID).
		Msg("Invoice rejected")

	return invoice, nil
}

// BulkApprove applies the single-approve rules independently per invoice.
// Partial success is expected: one bad invoice never fails the batch.
func (s *InvoiceService) BulkApprove(ctx context.Context, invoiceIDs []string, companyID, actorID string) []BulkApproveResult {
	results := make([]BulkApproveResult, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		_, err := s.Approve(ctx, &DecisionRequest{ID: id, CompanyID: companyID, ActorID: actorID})
		result := BulkApproveResult{InvoiceID: id, Approved: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// ── Flags ────────────────────────────────────────────────────────────────────

// ToggleHold parks or releases an invoice. Releasing restores PROCESSED when
// totals were already populated, IMPORTED otherwise.
func (s *InvoiceService) ToggleHold(ctx context.Context, id, companyID, actorID string) (*repository.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, id, companyID)
	if err != nil {
		return nil, err
	}

	var target repository.InvoiceStatus
	switch invoice.Status {
	case repository.StatusOnHold:
		target = repository.StatusImported
		if !invoice.TotalEx.IsZero() || !invoice.TotalInc.IsZero() {
			target = repository.StatusProcessed
		}
	case repository.StatusImported, repository.StatusProcessed:
		target = repository.StatusOnHold
	default:
		return nil, apperr.Newf(apperr.CodePrecondition,
			"cannot toggle hold on invoice with status %q", invoice.Status)
	}

	if err := s.invoices.UpdateStatus(ctx, invoice.ID, target); err != nil {
		return nil, err
	}
	invoice.Status = target

	event := "hold_set"
	if target != repository.StatusOnHold {
		event = "hold_released"
	}
	s.recordActivity(ctx, invoice.ID, event, "Hold toggled", actorID, nil)
	return invoice, nil
}

// ToggleUrgent flips the urgent flag. Orthogonal to status.
func (s *InvoiceService) ToggleUrgent(ctx context.Context, id, companyID, actorID string) (*repository.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, id, companyID)
	if err != nil {
		return nil, err
	}
	if err := s.invoices.SetUrgent(ctx, invoice.ID, !invoice.IsUrgent); err != nil {
		return nil, err
	}
	invoice.IsUrgent = !invoice.IsUrgent

	s.recordActivity(ctx, invoice.ID, "urgent_toggled", "Urgent flag toggled", actorID, map[string]any{
		"urgent": invoice.IsUrgent,
	})
	return invoice, nil
}

// ── Export ───────────────────────────────────────────────────────────────────

// Export submits an APPROVED invoice to the external accounting system.
// Failure leaves the invoice in FAILED_EXPORT with a logged attempt; a human
// retries by calling Export again.
func (s *InvoiceService) Export(ctx context.Context, id, companyID, actorID string) (*repository.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, id, companyID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != repository.StatusApproved && invoice.Status != repository.StatusFailedExport {
		return nil, apperr.Newf(apperr.CodePrecondition,
			"cannot export invoice with status %q", invoice.Status)
	}
	if invoice.SupplierID == nil {
		return nil, apperr.InvalidInput("supplier_id", "cannot export an invoice without a supplier")
	}

	payload := buildBillPayload(invoice)
	externalID, exportErr := s.exporter.CreateBill(ctx, payload)

	if exportErr != nil {
		msg := exportErr.Error()
		if err := s.invoices.UpdateStatus(ctx, invoice.ID, repository.StatusFailedExport); err != nil {
			return nil, err
		}
		invoice.Status = repository.StatusFailedExport
		s.appendExportLog(ctx, &repository.ExportLog{
			InvoiceID:    invoice.ID,
			Success:      false,
			ErrorMessage: &msg,
		})
		s.recordActivity(ctx, invoice.ID, "export_failed", "Export failed", actorID, map[string]any{
			"error": msg,
		})
		s.log.Error().Err(exportErr).
			Str("invoice_id", invoice.ID).
			Msg("Invoice export failed")
		return invoice, apperr.Wrap(exportErr, apperr.CodeDependency, "accounting export failed")
	}

	if err := s.invoices.UpdateStatus(ctx, invoice.ID, repository.StatusExported); err != nil {
		return nil, err
	}
	invoice.Status = repository.StatusExported
	s.appendExportLog(ctx, &repository.ExportLog{
		InvoiceID:  invoice.ID,
		Success:    true,
		ExternalID: &externalID,
		Response:   map[string]any{"external_id": externalID},
	})
	s.recordActivity(ctx, invoice.ID, "exported", "Invoice exported", actorID, map[string]any{
		"external_id": externalID,
	})
	s.notifier.PublishInvoiceEvent(ctx, "invoice_exported", invoice.ID,
		invoice.CompanyID, actorID, recipientsOf(invoice),
		map[string]any{"external_id": externalID})

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("external_id", externalID).
		Msg("Invoice exported")

	return invoice, nil
}

func buildBillPayload(invoice *repository.Invoice) *client.BillPayload {
	payload := &client.BillPayload{
		InvoiceID:     invoice.ID,
		CompanyID:     invoice.CompanyID,
		SupplierID:    *invoice.SupplierID,
		InvoiceNumber: invoice.InvoiceNumber,
		TotalEx:       invoice.TotalEx.StringFixed(2),
		TotalTax:      invoice.TotalTax.StringFixed(2),
		TotalInc:      invoice.TotalInc.StringFixed(2),
	}
	if invoice.InvoiceDate != nil {
		d := invoice.InvoiceDate.Format("2006-01-02")
		payload.InvoiceDate = &d
	}
	if invoice.DueDate != nil {
		d := invoice.DueDate.Format("2006-01-02")
		payload.DueDate = &d
	}
	for _, split := range invoice.Splits {
		payload.Lines = append(payload.Lines, client.BillLine{
			JobID:       split.JobID,
			CostCodeID:  split.CostCodeID,
			AccountCode: split.AccountCode,
			Amount:      split.Amount.StringFixed(2),
			Memo:        split.Memo,
		})
	}
	return payload
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetInvoice retrieves an invoice with splits and its approval steps.
func (s *InvoiceService) GetInvoice(ctx context.Context, id, companyID string) (*repository.Invoice, []*repository.ApprovalStep, error) {
	invoice, err := s.invoices.GetByID(ctx, id, companyID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.steps.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, nil, err
	}
	return invoice, steps, nil
}

// ListInvoices lists invoices with filtering and pagination.
func (s *InvoiceService) ListInvoices(ctx context.Context, companyID string, status *repository.InvoiceStatus, supplierID *string, page, pageSize int) ([]*repository.Invoice, int64, error) {
	offset := (page - 1) * pageSize
	return s.invoices.List(ctx, companyID, status, supplierID, pageSize, offset)
}

// ListPendingApprovals returns pending steps awaiting a user's decision.
func (s *InvoiceService) ListPendingApprovals(ctx context.Context, companyID, userID string) ([]*repository.ApprovalStep, error) {
	return s.steps.ListPendingForUser(ctx, companyID, userID)
}

// GetActivity returns the invoice's audit trail.
func (s *InvoiceService) GetActivity(ctx context.Context, invoiceID string) ([]*repository.ActivityEvent, error) {
	return s.activity.ListByInvoice(ctx, invoiceID)
}

// GetExportLogs returns the invoice's export attempts.
func (s *InvoiceService) GetExportLogs(ctx context.Context, invoiceID string) ([]*repository.ExportLog, error) {
	return s.exportLogs.ListByInvoice(ctx, invoiceID)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

// recordActivity writes an audit entry and logs a warning on failure; the
// trail is best-effort and never fails a transition.
func (s *InvoiceService) recordActivity(ctx context.Context, invoiceID, eventType, message, actorID string, meta map[string]any) {
	event := &repository.ActivityEvent{
		InvoiceID: invoiceID,
		Type:      eventType,
		Message:   message,
		Metadata:  meta,
	}
	if actorID != "" {
		event.ActorUserID = &actorID
	}
	if err := s.activity.Append(ctx, event); err != nil {
		s.log.Warn().Err(err).
			Str("invoice_id", invoiceID).
			Str("type", eventType).
			Msg("Failed to write activity entry")
	}
}

func (s *InvoiceService) appendExportLog(ctx context.Context, entry *repository.ExportLog) {
	if err := s.exportLogs.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("invoice_id", entry.InvoiceID).
			Msg("Failed to write export log entry")
	}
}

package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/logger"
	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
	"github.com/buildcore-ai/be-ap-approvals/internal/service"
)

// HTTPHandler exposes the invoice lifecycle and rule management over HTTP.
type HTTPHandler struct {
	invoices *service.InvoiceService
	rules    *service.RuleService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(invoices *service.InvoiceService, rules *service.RuleService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		invoices: invoices,
		rules:    rules,
		log:      log,
	}
}

// ── Error & response helpers ─────────────────────────────────────────────────

func statusOf(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodePrecondition:
		return http.StatusUnprocessableEntity
	case apperr.CodeUnauthorized:
		return http.StatusForbidden
	case apperr.CodeDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	body := map[string]any{
		"error": err.Error(),
		"code":  string(apperr.CodeOf(err)),
	}
	if meta := apperr.MetaOf(err); len(meta) > 0 {
		body["meta"] = meta
	}
	h.writeJSON(w, statusOf(err), body)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// actorID is carried in a header until an auth gateway fronts this service.
func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// ── Invoices ─────────────────────────────────────────────────────────────────

type createInvoiceBody struct {
	CompanyID     string  `json:"company_id"`
	SupplierID    *string `json:"supplier_id"`
	InvoiceNumber string  `json:"invoice_number"`
	Document      string  `json:"document"` // base64
	MimeType      string  `json:"mime_type"`
}

// CreateInvoice handles create invoice HTTP requests.
func (h *HTTPHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var body createInvoiceBody
	if !decodeBody(w, r, &body) {
		return
	}

	req := &service.CreateInvoiceRequest{
		CompanyID:     body.CompanyID,
		SupplierID:    body.SupplierID,
		InvoiceNumber: body.InvoiceNumber,
		MimeType:      body.MimeType,
		CreatedBy:     actorID(r),
	}
	if body.Document != "" {
		document, err := base64.StdEncoding.DecodeString(body.Document)
		if err != nil {
			http.Error(w, "Document must be base64 encoded", http.StatusBadRequest)
			return
		}
		req.Document = document
	}

	invoice, err := h.invoices.CreateInvoice(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, invoice)
}

// GetInvoice handles get invoice HTTP requests.
func (h *HTTPHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if id == "" || companyID == "" {
		http.Error(w, "Invoice ID and Company ID are required", http.StatusBadRequest)
		return
	}

	invoice, steps, err := h.invoices.GetInvoice(r.Context(), id, companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoice": invoice,
		"steps":   steps,
	})
}

// ListInvoices handles list invoices HTTP requests.
func (h *HTTPHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		http.Error(w, "Company ID is required", http.StatusBadRequest)
		return
	}

	var statusPtr *repository.InvoiceStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := repository.InvoiceStatus(s)
		statusPtr = &status
	}
	var supplierPtr *string
	if s := r.URL.Query().Get("supplier_id"); s != "" {
		supplierPtr = &s
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	invoices, total, err := h.invoices.ListInvoices(r.Context(), companyID, statusPtr, supplierPtr, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoices":  invoices,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type invoiceActionBody struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
}

// ProcessInvoice handles extraction HTTP requests.
func (h *HTTPHandler) ProcessInvoice(w http.ResponseWriter, r *http.Request) {
	var body invoiceActionBody
	if !decodeBody(w, r, &body) {
		return
	}
	invoice, err := h.invoices.ProcessInvoice(r.Context(), body.ID, body.CompanyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

type codingBody struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Splits    []struct {
		JobID       *string         `json:"job_id"`
		CostCodeID  *string         `json:"cost_code_id"`
		AccountCode *string         `json:"account_code"`
		Amount      decimal.Decimal `json:"amount"`
		Memo        *string         `json:"memo"`
	} `json:"splits"`
}

// UpdateCoding handles coding split replacement HTTP requests.
func (h *HTTPHandler) UpdateCoding(w http.ResponseWriter, r *http.Request) {
	var body codingBody
	if !decodeBody(w, r, &body) {
		return
	}

	splits := make([]service.CodingSplitRequest, 0, len(body.Splits))
	for _, s := range body.Splits {
		splits = append(splits, service.CodingSplitRequest{
			JobID:       s.JobID,
			CostCodeID:  s.CostCodeID,
			AccountCode: s.AccountCode,
			Amount:      s.Amount,
			Memo:        s.Memo,
		})
	}

	invoice, err := h.invoices.UpdateCoding(r.Context(), body.ID, body.CompanyID, splits)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

type confirmBody struct {
	ID             string `json:"id"`
	CompanyID      string `json:"company_id"`
	AllowDuplicate bool   `json:"allow_duplicate"`
}

// ConfirmInvoice handles confirm HTTP requests.
func (h *HTTPHandler) ConfirmInvoice(w http.ResponseWriter, r *http.Request) {
	var body confirmBody
	if !decodeBody(w, r, &body) {
		return
	}
	invoice, err := h.invoices.Confirm(r.Context(), &service.ConfirmRequest{
		ID:             body.ID,
		CompanyID:      body.CompanyID,
		ActorID:        actorID(r),
		AllowDuplicate: body.AllowDuplicate,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

type decisionBody struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	Note      *string `json:"note"`
}

func (h *HTTPHandler) decision(r *http.Request, body *decisionBody) *service.DecisionRequest {
	return &service.DecisionRequest{
		ID:        body.ID,
		CompanyID: body.CompanyID,
		ActorID:   actorID(r),
		Note:      body.Note,
	}
}

// SubmitInvoice handles submit-for-approval HTTP requests.
func (h *HTTPHandler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !decodeBody(w, r, &body) {
		return
	}
	invoice, err := h.invoices.Submit(r.Context(), h.decision(r, &body))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

// ApproveInvoice handles approve HTTP requests.
func (h *HTTPHandler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !decodeBody(w, r, &body) {
		return
	}
	invoice, err := h.invoices.Approve(r.Context(), h.decision(r, &body))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

// RejectInvoice handles reject HTTP requests.
func (h *HTTPHandler) RejectInvoice(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !decodeBody(w, r, &body) {
		return
	}
	invoice, err := h.invoices.Reject(r.Context(), h.decision(r, &body))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

type bulkApproveBody struct {
	IDs       []string `json:"ids"`
	CompanyID string   `json:"company_id"`
}

// BulkApprove handles bulk approve HTTP requests. Always 200; per-invoice
// outcomes are in the body.
func (h *HTTPHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	var body bulkApproveBody
	if !decodeBody(w, r, &body) {
		return
	}
	results := h.invoices.BulkApprove(r.Context(), body.IDs, body.CompanyID, actorID(r))
	h.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ToggleHold handles hold toggle HTTP requests.
func (h *HTTPHandler) ToggleHold(w http.ResponseWriter, r *http.Request) {
	var body invoiceActionBody
	if !decodeBody(w, r, &body) {
		return
	}
	invoice, err := h.invoices.ToggleHold(r.Context(), body.ID, body.CompanyID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

// ToggleUrgent handles urgent toggle HTTP requests.
func (h *HTTPHandler) ToggleUrgent(w http.ResponseWriter, r *http.Request) {
	var body invoiceActionBody
	if !decodeBody(w, r, &body) {
		return
	}
	invoice, err := h.invoices.ToggleUrgent(r.Context(), body.ID, body.CompanyID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

// ExportInvoice handles export HTTP requests.
func (h *HTTPHandler) ExportInvoice(w http.ResponseWriter, r *http.Request) {
	var body invoiceActionBody
	if !decodeBody(w, r, &body) {
		return
	}
	invoice, err := h.invoices.Export(r.Context(), body.ID, body.CompanyID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, invoice)
}

// GetActivity handles audit trail HTTP requests.
func (h *HTTPHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Invoice ID is required", http.StatusBadRequest)
		return
	}
	events, err := h.invoices.GetActivity(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GetExportLogs handles export log HTTP requests.
func (h *HTTPHandler) GetExportLogs(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Invoice ID is required", http.StatusBadRequest)
		return
	}
	logs, err := h.invoices.GetExportLogs(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// ListPendingApprovals handles the approver work queue HTTP requests.
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		http.Error(w, "Company ID is required", http.StatusBadRequest)
		return
	}
	userID := actorID(r)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	steps, err := h.invoices.ListPendingApprovals(r.Context(), companyID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// ── Rules ────────────────────────────────────────────────────────────────────

type ruleBody struct {
	ID          string                     `json:"id"`
	CompanyID   string                     `json:"company_id"`
	Name        string                     `json:"name"`
	RuleType    repository.RuleType        `json:"rule_type"`
	IsActive    *bool                      `json:"is_active"`
	Priority    int                        `json:"priority"`
	Conditions  []repository.RuleCondition `json:"conditions"`
	ApproverIDs []string                   `json:"approver_ids"`
	AutoApprove bool                       `json:"auto_approve"`
}

func (b *ruleBody) toRequest() *service.RuleRequest {
	return &service.RuleRequest{
		CompanyID:   b.CompanyID,
		Name:        b.Name,
		RuleType:    b.RuleType,
		IsActive:    b.IsActive,
		Priority:    b.Priority,
		Conditions:  b.Conditions,
		ApproverIDs: b.ApproverIDs,
		AutoApprove: b.AutoApprove,
	}
}

// CreateRule handles rule creation HTTP requests.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if !decodeBody(w, r, &body) {
		return
	}
	rule, err := h.rules.CreateRule(r.Context(), body.toRequest())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rule)
}

// GetRule handles get rule HTTP requests.
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if id == "" || companyID == "" {
		http.Error(w, "Rule ID and Company ID are required", http.StatusBadRequest)
		return
	}
	rule, err := h.rules.GetRule(r.Context(), id, companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// ListRules handles list rules HTTP requests.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		http.Error(w, "Company ID is required", http.StatusBadRequest)
		return
	}
	activeOnly := r.URL.Query().Get("active_only") == "true"

	rules, err := h.rules.ListRules(r.Context(), companyID, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// UpdateRule handles rule update HTTP requests.
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ID == "" {
		http.Error(w, "Rule ID is required", http.StatusBadRequest)
		return
	}
	rule, err := h.rules.UpdateRule(r.Context(), body.ID, body.toRequest())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles rule deletion HTTP requests.
func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if id == "" || companyID == "" {
		http.Error(w, "Rule ID and Company ID are required", http.StatusBadRequest)
		return
	}
	if err := h.rules.DeleteRule(r.Context(), id, companyID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

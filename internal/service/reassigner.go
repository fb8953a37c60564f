package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/buildcore-ai/be-ap-approvals/internal/approval"
	"github.com/buildcore-ai/be-ap-approvals/internal/logger"
	"github.com/buildcore-ai/be-ap-approvals/internal/queue"
	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

// Reassigner reroutes in-flight invoices against the current rule set after a
// rule change. Per-invoice failures are logged and skipped so one bad invoice
// never stalls the rest of the batch.
type Reassigner struct {
	invoices InvoiceStore
	rules    RuleStore
	steps    StepStore
	activity ActivityStore
	log      *logger.Logger
}

// NewReassigner creates a new reassigner.
func NewReassigner(invoices InvoiceStore, rules RuleStore, steps StepStore, activity ActivityStore, log *logger.Logger) *Reassigner {
	return &Reassigner{
		invoices: invoices,
		rules:    rules,
		steps:    steps,
		activity: activity,
		log:      log,
	}
}

// Start subscribes the reassigner to the reroute subject. The subscription
// lives until the connection is closed.
func (r *Reassigner) Start(nc *queue.Client) error {
	_, err := nc.Subscribe(SubjectReassign, func(data []byte) {
		var msg reassignMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.log.Error().Err(err).Msg("Malformed reassign message")
			return
		}
		if msg.CompanyID == "" {
			r.log.Error().Msg("Reassign message missing company id")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.RerouteCompany(ctx, msg.CompanyID); err != nil {
			r.log.Error().Err(err).
				Str("company_id", msg.CompanyID).
				Msg("Invoice rerouting failed")
		}
	})
	return err
}

// RerouteCompany regenerates the approval ledger for every invoice of the
// company that is still mid-approval. Already-recorded decisions are
// discarded; the new chain starts fresh.
func (r *Reassigner) RerouteCompany(ctx context.Context, companyID string) error {
	invoices, err := r.invoices.ListRoutable(ctx, companyID)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		return nil
	}

	rules, err := r.rules.List(ctx, companyID, true)
	if err != nil {
		return err
	}

	var rerouted, failed int
	for _, invoice := range invoices {
		if err := r.rerouteInvoice(ctx, invoice, rules); err != nil {
			failed++
			r.log.Error().Err(err).
				Str("invoice_id", invoice.ID).
				Msg("Failed to reroute invoice")
			continue
		}
		rerouted++
	}

	r.log.Info().
		Str("company_id", companyID).
		Int("rerouted", rerouted).
		Int("failed", failed).
		Msg("Invoice rerouting completed")

	return nil
}

func (r *Reassigner) rerouteInvoice(ctx context.Context, invoice *repository.Invoice, rules []*repository.ApprovalRule) error {
	sel := approval.SelectRule(rules, approval.AttributesOf(invoice))
	steps := approval.GenerateSteps(sel.Rule)

	if err := r.steps.Replace(ctx, invoice.ID, steps); err != nil {
		return err
	}

	if sel.Matched && len(steps) == 0 {
		ok, err := r.invoices.TransitionStatus(ctx, invoice.ID, repository.StatusApproved,
			repository.StatusPartiallyApproved)
		if err != nil {
			return err
		}
		if !ok {
			// Moved concurrently; the new owner's transition stands.
			return nil
		}
	}

	meta := map[string]any{"steps": len(steps)}
	if sel.Matched {
		meta["rule_id"] = sel.Rule.ID
		meta["rule_name"] = sel.RuleName
	}
	event := &repository.ActivityEvent{
		InvoiceID: invoice.ID,
		Type:      "rerouted",
		Message:   "Approval chain regenerated after rule change",
		Metadata:  meta,
	}
	if err := r.activity.Append(ctx, event); err != nil {
		r.log.Warn().Err(err).
			Str("invoice_id", invoice.ID).
			Msg("Failed to write activity entry")
	}
	return nil
}

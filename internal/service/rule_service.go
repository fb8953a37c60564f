package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/approval"
	"github.com/buildcore-ai/be-ap-approvals/internal/logger"
	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

// SubjectReassign is the queue subject that triggers rerouting of in-flight
// invoices after a rule change.
const SubjectReassign = "ap.approvals.reassign"

// reassignMessage is the queue payload for a reroute request.
type reassignMessage struct {
	CompanyID string `json:"company_id"`
}

// RuleService manages approval rules. Every mutation schedules a reroute of
// the company's in-flight invoices so the ledger never reflects a stale rule
// set.
type RuleService struct {
	rules      RuleStore
	publisher  TaskPublisher
	reassigner *Reassigner
	log        *logger.Logger
	validate   *validator.Validate
}

// NewRuleService creates a new rule service. publisher may be nil when the
// queue is disabled; reroutes then run on a detached goroutine.
func NewRuleService(rules RuleStore, publisher TaskPublisher, reassigner *Reassigner, log *logger.Logger) *RuleService {
	return &RuleService{
		rules:      rules,
		publisher:  publisher,
		reassigner: reassigner,
		log:        log,
		validate:   validator.New(),
	}
}

// RuleRequest carries the writable fields of an approval rule.
type RuleRequest struct {
	CompanyID   string `validate:"required"`
	Name        string `validate:"required"`
	RuleType    repository.RuleType
	IsActive    *bool
	Priority    int
	Conditions  []repository.RuleCondition
	ApproverIDs []string
	AutoApprove bool
}

// CreateRule validates and persists a new rule, then schedules a reroute.
func (s *RuleService) CreateRule(ctx context.Context, req *RuleRequest) (*repository.ApprovalRule, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid rule request")
	}
	if err := validateRule(req); err != nil {
		return nil, err
	}

	rule := &repository.ApprovalRule{
		CompanyID:   req.CompanyID,
		Name:        req.Name,
		RuleType:    req.RuleType,
		IsActive:    true,
		Priority:    req.Priority,
		Conditions:  req.Conditions,
		ApproverIDs: req.ApproverIDs,
		AutoApprove: req.AutoApprove,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if rule.RuleType == "" {
		rule.RuleType = repository.RuleTypeUser
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("company_id", rule.CompanyID).
		Str("name", rule.Name).
		Msg("Approval rule created")

	s.scheduleReassign(ctx, rule.CompanyID)
	return rule, nil
}

// GetRule retrieves a rule.
func (s *RuleService) GetRule(ctx context.Context, id, companyID string) (*repository.ApprovalRule, error) {
	return s.rules.GetByID(ctx, id, companyID)
}

// ListRules lists a company's rules in evaluation order.
func (s *RuleService) ListRules(ctx context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error) {
	return s.rules.List(ctx, companyID, activeOnly)
}

// UpdateRule validates and persists changes to a rule, then schedules a
// reroute.
func (s *RuleService) UpdateRule(ctx context.Context, id string, req *RuleRequest) (*repository.ApprovalRule, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "invalid rule request")
	}
	if err := validateRule(req); err != nil {
		return nil, err
	}

	rule, err := s.rules.GetByID(ctx, id, req.CompanyID)
	if err != nil {
		return nil, err
	}

	rule.Name = req.Name
	rule.Priority = req.Priority
	rule.Conditions = req.Conditions
	rule.ApproverIDs = req.ApproverIDs
	rule.AutoApprove = req.AutoApprove
	if req.RuleType != "" {
		rule.RuleType = req.RuleType
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("company_id", rule.CompanyID).
		Msg("Approval rule updated")

	s.scheduleReassign(ctx, rule.CompanyID)
	return rule, nil
}

// DeleteRule removes a rule and schedules a reroute. Steps generated from it
// keep their history; their rule reference is cleared by the database.
func (s *RuleService) DeleteRule(ctx context.Context, id, companyID string) error {
	if err := s.rules.Delete(ctx, id, companyID); err != nil {
		return err
	}

	s.log.Info().
		Str("rule_id", id).
		Str("company_id", companyID).
		Msg("Approval rule deleted")

	s.scheduleReassign(ctx, companyID)
	return nil
}

// validateRule enforces the structural rules the schema cannot express.
func validateRule(req *RuleRequest) error {
	switch req.RuleType {
	case "", repository.RuleTypeUser, repository.RuleTypeCatchAll:
		if !req.AutoApprove && len(req.ApproverIDs) == 0 {
			return apperr.InvalidInput("approver_ids", "rule must name at least one approver")
		}
	case repository.RuleTypeAutoApprove:
		if len(req.ApproverIDs) > 0 {
			return apperr.InvalidInput("approver_ids", "auto-approve rules cannot name approvers")
		}
	default:
		return apperr.InvalidInput("rule_type", "unknown rule type")
	}

	for _, cond := range req.Conditions {
		switch cond.Field {
		case approval.FieldCompany, approval.FieldSupplier, approval.FieldJob, approval.FieldAmount:
		default:
			return apperr.InvalidInput("conditions", "unknown condition field "+cond.Field)
		}
		switch cond.Operator {
		case "", approval.OperatorIn, approval.OperatorNotIn:
		default:
			return apperr.InvalidInput("conditions", "unknown condition operator "+cond.Operator)
		}
	}
	return nil
}

// scheduleReassign hands the reroute off to the queue. The rule mutation has
// already committed, so a failed hand-off only delays rerouting; it is logged
// and swallowed. Without a queue the reroute runs detached with its own
// deadline.
func (s *RuleService) scheduleReassign(ctx context.Context, companyID string) {
	if s.publisher != nil {
		data, err := json.Marshal(reassignMessage{CompanyID: companyID})
		if err == nil {
			err = s.publisher.Publish(ctx, SubjectReassign, data)
		}
		if err != nil {
			s.log.Error().Err(err).
				Str("company_id", companyID).
				Msg("Failed to schedule invoice rerouting")
		}
		return
	}

	if s.reassigner == nil {
		return
	}
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.reassigner.RerouteCompany(bg, companyID); err != nil {
			s.log.Error().Err(err).
				Str("company_id", companyID).
				Msg("Inline invoice rerouting failed")
		}
	}()
}

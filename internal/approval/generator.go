package approval

import "github.com/buildcore-ai/be-ap-approvals/internal/repository"

// GenerateSteps produces the ordered approval steps for a matched rule.
//
// Auto-approve rules and rules without approvers generate zero steps.
// Otherwise one PENDING step is generated per approver in the rule's stored
// order, with step_index equal to the approver's position. A nil rule (no
// match) also yields zero steps; the submit policy decides what that means.
func GenerateSteps(rule *repository.ApprovalRule) []*repository.ApprovalStep {
	if rule == nil {
		return nil
	}
	if rule.RuleType == repository.RuleTypeAutoApprove || rule.AutoApprove {
		return nil
	}
	if len(rule.ApproverIDs) == 0 {
		return nil
	}

	steps := make([]*repository.ApprovalStep, 0, len(rule.ApproverIDs))
	for i, approverID := range rule.ApproverIDs {
		ruleID := rule.ID
		steps = append(steps, &repository.ApprovalStep{
			RuleID:         &ruleID,
			StepIndex:      i,
			ApproverUserID: approverID,
			Status:         repository.StepPending,
		})
	}
	return steps
}

// CurrentStep returns the lowest-indexed step still PENDING, or nil when no
// step is pending. Steps must be ordered by step_index.
func CurrentStep(steps []*repository.ApprovalStep) *repository.ApprovalStep {
	for _, step := range steps {
		if step.Status == repository.StepPending {
			return step
		}
	}
	return nil
}

package approval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

func TestGenerateSteps_OnePerApproverInOrder(t *testing.T) {
	r := &repository.ApprovalRule{
		ID:          "rule-1",
		RuleType:    repository.RuleTypeUser,
		ApproverIDs: []string{"user-a", "user-b", "user-c"},
	}

	steps := GenerateSteps(r)
	require.Len(t, steps, 3)
	for i, step := range steps {
		require.Equal(t, i, step.StepIndex)
		require.Equal(t, repository.StepPending, step.Status)
		require.NotNil(t, step.RuleID)
		require.Equal(t, "rule-1", *step.RuleID)
	}
	require.Equal(t, "user-a", steps[0].ApproverUserID)
	require.Equal(t, "user-b", steps[1].ApproverUserID)
	require.Equal(t, "user-c", steps[2].ApproverUserID)
}

func TestGenerateSteps_AutoApproveYieldsNone(t *testing.T) {
	byType := &repository.ApprovalRule{
		ID:          "rule-1",
		RuleType:    repository.RuleTypeAutoApprove,
		ApproverIDs: []string{"user-a"},
	}
	require.Empty(t, GenerateSteps(byType))

	byFlag := &repository.ApprovalRule{
		ID:          "rule-2",
		RuleType:    repository.RuleTypeUser,
		AutoApprove: true,
		ApproverIDs: []string{"user-a"},
	}
	require.Empty(t, GenerateSteps(byFlag))
}

func TestGenerateSteps_EmptyApproverListYieldsNone(t *testing.T) {
	r := &repository.ApprovalRule{ID: "rule-1", RuleType: repository.RuleTypeUser}
	require.Empty(t, GenerateSteps(r))
}

func TestGenerateSteps_NilRuleYieldsNone(t *testing.T) {
	require.Empty(t, GenerateSteps(nil))
}

func TestCurrentStep_LowestPendingIndex(t *testing.T) {
	steps := []*repository.ApprovalStep{
		{StepIndex: 0, Status: repository.StepApproved},
		{StepIndex: 1, Status: repository.StepPending},
		{StepIndex: 2, Status: repository.StepPending},
	}
	cur := CurrentStep(steps)
	require.NotNil(t, cur)
	require.Equal(t, 1, cur.StepIndex)
}

func TestCurrentStep_NonePending(t *testing.T) {
	steps := []*repository.ApprovalStep{
		{StepIndex: 0, Status: repository.StepApproved},
		{StepIndex: 1, Status: repository.StepRejected},
	}
	require.Nil(t, CurrentStep(steps))
}

package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildcore-ai/be-ap-approvals/internal/apperr"
	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

func newRuleFixture() (*RuleService, *fakeRuleStore, *fakePublisher) {
	rules := newFakeRuleStore()
	publisher := &fakePublisher{}
	svc := NewRuleService(rules, publisher, nil, testLogger())
	return svc, rules, publisher
}

func TestCreateRulePublishesReassignment(t *testing.T) {
	svc, _, publisher := newRuleFixture()

	rule, err := svc.CreateRule(context.Background(), &RuleRequest{
		CompanyID:   "co-1",
		Name:        "big invoices",
		Priority:    10,
		Conditions:  []repository.RuleCondition{{Field: "AMOUNT", Operator: "IN", Values: []string{"5000"}}},
		ApproverIDs: []string{"cfo"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, rule.ID)
	require.True(t, rule.IsActive)
	require.Equal(t, repository.RuleTypeUser, rule.RuleType)

	require.Len(t, publisher.messages, 1)
	require.Equal(t, SubjectReassign, publisher.messages[0].subject)

	var msg map[string]string
	require.NoError(t, json.Unmarshal(publisher.messages[0].data, &msg))
	require.Equal(t, "co-1", msg["company_id"])
}

func TestCreateRuleValidation(t *testing.T) {
	svc, _, _ := newRuleFixture()

	cases := []struct {
		name string
		req  *RuleRequest
	}{
		{"missing name", &RuleRequest{CompanyID: "co-1", ApproverIDs: []string{"a"}}},
		{"no approvers", &RuleRequest{CompanyID: "co-1", Name: "r"}},
		{"auto-approve with approvers", &RuleRequest{
			CompanyID: "co-1", Name: "r",
			RuleType: repository.RuleTypeAutoApprove, ApproverIDs: []string{"a"},
		}},
		{"unknown field", &RuleRequest{
			CompanyID: "co-1", Name: "r", ApproverIDs: []string{"a"},
			Conditions: []repository.RuleCondition{{Field: "WEATHER", Operator: "IN"}},
		}},
		{"unknown operator", &RuleRequest{
			CompanyID: "co-1", Name: "r", ApproverIDs: []string{"a"},
			Conditions: []repository.RuleCondition{{Field: "SUPPLIER", Operator: "LIKE"}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateRule(context.Background(), tc.req)
			require.True(t, apperr.IsCode(err, apperr.CodeValidation), "expected VALIDATION, got %v", err)
		})
	}
}

func TestAutoApproveRuleNeedsNoApprovers(t *testing.T) {
	svc, _, _ := newRuleFixture()

	rule, err := svc.CreateRule(context.Background(), &RuleRequest{
		CompanyID:   "co-1",
		Name:        "tiny invoices",
		RuleType:    repository.RuleTypeAutoApprove,
		AutoApprove: true,
	})
	require.NoError(t, err)
	require.Equal(t, repository.RuleTypeAutoApprove, rule.RuleType)
}

func TestUpdateRulePublishesReassignment(t *testing.T) {
	svc, _, publisher := newRuleFixture()

	rule, err := svc.CreateRule(context.Background(), &RuleRequest{
		CompanyID: "co-1", Name: "r", ApproverIDs: []string{"alice"},
	})
	require.NoError(t, err)

	updated, err := svc.UpdateRule(context.Background(), rule.ID, &RuleRequest{
		CompanyID: "co-1", Name: "r2", Priority: 5, ApproverIDs: []string{"bob"},
	})
	require.NoError(t, err)
	require.Equal(t, "r2", updated.Name)
	require.Equal(t, []string{"bob"}, updated.ApproverIDs)

	// One message per mutation.
	require.Len(t, publisher.messages, 2)
}

func TestDeleteRulePublishesReassignment(t *testing.T) {
	svc, rules, publisher := newRuleFixture()

	rule, err := svc.CreateRule(context.Background(), &RuleRequest{
		CompanyID: "co-1", Name: "r", ApproverIDs: []string{"alice"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRule(context.Background(), rule.ID, "co-1"))
	_, err = rules.GetByID(context.Background(), rule.ID, "co-1")
	require.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	require.Len(t, publisher.messages, 2)
}

func TestFailedPublishDoesNotFailMutation(t *testing.T) {
	rules := newFakeRuleStore()
	publisher := &fakePublisher{err: apperr.New(apperr.CodeDependency, "nats is down")}
	svc := NewRuleService(rules, publisher, nil, testLogger())

	rule, err := svc.CreateRule(context.Background(), &RuleRequest{
		CompanyID: "co-1", Name: "r", ApproverIDs: []string{"alice"},
	})
	require.NoError(t, err)

	// The rule committed even though the hand-off failed.
	stored, err := rules.GetByID(context.Background(), rule.ID, "co-1")
	require.NoError(t, err)
	require.Equal(t, "r", stored.Name)
}

func TestNilPublisherFallsBackToInlineReroute(t *testing.T) {
	invoices := newFakeInvoiceStore()
	rules := newFakeRuleStore()
	steps := newFakeStepStore()
	activity := &fakeActivityStore{}
	reassigner := NewReassigner(invoices, rules, steps, activity, testLogger())
	svc := NewRuleService(rules, nil, reassigner, testLogger())

	jobID := "job-1"
	invoice := &repository.Invoice{
		CompanyID:  "co-1",
		SupplierID: strPtr("sup-1"),
		Status:     repository.StatusPartiallyApproved,
		Splits:     []*repository.CodingSplit{{JobID: &jobID}},
	}
	require.NoError(t, invoices.Create(context.Background(), invoice))

	_, err := svc.CreateRule(context.Background(), &RuleRequest{
		CompanyID: "co-1", Name: "r", ApproverIDs: []string{"carol"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stepList, err := steps.ListByInvoice(context.Background(), invoice.ID)
		return err == nil && len(stepList) == 1 && stepList[0].ApproverUserID == "carol"
	}, 2*time.Second, 10*time.Millisecond)
}

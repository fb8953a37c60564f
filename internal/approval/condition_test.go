package approval

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

func strPtr(s string) *string { return &s }

func attrs() InvoiceAttributes {
	return InvoiceAttributes{
		CompanyID:  "co-1",
		SupplierID: strPtr("sup-1"),
		JobIDs:     []string{"job-1", "job-2"},
		Total:      decimal.RequireFromString("1200.00"),
	}
}

func TestMatchCondition_EmptyValuesMatchesEverything(t *testing.T) {
	for _, field := range []string{FieldCompany, FieldSupplier, FieldJob, FieldAmount} {
		cond := repository.RuleCondition{Field: field, Operator: OperatorIn, Values: nil}
		require.True(t, MatchCondition(cond, attrs()), "field %s", field)
	}
}

func TestMatchCondition_Company(t *testing.T) {
	in := repository.RuleCondition{Field: FieldCompany, Operator: OperatorIn, Values: []string{"co-1", "co-2"}}
	require.True(t, MatchCondition(in, attrs()))

	out := repository.RuleCondition{Field: FieldCompany, Operator: OperatorIn, Values: []string{"co-9"}}
	require.False(t, MatchCondition(out, attrs()))
}

func TestMatchCondition_SupplierNilNeverMatchesIn(t *testing.T) {
	a := attrs()
	a.SupplierID = nil
	cond := repository.RuleCondition{Field: FieldSupplier, Operator: OperatorIn, Values: []string{"sup-1"}}
	require.False(t, MatchCondition(cond, a))
}

func TestMatchCondition_JobIsExistential(t *testing.T) {
	// Only one of the invoice's jobs is in the set; that is enough.
	cond := repository.RuleCondition{Field: FieldJob, Operator: OperatorIn, Values: []string{"job-2", "job-9"}}
	require.True(t, MatchCondition(cond, attrs()))

	none := repository.RuleCondition{Field: FieldJob, Operator: OperatorIn, Values: []string{"job-9"}}
	require.False(t, MatchCondition(none, attrs()))
}

func TestMatchCondition_AmountComparesDecimals(t *testing.T) {
	// String representations differ; decimal comparison must still hold.
	cond := repository.RuleCondition{Field: FieldAmount, Operator: OperatorIn, Values: []string{"1200"}}
	require.True(t, MatchCondition(cond, attrs()))

	other := repository.RuleCondition{Field: FieldAmount, Operator: OperatorIn, Values: []string{"1200.01"}}
	require.False(t, MatchCondition(other, attrs()))
}

func TestMatchCondition_NotIn(t *testing.T) {
	cond := repository.RuleCondition{Field: FieldSupplier, Operator: OperatorNotIn, Values: []string{"sup-9"}}
	require.True(t, MatchCondition(cond, attrs()))

	cond.Values = []string{"sup-1"}
	require.False(t, MatchCondition(cond, attrs()))
}

func TestMatchCondition_DefaultOperatorIsIn(t *testing.T) {
	cond := repository.RuleCondition{Field: FieldCompany, Values: []string{"co-1"}}
	require.True(t, MatchCondition(cond, attrs()))
}

func TestMatchCondition_UnknownFieldOrOperatorNeverMatches(t *testing.T) {
	unknownField := repository.RuleCondition{Field: "COST_CENTRE", Operator: OperatorIn, Values: []string{"x"}}
	require.False(t, MatchCondition(unknownField, attrs()))

	unknownOp := repository.RuleCondition{Field: FieldCompany, Operator: "BETWEEN", Values: []string{"co-1"}}
	require.False(t, MatchCondition(unknownOp, attrs()))
}

func TestMatchAll_AndSemantics(t *testing.T) {
	conditions := []repository.RuleCondition{
		{Field: FieldCompany, Operator: OperatorIn, Values: []string{"co-1"}},
		{Field: FieldSupplier, Operator: OperatorIn, Values: []string{"sup-1"}},
	}
	require.True(t, MatchAll(conditions, attrs()))

	conditions[1].Values = []string{"sup-9"}
	require.False(t, MatchAll(conditions, attrs()))
}

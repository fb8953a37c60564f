// Package approval implements the rule engine: condition matching, rule
// selection and step generation. Everything here is pure; rules and invoice
// attributes come in as explicit inputs and nothing touches the store.
package approval

import (
	"github.com/shopspring/decimal"

	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

// Condition fields.
const (
	FieldCompany  = "COMPANY"
	FieldSupplier = "SUPPLIER"
	FieldJob      = "JOB"
	FieldAmount   = "AMOUNT"
)

// Condition operators.
const (
	OperatorIn    = "IN"
	OperatorNotIn = "NOT_IN"
)

// InvoiceAttributes is the resolved attribute set a rule is evaluated
// against.
type InvoiceAttributes struct {
	CompanyID  string
	SupplierID *string
	JobIDs     []string // from the invoice's coding splits
	Total      decimal.Decimal
}

// AttributesOf resolves the attribute set from an invoice record.
func AttributesOf(invoice *repository.Invoice) InvoiceAttributes {
	return InvoiceAttributes{
		CompanyID:  invoice.CompanyID,
		SupplierID: invoice.SupplierID,
		JobIDs:     invoice.JobIDs(),
		Total:      invoice.Total(),
	}
}

// fieldMatcher reports whether a condition's value set holds for the invoice
// attributes, before the operator is applied.
type fieldMatcher func(values []string, attrs InvoiceAttributes) bool

// fieldMatchers is the closed extension point for condition fields. Adding a
// new field kind means adding one entry and one function here.
var fieldMatchers = map[string]fieldMatcher{
	FieldCompany:  matchCompany,
	FieldSupplier: matchSupplier,
	FieldJob:      matchJob,
	FieldAmount:   matchAmount,
}

// MatchCondition evaluates a single condition against the attributes.
// An empty values list matches everything for that field. Unknown fields or
// operators never match, so a malformed rule cannot accidentally route.
func MatchCondition(cond repository.RuleCondition, attrs InvoiceAttributes) bool {
	if len(cond.Values) == 0 {
		return true
	}

	matcher, ok := fieldMatchers[cond.Field]
	if !ok {
		return false
	}

	in := matcher(cond.Values, attrs)
	switch cond.Operator {
	case OperatorIn, "": // IN is the default operator
		return in
	case OperatorNotIn:
		return !in
	}
	return false
}

// MatchAll reports whether every condition holds (AND semantics).
func MatchAll(conditions []repository.RuleCondition, attrs InvoiceAttributes) bool {
	for _, cond := range conditions {
		if !MatchCondition(cond, attrs) {
			return false
		}
	}
	return true
}

func matchCompany(values []string, attrs InvoiceAttributes) bool {
	return contains(values, attrs.CompanyID)
}

func matchSupplier(values []string, attrs InvoiceAttributes) bool {
	if attrs.SupplierID == nil {
		return false
	}
	return contains(values, *attrs.SupplierID)
}

// matchJob is existential: at least one of the invoice's split jobs must be
// in the value set.
func matchJob(values []string, attrs InvoiceAttributes) bool {
	for _, jobID := range attrs.JobIDs {
		if contains(values, jobID) {
			return true
		}
	}
	return false
}

func matchAmount(values []string, attrs InvoiceAttributes) bool {
	for _, v := range values {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		if attrs.Total.Equal(amount) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

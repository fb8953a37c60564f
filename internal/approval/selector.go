package approval

import (
	"sort"

	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
)

// Selection is the outcome of scanning a company's rules for an invoice.
type Selection struct {
	Matched  bool
	Rule     *repository.ApprovalRule
	RuleName string
}

// SelectRule scans active rules in deterministic order and returns the first
// whose conditions all match. The input slice is not mutated; ordering of the
// input does not affect the outcome.
//
// The evaluation order is total: (priority asc, created_at asc, id asc).
// Within a company at most one rule governs a given invoice at submit time.
func SelectRule(rules []*repository.ApprovalRule, attrs InvoiceAttributes) Selection {
	ordered := make([]*repository.ApprovalRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	for _, rule := range ordered {
		if !rule.IsActive {
			continue
		}
		if MatchAll(rule.Conditions, attrs) {
			return Selection{Matched: true, Rule: rule, RuleName: rule.Name}
		}
	}
	return Selection{}
}

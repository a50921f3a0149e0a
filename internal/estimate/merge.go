package estimate

import (
	"fmt"
	"strings"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// MergePolicy decides whether a fresh estimate supersedes the latest prior one.
type MergePolicy string

const (
	// AlwaysReplace writes every successful recomputation, even when it is
	// less specific than the prior estimate. A transaction whose receipt was
	// deleted is therefore re-estimated from its merchant or mcc.
	AlwaysReplace MergePolicy = "always-replace"

	// ReplaceIfBetter keeps a prior estimate whose method is more specific
	// than the recomputed one.
	ReplaceIfBetter MergePolicy = "replace-if-better"
)

// ParseMergePolicy validates a configured policy. Empty means AlwaysReplace.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return AlwaysReplace, nil
	case AlwaysReplace, ReplaceIfBetter:
		return p, nil
	default:
		return "", fmt.Errorf("ParseMergePolicy: unknown policy %q: %w", s, domain.ErrConfiguration)
	}
}

// keepPrior reports whether prior should stand instead of a new estimate
// computed with method.
func (p MergePolicy) keepPrior(prior *domain.Estimate, method domain.Method) bool {
	if prior == nil {
		return false
	}
	switch p {
	case ReplaceIfBetter:
		return prior.Method.Specificity() > method.Specificity()
	default:
		return false
	}
}

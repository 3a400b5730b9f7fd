package service

import "github.com/panel-merge-server/internal/domain"

// ApplyPolicy filters a panel's gene list by confidence tier. It is pure and
// total: the input slice is never modified and no error path exists.
//
// PolicyWholePanel keeps every row, unknown confidence included.
// PolicyAllLevels keeps Red/Amber/Green but drops unknown-confidence rows.
// The difference mirrors upstream behavior and is kept for compatibility.
func ApplyPolicy(policy domain.FilterPolicy, annotations []domain.GeneAnnotation) []domain.GeneAnnotation {
	if policy == domain.PolicyWholePanel {
		out := make([]domain.GeneAnnotation, len(annotations))
		copy(out, annotations)
		return out
	}

	out := make([]domain.GeneAnnotation, 0, len(annotations))
	for _, a := range annotations {
		if policyIncludes(policy, a.Confidence) {
			out = append(out, a)
		}
	}
	return out
}

// policyIncludes is the tier predicate behind ApplyPolicy.
func policyIncludes(policy domain.FilterPolicy, c domain.Confidence) bool {
	switch policy {
	case domain.PolicyGreenOnly:
		return c == domain.ConfidenceGreen
	case domain.PolicyGreenAmber:
		return c == domain.ConfidenceGreen || c == domain.ConfidenceAmber
	case domain.PolicyAllLevels:
		return c == domain.ConfidenceGreen || c == domain.ConfidenceAmber || c == domain.ConfidenceRed
	default:
		return true
	}
}

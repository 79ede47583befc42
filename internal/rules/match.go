package rules

import (
	"fmt"
	"slices"

	"github.com/pitabwire/chargecfg/model"
)

// PriorityOrder decides which explicit priority wins when several rules match.
type PriorityOrder string

// Priority orders.
const (
	// PriorityAscending makes priority 1 the highest.
	PriorityAscending PriorityOrder = "ascending"
	// PriorityDescending makes the largest priority the highest.
	PriorityDescending PriorityOrder = "descending"
)

// ParsePriorityOrder parses a configured order. Empty means ascending.
func ParsePriorityOrder(s string) (PriorityOrder, error) {
	switch PriorityOrder(s) {
	case "", PriorityAscending:
		return PriorityAscending, nil
	case PriorityDescending:
		return PriorityDescending, nil
	}
	return "", fmt.Errorf("unknown priority order %q", s)
}

// ShipmentContext describes the shipment a rule is selected for.
type ShipmentContext struct {
	Date       model.Date                 `json:"date"`
	Dimensions map[model.Dimension]string `json:"dimensions"`
}

// Applies reports whether r is active on the shipment date and accepts every
// dimension value of the shipment.
func Applies(r model.RuleConfig, sc ShipmentContext) bool {
	if r.Status != model.RuleStatusActive {
		return false
	}
	if !sc.Date.IsZero() && !r.Validity.Contains(sc.Date) {
		return false
	}
	for _, dim := range model.AllDimensions {
		if !r.Dimensions.Restricts(dim) {
			continue
		}
		v, ok := sc.Dimensions[dim]
		if !ok || !r.Dimensions.Allows(dim, v) {
			return false
		}
	}
	return true
}

// Compare orders two rules by precedence; a negative result means a wins.
// Explicit priorities beat the default rule, the better priority under
// order wins, and ties go to the earlier created rule and then the smaller ID.
func Compare(a, b model.RuleConfig, order PriorityOrder) int {
	if a.IsDefault() != b.IsDefault() {
		if a.IsDefault() {
			return 1
		}
		return -1
	}
	if a.Priority != b.Priority {
		if order == PriorityDescending {
			return b.Priority - a.Priority
		}
		return a.Priority - b.Priority
	}
	if a.Sequence != b.Sequence {
		return a.Sequence - b.Sequence
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Rank returns a copy of rules sorted by precedence.
func Rank(rules []model.RuleConfig, order PriorityOrder) []model.RuleConfig {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b model.RuleConfig) int {
		return Compare(a, b, order)
	})
	return out
}

// Match selects the rule that prices a shipment: the highest precedence
// applicable explicit rule, else the applicable default rule.
func Match(rules []model.RuleConfig, sc ShipmentContext, order PriorityOrder) (model.RuleConfig, bool) {
	var best model.RuleConfig
	found := false
	for _, r := range rules {
		if !Applies(r, sc) {
			continue
		}
		if !found || Compare(r, best, order) < 0 {
			best = r
			found = true
		}
	}
	return best, found
}

// ExpireRules returns a copy of rules in which every active rule whose
// validity ended before today is marked expired, and the IDs it changed.
func ExpireRules(rules []model.RuleConfig, today model.Date) ([]model.RuleConfig, []string) {
	out := slices.Clone(rules)
	var changed []string
	for i, r := range out {
		if r.Status != model.RuleStatusActive || r.Validity.End.IsZero() {
			continue
		}
		if r.Validity.End.Before(today.Time) {
			out[i].Status = model.RuleStatusExpired
			changed = append(changed, r.ID)
		}
	}
	return out, changed
}

package rules

import (
	"strings"

	"github.com/pitabwire/chargecfg/model"
)

// Overlap names two rules that can both apply to the same shipment.
type Overlap struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

// Overlaps reports whether a and b can both apply to one shipment: their
// validity windows intersect and, for every dimension, their value sets
// intersect. A dimension left unrestricted intersects everything.
func Overlaps(a, b model.RuleConfig) bool {
	if !a.Validity.Intersects(b.Validity) {
		return false
	}
	for _, dim := range model.AllDimensions {
		if !valuesIntersect(a.Dimensions[dim], b.Dimensions[dim]) {
			return false
		}
	}
	return true
}

func valuesIntersect(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// FindOverlaps returns every overlapping pair among the non-default,
// non-expired rules, in input order. The default rule is meant to overlap
// everything and is ignored.
func FindOverlaps(rules []model.RuleConfig) []Overlap {
	var out []Overlap
	for i := 0; i < len(rules); i++ {
		if skipOverlap(rules[i]) {
			continue
		}
		for j := i + 1; j < len(rules); j++ {
			if skipOverlap(rules[j]) {
				continue
			}
			if Overlaps(rules[i], rules[j]) {
				out = append(out, Overlap{First: rules[i].ID, Second: rules[j].ID})
			}
		}
	}
	return out
}

func skipOverlap(r model.RuleConfig) bool {
	return r.IsDefault() || r.Status == model.RuleStatusExpired
}

package rules

import (
	"cmp"
	"slices"
	"strings"

	"github.com/pitabwire/chargecfg/model"
)

// Satisfied reports whether rule's condition holds for values. A condition
// field missing from values never satisfies the rule.
func Satisfied(rule model.RoutingRule, values map[string]float64) bool {
	v, ok := values[rule.ConditionField]
	if !ok {
		return false
	}
	return rule.Operator.Compare(v, rule.Threshold)
}

// RequiredLevels returns the union of the levels of every satisfied routing
// rule, in natural order and without duplicates. The result does not depend
// on the order of routing.
func RequiredLevels(routing []model.RoutingRule, values map[string]float64) []string {
	set := make(map[string]struct{})
	for _, r := range routing {
		if !Satisfied(r, values) {
			continue
		}
		for _, l := range r.RequiredLevels {
			set[l] = struct{}{}
		}
	}
	levels := make([]string, 0, len(set))
	for l := range set {
		levels = append(levels, l)
	}
	slices.SortFunc(levels, CompareLevels)
	return levels
}

// CompareLevels orders level names naturally: runs of digits compare by
// value, so "L2" sorts before "L10".
func CompareLevels(a, b string) int {
	x, y := a, b
	for x != "" && y != "" {
		dx, dy := leadingDigits(x), leadingDigits(y)
		if dx != "" && dy != "" {
			nx, ny := strings.TrimLeft(dx, "0"), strings.TrimLeft(dy, "0")
			if c := cmp.Compare(len(nx), len(ny)); c != 0 {
				return c
			}
			if c := strings.Compare(nx, ny); c != 0 {
				return c
			}
			x, y = x[len(dx):], y[len(dy):]
			continue
		}
		if x[0] != y[0] {
			return cmp.Compare(x[0], y[0])
		}
		x, y = x[1:], y[1:]
	}
	if c := cmp.Compare(len(x), len(y)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

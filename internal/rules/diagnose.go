// Package rules holds the pure evaluation and validation functions for charge
// rules: default-rule diagnostics, slab continuity, publish validation,
// approval routing, dimension overlap and rule selection.
//
// Every function here is synchronous, has no side effects and never mutates
// its arguments, so results are safe to recompute on every edit.
package rules

import (
	"fmt"

	"github.com/pitabwire/chargecfg/model"
)

// Diagnostics summarises the structural health of a charge's rule set.
type Diagnostics struct {
	HasMultipleDefaults bool `json:"has_multiple_defaults"`
	MissingDefault      bool `json:"missing_default"`
}

// DiagnoseCharge inspects the priorities of a charge's rules.
//
// HasMultipleDefaults is set when two or more rules carry priority 0 and the
// set holds more than one rule. MissingDefault is set when the set is
// non-empty and no rule carries priority 0. The result does not depend on
// the order of rules.
func DiagnoseCharge(rules []model.RuleConfig) Diagnostics {
	defaults := 0
	for _, r := range rules {
		if r.IsDefault() {
			defaults++
		}
	}
	return Diagnostics{
		HasMultipleDefaults: defaults >= 2 && len(rules) > 1,
		MissingDefault:      len(rules) > 0 && defaults == 0,
	}
}

// Warning codes.
const (
	WarnMissingDefault    = "MISSING_DEFAULT"
	WarnDuplicateDefaults = "DUPLICATE_DEFAULTS"
	WarnDimensionOverlap  = "DIMENSION_OVERLAP"
)

// Warning is a non-blocking structural finding about a rule set.
type Warning struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	RuleIDs []string `json:"rule_ids,omitempty"`
}

// StructuralWarnings returns the diagnostics of rules as displayable
// warnings, followed by one warning per overlapping pair of rules.
func StructuralWarnings(rules []model.RuleConfig) []Warning {
	var warnings []Warning

	diag := DiagnoseCharge(rules)
	if diag.HasMultipleDefaults {
		var ids []string
		for _, r := range rules {
			if r.IsDefault() {
				ids = append(ids, r.ID)
			}
		}
		warnings = append(warnings, Warning{
			Code:    WarnDuplicateDefaults,
			Message: "Multiple default rules (priority 0) exist; only one fallback rule is allowed",
			RuleIDs: ids,
		})
	}
	if diag.MissingDefault {
		warnings = append(warnings, Warning{
			Code:    WarnMissingDefault,
			Message: "No default rule (priority 0) exists; shipments matching no rule will not be charged",
		})
	}

	for _, o := range FindOverlaps(rules) {
		warnings = append(warnings, Warning{
			Code: WarnDimensionOverlap,
			Message: fmt.Sprintf("Rules %s and %s may overlap in validity and dimensions",
				o.First, o.Second),
			RuleIDs: []string{o.First, o.Second},
		})
	}

	return warnings
}

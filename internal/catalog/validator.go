package catalog

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pitabwire/chargecfg/internal/pricing"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/model"
)

// VError describes a single validation error in the catalogue.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates charges structurally and against the reference data.
type Validator struct {
	calc *pricing.Calculator
}

// NewValidator creates a Validator that checks rule values with calc.
func NewValidator(calc *pricing.Calculator) *Validator {
	return &Validator{calc: calc}
}

// Validate checks every charge of c.
func (v *Validator) Validate(c Catalog) []VError {
	var errs []VError
	seen := make(map[string]int, len(c.Charges))
	for i, ch := range c.Charges {
		prefix := fmt.Sprintf("charges[%d]", i)
		if first, dup := seen[ch.Code]; dup && ch.Code != "" {
			errs = append(errs, VError{
				Path:    prefix + ".code",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("charge code %q is already defined by charges[%d]", ch.Code, first),
			})
		} else {
			seen[ch.Code] = i
		}
		errs = append(errs, v.ValidateCharge(prefix, ch, c.Reference)...)
	}
	return errs
}

// ValidateCharge checks one charge and its rules.
func (v *Validator) ValidateCharge(prefix string, ch model.ChargeConfig, ref model.ReferenceData) []VError {
	var errs []VError
	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, VError{Path: prefix + "." + field, Code: "REQUIRED", Message: field + " is required"})
		}
	}
	invalid := func(field string, value any) {
		errs = append(errs, VError{Path: prefix + "." + field, Code: "INVALID_VALUE", Message: fmt.Sprintf("invalid %s %q", field, value)})
	}

	required("code", ch.Code)
	required("name", ch.Name)
	if !ch.Scope.Valid() {
		invalid("scope", ch.Scope)
	}
	if ch.Scope == model.ScopeBranch {
		if ch.BranchID == "" {
			errs = append(errs, VError{Path: prefix + ".branch_id", Code: "REQUIRED", Message: "branch_id is required for Branch scope"})
		} else if _, ok := ref.Branch(ch.BranchID); !ok {
			errs = append(errs, VError{Path: prefix + ".branch_id", Code: "UNKNOWN_BRANCH", Message: fmt.Sprintf("branch %q does not exist", ch.BranchID)})
		}
	}
	if !ch.Granularity.Valid() {
		invalid("granularity", ch.Granularity)
	}
	if !ch.Status.Valid() {
		invalid("status", ch.Status)
	}
	if len(ch.WhoCanAdd) == 0 {
		errs = append(errs, VError{Path: prefix + ".who_can_add", Code: "REQUIRED", Message: "at least one role must be allowed to add the charge"})
	}
	for _, role := range ch.WhoCanAdd {
		if len(ref.Roles) > 0 && !ref.HasRole(role) {
			errs = append(errs, VError{Path: prefix + ".who_can_add", Code: "UNKNOWN_ROLE", Message: fmt.Sprintf("role %q does not exist", role)})
		}
	}

	needsWorkflow := ch.ApprovalEnabled || slices.ContainsFunc(ch.Rules, func(r model.RuleConfig) bool {
		return r.ApprovalEnabled && r.Approval == nil
	})
	switch {
	case ch.Approval != nil:
		errs = append(errs, ValidateWorkflow(prefix+".approval", *ch.Approval)...)
	case needsWorkflow:
		errs = append(errs, errApprovalRequired(prefix))
	}

	ids := make(map[string]bool, len(ch.Rules))
	for i, r := range ch.Rules {
		rp := fmt.Sprintf("%s.rules[%d]", prefix, i)
		if r.ID != "" && ids[r.ID] {
			errs = append(errs, VError{Path: rp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("rule id %q is used twice", r.ID)})
		}
		ids[r.ID] = true
		errs = append(errs, v.ValidateRule(rp, r, ref)...)
	}
	return errs
}

// ValidateRule checks one rule. Active rules must also pass publish
// validation.
func (v *Validator) ValidateRule(prefix string, r model.RuleConfig, ref model.ReferenceData) []VError {
	var errs []VError

	if r.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if r.Priority < 0 {
		errs = append(errs, VError{Path: prefix + ".priority", Code: "INVALID_VALUE", Message: "priority must be 0 or more"})
	}
	if !r.RateType.Valid() {
		errs = append(errs, VError{Path: prefix + ".rate_type", Code: "INVALID_VALUE", Message: fmt.Sprintf("invalid rate_type %q", r.RateType)})
	}
	if r.ComputeOn != "" && !r.ComputeOn.Valid() {
		errs = append(errs, VError{Path: prefix + ".compute_on", Code: "INVALID_VALUE", Message: fmt.Sprintf("invalid compute_on %q", r.ComputeOn)})
	}
	if !r.Status.Valid() {
		errs = append(errs, VError{Path: prefix + ".status", Code: "INVALID_VALUE", Message: fmt.Sprintf("invalid status %q", r.Status)})
	}
	if !r.Validity.Start.IsZero() && !r.Validity.End.IsZero() && r.Validity.End.Before(r.Validity.Start.Time) {
		errs = append(errs, VError{Path: prefix + ".validity", Code: "INVALID_RANGE", Message: "validity end is before start"})
	}

	for _, dim := range slices.Sorted(maps.Keys(r.Dimensions)) {
		values := r.Dimensions[dim]
		dp := fmt.Sprintf("%s.dimensions.%s", prefix, dim)
		if !dim.Valid() {
			errs = append(errs, VError{Path: dp, Code: "UNKNOWN_DIMENSION", Message: fmt.Sprintf("unknown dimension %q", dim)})
			continue
		}
		options := ref.DimensionOptions[dim]
		if len(options) == 0 {
			continue
		}
		for _, value := range values {
			if !containsFold(options, value) {
				errs = append(errs, VError{Path: dp, Code: "UNKNOWN_OPTION", Message: fmt.Sprintf("Invalid %s '%s'", strings.ToLower(dim.Label()), value)})
			}
		}
	}

	if r.Approval != nil {
		errs = append(errs, ValidateWorkflow(prefix+".approval", *r.Approval)...)
	}

	if r.Status == model.RuleStatusActive {
		for _, msg := range rules.ValidateForPublish(model.DraftFromRule(r)) {
			errs = append(errs, VError{Path: prefix, Code: "PUBLISH_BLOCKED", Message: msg})
		}
	}
	if r.RateType.Valid() && v.calc != nil {
		for _, err := range v.calc.CheckRule(r) {
			errs = append(errs, VError{Path: prefix + ".pricing", Code: "INVALID_PRICING", Message: err.Error()})
		}
	}
	return errs
}

// ValidateRuleApproval reports a rule that needs approval but has no
// workflow of its own and none from its charge.
func ValidateRuleApproval(prefix string, ch model.ChargeConfig, r model.RuleConfig) []VError {
	if ch.ApprovalRequired(r) && ch.WorkflowFor(r) == nil {
		return []VError{errApprovalRequired(prefix)}
	}
	return nil
}

func errApprovalRequired(prefix string) VError {
	return VError{Path: prefix + ".approval", Code: "REQUIRED", Message: "approval levels are required when approval is enabled"}
}

// ValidateWorkflow checks approval levels and routing rules.
func ValidateWorkflow(prefix string, w model.ApprovalWorkflow) []VError {
	var errs []VError
	if len(w.Levels) == 0 {
		errs = append(errs, VError{Path: prefix + ".levels", Code: "REQUIRED", Message: "at least one approval level is required"})
	}
	levels := make(map[string]bool, len(w.Levels))
	for i, l := range w.Levels {
		lp := fmt.Sprintf("%s.levels[%d]", prefix, i)
		if l.Level == "" {
			errs = append(errs, VError{Path: lp + ".level", Code: "REQUIRED", Message: "level is required"})
		}
		if levels[l.Level] {
			errs = append(errs, VError{Path: lp + ".level", Code: "DUPLICATE", Message: fmt.Sprintf("level %q is defined twice", l.Level)})
		}
		levels[l.Level] = true
		if len(l.Roles) == 0 {
			errs = append(errs, VError{Path: lp + ".roles", Code: "REQUIRED", Message: "at least one approver role is required"})
		}
	}
	for i, rr := range w.Routing {
		rp := fmt.Sprintf("%s.routing[%d]", prefix, i)
		if !slices.Contains(model.ConditionFields, rr.ConditionField) {
			errs = append(errs, VError{Path: rp + ".condition_field", Code: "INVALID_VALUE", Message: fmt.Sprintf("unknown condition field %q", rr.ConditionField)})
		}
		if rr.Operator == 0 {
			errs = append(errs, VError{Path: rp + ".operator", Code: "REQUIRED", Message: "operator is required"})
		}
		if len(rr.RequiredLevels) == 0 {
			errs = append(errs, VError{Path: rp + ".required_levels", Code: "REQUIRED", Message: "at least one level is required"})
		}
		for _, l := range rr.RequiredLevels {
			if !levels[l] {
				errs = append(errs, VError{Path: rp + ".required_levels", Code: "UNKNOWN_LEVEL", Message: fmt.Sprintf("level %q is not defined", l)})
			}
		}
	}
	return errs
}

func containsFold(values []string, v string) bool {
	for _, o := range values {
		if strings.EqualFold(o, v) {
			return true
		}
	}
	return false
}

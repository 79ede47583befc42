package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WizardStep is a step of the rule authoring wizard.
type WizardStep string

// Wizard steps in order.
const (
	StepBasics      WizardStep = "Basics"
	StepDimensions  WizardStep = "Dimensions"
	StepPricing     WizardStep = "Pricing"
	StepEligibility WizardStep = "Eligibility"
	StepGovernance  WizardStep = "Governance"
	StepReview      WizardStep = "Review"
)

// WizardSteps lists the wizard steps in order.
var WizardSteps = []WizardStep{
	StepBasics, StepDimensions, StepPricing, StepEligibility, StepGovernance, StepReview,
}

// Valid reports whether s is a known wizard step.
func (s WizardStep) Valid() bool {
	for _, o := range WizardSteps {
		if s == o {
			return true
		}
	}
	return false
}

// RuleDraft is the in-progress state of a rule being authored. Fields hold
// what has been entered so far and may be incomplete.
type RuleDraft struct {
	ID          string     `json:"id"`
	ChargeCode  string     `json:"charge_code"`
	SubjectID   string     `json:"subject_id"`
	CurrentStep WizardStep `json:"current_step"`

	// Basics
	Alias    string     `json:"alias"`
	Validity Validity   `json:"validity"`
	Status   RuleStatus `json:"status"`
	Priority string     `json:"priority"`

	// Dimensions
	Dimensions Dimensions `json:"dimensions,omitempty"`

	// Pricing
	RateType  RateType  `json:"rate_type"`
	ComputeOn ComputeOn `json:"compute_on"`
	Pricing   Pricing   `json:"pricing"`

	// Eligibility
	MGTGate bool `json:"mgt_gate"`

	// Governance. Governance only applies when OverrideGovernance is set;
	// Approval only when ApprovalEnabled is.
	OverrideGovernance bool              `json:"override_governance"`
	Governance         Governance        `json:"governance"`
	ApprovalEnabled    bool              `json:"approval_enabled"`
	Approval           *ApprovalWorkflow `json:"approval,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRuleDraft returns the initial wizard state for a rule of chargeCode.
func NewRuleDraft(chargeCode string) RuleDraft {
	return RuleDraft{
		ChargeCode:  chargeCode,
		CurrentStep: StepBasics,
		Status:      RuleStatusDraft,
		RateType:    RateFixed,
		Governance:  Governance{ProvisionalAllowed: true},
		Pricing: Pricing{
			Value: ValueSpec{Mode: ValueFixed},
			Slabs: DefaultSlabs(),
		},
	}
}

// ParsePriority parses the priority entered in the wizard. An empty value is
// the default priority.
func ParsePriority(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPriority, nil
	}
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 {
		return 0, fmt.Errorf("priority must be a whole number of 0 or more, got %q", s)
	}
	return p, nil
}

// DraftFromRule returns the wizard state that edits r.
func DraftFromRule(r RuleConfig) RuleDraft {
	d := RuleDraft{
		ChargeCode:      r.ChargeCode,
		CurrentStep:     StepReview,
		Alias:           r.Alias,
		Validity:        r.Validity,
		Status:          r.Status,
		Priority:        strconv.Itoa(r.Priority),
		Dimensions:      r.Dimensions,
		RateType:        r.RateType,
		ComputeOn:       r.ComputeOn,
		Pricing:         r.Pricing,
		MGTGate:         r.MGTGate,
		ApprovalEnabled: r.ApprovalEnabled,
		Approval:        r.Approval,
	}
	if r.Governance != nil {
		d.OverrideGovernance = true
		d.Governance = *r.Governance
	}
	return d
}

// Rule converts the draft into a rule with the given priority. Slabs are
// dropped for rate types that do not use them.
func (d RuleDraft) Rule(priority int) RuleConfig {
	pricing := d.Pricing
	if !d.RateType.UsesSlabs() {
		pricing.Slabs = nil
		pricing.Overflow = nil
	} else {
		pricing.Value = ValueSpec{}
		if d.RateType != RateSlabOverflow {
			pricing.Overflow = nil
		}
	}
	status := d.Status
	if status == "" {
		status = RuleStatusDraft
	}
	var governance *Governance
	if d.OverrideGovernance {
		g := d.Governance
		governance = &g
	}
	var workflow *ApprovalWorkflow
	if d.ApprovalEnabled {
		workflow = d.Approval
	}
	return RuleConfig{
		ChargeCode:      d.ChargeCode,
		Priority:        priority,
		Alias:           strings.TrimSpace(d.Alias),
		Validity:        d.Validity,
		Dimensions:      d.Dimensions,
		RateType:        d.RateType,
		ComputeOn:       d.ComputeOn,
		Pricing:         pricing,
		MGTGate:         d.MGTGate,
		ApprovalEnabled: d.ApprovalEnabled,
		Status:          status,
		Governance:      governance,
		Approval:        workflow,
	}
}

// ChargeTypeMode selects between a predefined and a custom charge type.
type ChargeTypeMode string

// Charge type modes.
const (
	ChargeTypePredefined ChargeTypeMode = "predefined"
	ChargeTypeCustom     ChargeTypeMode = "custom"
)

// ChargeDraft is the input of the create-charge wizard.
type ChargeDraft struct {
	Scope           Scope          `json:"scope"            validate:"required,oneof=Company Branch"`
	BranchID        string         `json:"branch_id"        validate:"required_if=Scope Branch"`
	TypeMode        ChargeTypeMode `json:"type_mode"        validate:"required,oneof=predefined custom"`
	PredefinedCode  string         `json:"predefined_code"  validate:"required_if=TypeMode predefined"`
	CustomCode      string         `json:"custom_code"      validate:"required_if=TypeMode custom"`
	CustomName      string         `json:"custom_name"      validate:"required_if=TypeMode custom"`
	CustomCategory  string         `json:"custom_category"  validate:"required_if=TypeMode custom"`
	Granularity     Granularity    `json:"granularity"      validate:"required,oneof=Journey Load"`
	WhoCanAdd       []string       `json:"who_can_add"      validate:"required,min=1,dive,required"`
	Governance      Governance     `json:"governance"`
	ApprovalEnabled bool           `json:"approval_enabled"`

	// Approval is required when ApprovalEnabled is set.
	Approval *ApprovalWorkflow `json:"approval,omitempty" validate:"required_if=ApprovalEnabled true"`
}

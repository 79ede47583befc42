package model

import "time"

// Scope determines whether a charge applies company-wide or to one branch.
type Scope string

// Charge scopes.
const (
	ScopeCompany Scope = "Company"
	ScopeBranch  Scope = "Branch"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeCompany || s == ScopeBranch
}

// Granularity is the level a charge is applied at.
type Granularity string

// Charge granularities.
const (
	GranularityJourney Granularity = "Journey"
	GranularityLoad    Granularity = "Load"
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g == GranularityJourney || g == GranularityLoad
}

// ChargeStatus is the lifecycle state of a charge.
type ChargeStatus string

// Charge statuses.
const (
	ChargeStatusActive   ChargeStatus = "Active"
	ChargeStatusInactive ChargeStatus = "Inactive"
	ChargeStatusDraft    ChargeStatus = "Draft"
)

// Valid reports whether s is a known charge status.
func (s ChargeStatus) Valid() bool {
	switch s {
	case ChargeStatusActive, ChargeStatusInactive, ChargeStatusDraft:
		return true
	}
	return false
}

// Governance holds the entry controls of a charge.
type Governance struct {
	ProvisionalAllowed   bool `yaml:"provisional_allowed"   json:"provisional_allowed"`
	RemarksMandatory     bool `yaml:"remarks_mandatory"     json:"remarks_mandatory"`
	AttachmentsMandatory bool `yaml:"attachments_mandatory" json:"attachments_mandatory"`
}

// ChargeConfig is a configurable charge type and the rules that price it.
type ChargeConfig struct {
	Code            string            `yaml:"code"             json:"code"`
	Name            string            `yaml:"name"             json:"name"`
	Category        string            `yaml:"category"         json:"category,omitempty"`
	Scope           Scope             `yaml:"scope"            json:"scope"`
	BranchID        string            `yaml:"branch_id"        json:"branch_id,omitempty"`
	BranchName      string            `yaml:"branch_name"      json:"branch_name,omitempty"`
	Granularity     Granularity       `yaml:"granularity"      json:"granularity"`
	Status          ChargeStatus      `yaml:"status"           json:"status"`
	ApprovalEnabled bool              `yaml:"approval_enabled" json:"approval_enabled"`
	Governance      Governance        `yaml:"governance"       json:"governance"`
	WhoCanAdd       []string          `yaml:"who_can_add"      json:"who_can_add"`
	Approval        *ApprovalWorkflow `yaml:"approval"         json:"approval,omitempty"`
	Rules           []RuleConfig      `yaml:"rules"            json:"rules,omitempty"`
	LastUpdated     time.Time         `yaml:"last_updated"     json:"last_updated"`
}

// CanAdd reports whether any of roles may add this charge to a journey or load.
func (c ChargeConfig) CanAdd(roles []string) bool {
	for _, allowed := range c.WhoCanAdd {
		for _, r := range roles {
			if r == allowed {
				return true
			}
		}
	}
	return false
}

// Rule returns the rule with the given ID.
func (c ChargeConfig) Rule(id string) (RuleConfig, bool) {
	for _, r := range c.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return RuleConfig{}, false
}

// GovernanceFor returns the entry controls that apply to entries priced by r.
func (c ChargeConfig) GovernanceFor(r RuleConfig) Governance {
	if r.Governance != nil {
		return *r.Governance
	}
	return c.Governance
}

// ApprovalRequired reports whether entries priced by r need approval.
func (c ChargeConfig) ApprovalRequired(r RuleConfig) bool {
	return c.ApprovalEnabled || r.ApprovalEnabled
}

// WorkflowFor returns the approval workflow for entries priced by r: the
// rule's own when it has one, otherwise the charge's.
func (c ChargeConfig) WorkflowFor(r RuleConfig) *ApprovalWorkflow {
	if r.Approval != nil {
		return r.Approval
	}
	return c.Approval
}

// ChargeSummary is the listing view of a charge. RulesCount and
// DefaultRulePresent are derived from the rules.
type ChargeSummary struct {
	Code               string       `json:"code"`
	Name               string       `json:"name"`
	Scope              Scope        `json:"scope"`
	BranchID           string       `json:"branch_id,omitempty"`
	BranchName         string       `json:"branch_name,omitempty"`
	Granularity        Granularity  `json:"granularity"`
	RulesCount         int          `json:"rules_count"`
	DefaultRulePresent bool         `json:"default_rule_present"`
	ApprovalEnabled    bool         `json:"approval_enabled"`
	Status             ChargeStatus `json:"status"`
	LastUpdated        time.Time    `json:"last_updated"`
}

// Summary derives the listing view of c.
func (c ChargeConfig) Summary() ChargeSummary {
	s := ChargeSummary{
		Code:            c.Code,
		Name:            c.Name,
		Scope:           c.Scope,
		BranchID:        c.BranchID,
		BranchName:      c.BranchName,
		Granularity:     c.Granularity,
		RulesCount:      len(c.Rules),
		ApprovalEnabled: c.ApprovalEnabled,
		Status:          c.Status,
		LastUpdated:     c.LastUpdated,
	}
	for _, r := range c.Rules {
		if r.IsDefault() {
			s.DefaultRulePresent = true
			break
		}
	}
	return s
}

// Branch is an operating location a charge can be scoped to.
type Branch struct {
	ID   string `yaml:"id"   json:"id"`
	Name string `yaml:"name" json:"name"`
}

// ChargeType is a predefined charge a new configuration can start from.
type ChargeType struct {
	Code     string `yaml:"code"     json:"code"`
	Name     string `yaml:"name"     json:"name"`
	Category string `yaml:"category" json:"category"`
}

// FormulaVariable is a named input available to pricing formulas.
type FormulaVariable struct {
	Name  string `yaml:"name"  json:"name"`
	Label string `yaml:"label" json:"label"`
}

// ReferenceData holds the option lists used when authoring charges and rules.
type ReferenceData struct {
	Branches         []Branch               `yaml:"branches"          json:"branches"`
	ChargeTypes      []ChargeType           `yaml:"charge_types"      json:"charge_types"`
	DimensionOptions map[Dimension][]string `yaml:"dimension_options" json:"dimension_options"`
	Roles            []string               `yaml:"roles"             json:"roles"`
	FormulaVariables []FormulaVariable      `yaml:"formula_variables" json:"formula_variables"`
	ComputeOn        []ComputeOn            `yaml:"-"                 json:"compute_on"`
}

// Branch returns the branch with the given ID.
func (r ReferenceData) Branch(id string) (Branch, bool) {
	for _, b := range r.Branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}

// ChargeType returns the predefined charge type with the given code.
func (r ReferenceData) ChargeType(code string) (ChargeType, bool) {
	for _, ct := range r.ChargeTypes {
		if ct.Code == code {
			return ct, true
		}
	}
	return ChargeType{}, false
}

// HasRole reports whether role is a known role.
func (r ReferenceData) HasRole(role string) bool {
	for _, known := range r.Roles {
		if known == role {
			return true
		}
	}
	return false
}

// VariableNames returns the names of the formula variables.
func (r ReferenceData) VariableNames() []string {
	names := make([]string, len(r.FormulaVariables))
	for i, v := range r.FormulaVariables {
		names[i] = v.Name
	}
	return names
}

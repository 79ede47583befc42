package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Routing condition fields.
const (
	FieldComputedChargeAmount   = "computed_charge_amount"
	FieldBaseFreightOverridePct = "base_freight_override_pct"
)

// ConditionFields lists the values routing rules may test.
var ConditionFields = []string{FieldComputedChargeAmount, FieldBaseFreightOverridePct}

// Operator is a numeric comparison used by routing rules.
type Operator int

// Comparison operators.
const (
	OpGreater Operator = iota + 1
	OpGreaterOrEqual
	OpLess
	OpLessOrEqual
	OpEqual
)

var operatorSymbols = map[Operator]string{
	OpGreater:        ">",
	OpGreaterOrEqual: ">=",
	OpLess:           "<",
	OpLessOrEqual:    "<=",
	OpEqual:          "=",
}

// ParseOperator parses one of ">", ">=", "<", "<=", "=".
func ParseOperator(s string) (Operator, error) {
	s = strings.TrimSpace(s)
	for op, sym := range operatorSymbols {
		if sym == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

// String returns the operator symbol.
func (o Operator) String() string {
	if sym, ok := operatorSymbols[o]; ok {
		return sym
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Compare evaluates "value o threshold".
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLess:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (o Operator) MarshalText() ([]byte, error) {
	sym, ok := operatorSymbols[o]
	if !ok {
		return nil, fmt.Errorf("unknown operator %d", int(o))
	}
	return []byte(sym), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operator) UnmarshalText(text []byte) error {
	op, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o Operator) MarshalJSON() ([]byte, error) {
	text, err := o.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Operator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return o.UnmarshalText([]byte(s))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *Operator) UnmarshalYAML(node *yaml.Node) error {
	return o.UnmarshalText([]byte(node.Value))
}

// RoutingRule routes a charge entry to approval levels when
// "ConditionField Operator Threshold" holds.
type RoutingRule struct {
	ConditionField string   `yaml:"condition_field" json:"condition_field"`
	Operator       Operator `yaml:"operator"        json:"operator"`
	Threshold      float64  `yaml:"threshold"       json:"threshold"`
	RequiredLevels []string `yaml:"required_levels" json:"required_levels"`
}

// ApprovalLevel is one approval tier and the roles allowed to act on it.
type ApprovalLevel struct {
	Level string   `yaml:"level" json:"level"`
	Roles []string `yaml:"roles" json:"roles"`
}

// ApprovalWorkflow is the approval configuration of a charge or rule.
type ApprovalWorkflow struct {
	Levels  []ApprovalLevel `yaml:"levels"  json:"levels"`
	Routing []RoutingRule   `yaml:"routing" json:"routing,omitempty"`
}

// Level returns the level with the given name.
func (w ApprovalWorkflow) Level(name string) (ApprovalLevel, bool) {
	for _, l := range w.Levels {
		if l.Level == name {
			return l, true
		}
	}
	return ApprovalLevel{}, false
}

// Charge entry statuses.
const (
	EntryStatusPendingApproval = "pending_approval"
	EntryStatusApproved        = "approved"
	EntryStatusRejected        = "rejected"
	EntryStatusNotApplicable   = "not_applicable"
)

// ChargeEntry is a charge applied to a journey or load.
type ChargeEntry struct {
	ID             string             `json:"id"`
	ChargeCode     string             `json:"charge_code"`
	RuleID         string             `json:"rule_id"`
	Reference      string             `json:"reference"`
	SubjectID      string             `json:"subject_id"`
	Amount         string             `json:"amount"`
	Quantity       string             `json:"quantity"`
	Provisional    bool               `json:"provisional"`
	Remarks        string             `json:"remarks,omitempty"`
	Attachments    []string           `json:"attachments,omitempty"`
	Variables      map[string]float64 `json:"variables,omitempty"`
	RequiredLevels []string           `json:"required_levels,omitempty"`
	ApprovedLevels []string           `json:"approved_levels,omitempty"`
	Status         string             `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	Version        int                `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// PendingLevel returns the next required level awaiting approval.
func (e ChargeEntry) PendingLevel() (string, bool) {
	approved := make(map[string]bool, len(e.ApprovedLevels))
	for _, l := range e.ApprovedLevels {
		approved[l] = true
	}
	for _, l := range e.RequiredLevels {
		if !approved[l] {
			return l, true
		}
	}
	return "", false
}

// EntryEvent records an action in a charge entry's audit trail.
type EntryEvent struct {
	ID        string    `json:"id"`
	EntryID   string    `json:"entry_id"`
	Event     string    `json:"event"`
	Level     string    `json:"level,omitempty"`
	ActorID   string    `json:"actor_id"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPriority marks the fallback rule of a charge.
const DefaultPriority = 0

// DateLayout is the calendar date format used for rule validity windows.
const DateLayout = "2006-01-02"

// RuleStatus is the lifecycle state of a rule.
type RuleStatus string

// Rule statuses.
const (
	RuleStatusDraft   RuleStatus = "Draft"
	RuleStatusActive  RuleStatus = "Active"
	RuleStatusExpired RuleStatus = "Expired"
)

// Valid reports whether s is a known rule status.
func (s RuleStatus) Valid() bool {
	switch s {
	case RuleStatusDraft, RuleStatusActive, RuleStatusExpired:
		return true
	}
	return false
}

// RateType selects the pricing model of a rule.
type RateType string

// Rate types.
const (
	RateFixed        RateType = "Fixed"
	RatePerUnit      RateType = "Per-unit"
	RateSlabbed      RateType = "Slabbed"
	RateSlabOverflow RateType = "Slab+Overflow"
)

// Valid reports whether t is a known rate type.
func (t RateType) Valid() bool {
	switch t {
	case RateFixed, RatePerUnit, RateSlabbed, RateSlabOverflow:
		return true
	}
	return false
}

// UsesSlabs reports whether pricing for t is expressed as a slab table.
func (t RateType) UsesSlabs() bool {
	return t == RateSlabbed || t == RateSlabOverflow
}

// ComputeOn names the metric a rule's quantity is derived from.
type ComputeOn string

// Compute-on metrics.
const (
	ComputeDistance         ComputeOn = "Distance"
	ComputeWeight           ComputeOn = "Weight"
	ComputePTPK             ComputeOn = "PTPK"
	ComputeDistanceDuration ComputeOn = "Distance×Duration"
	ComputeUnits            ComputeOn = "Units"
	ComputeDuration         ComputeOn = "Duration"
)

// ComputeOnOptions lists the metrics offered when authoring a rule.
var ComputeOnOptions = []ComputeOn{
	ComputeDistance, ComputeWeight, ComputePTPK, ComputeDistanceDuration, ComputeUnits, ComputeDuration,
}

// Valid reports whether c is a known metric.
func (c ComputeOn) Valid() bool {
	for _, o := range ComputeOnOptions {
		if c == o {
			return true
		}
	}
	return false
}

// Dimension is a shipment attribute a rule may be restricted on.
type Dimension string

// Rule dimensions.
const (
	DimRoute        Dimension = "route"
	DimOrigin       Dimension = "origin"
	DimDestination  Dimension = "destination"
	DimVehicleType  Dimension = "vehicle_type"
	DimMaterial     Dimension = "material"
	DimMovementType Dimension = "movement_type"
)

// AllDimensions lists every dimension in display order.
var AllDimensions = []Dimension{
	DimRoute, DimOrigin, DimDestination, DimVehicleType, DimMaterial, DimMovementType,
}

// Label returns the human readable name of d.
func (d Dimension) Label() string {
	switch d {
	case DimRoute:
		return "Route"
	case DimOrigin:
		return "Origin"
	case DimDestination:
		return "Destination"
	case DimVehicleType:
		return "Vehicle Type"
	case DimMaterial:
		return "Material"
	case DimMovementType:
		return "Movement Type"
	}
	return string(d)
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	for _, o := range AllDimensions {
		if d == o {
			return true
		}
	}
	return false
}

// Dimensions restricts a rule to sets of values. A dimension that is absent
// (or has no values) applies to all values.
type Dimensions map[Dimension][]string

// Restricts reports whether d constrains the given dimension.
func (d Dimensions) Restricts(dim Dimension) bool {
	return len(d[dim]) > 0
}

// Allows reports whether value is accepted for dim.
func (d Dimensions) Allows(dim Dimension, value string) bool {
	vals := d[dim]
	if len(vals) == 0 {
		return true
	}
	for _, v := range vals {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// String renders the restricted dimensions, or "All" when none are set.
func (d Dimensions) String() string {
	var parts []string
	for _, dim := range AllDimensions {
		if vals := d[dim]; len(vals) > 0 {
			parts = append(parts, dim.Label()+": "+strings.Join(vals, ", "))
		}
	}
	if len(parts) == 0 {
		return "All"
	}
	return strings.Join(parts, "; ")
}

// Date is a calendar date without time of day. The zero value means unset.
type Date struct {
	time.Time
}

// NewDate returns the Date for the given calendar day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string. An empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected %s", s, DateLayout)
	}
	return Date{t}, nil
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, m, d)
}

// String formats the date as YYYY-MM-DD, or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Date) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDate(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validity is the inclusive date window in which a rule applies. An unset
// bound is open.
type Validity struct {
	Start Date `yaml:"start" json:"start"`
	End   Date `yaml:"end"   json:"end"`
}

// Contains reports whether day falls within the window.
func (v Validity) Contains(day Date) bool {
	if !v.Start.IsZero() && day.Before(v.Start.Time) {
		return false
	}
	if !v.End.IsZero() && day.After(v.End.Time) {
		return false
	}
	return true
}

// Intersects reports whether the two windows share at least one day.
func (v Validity) Intersects(o Validity) bool {
	if !v.End.IsZero() && !o.Start.IsZero() && v.End.Before(o.Start.Time) {
		return false
	}
	if !o.End.IsZero() && !v.Start.IsZero() && o.End.Before(v.Start.Time) {
		return false
	}
	return true
}

// RuleConfig is a pricing rule attached to a charge.
type RuleConfig struct {
	ID              string     `yaml:"id"               json:"id"`
	ChargeCode      string     `yaml:"-"                json:"charge_code"`
	Priority        int        `yaml:"priority"         json:"priority"`
	Alias           string     `yaml:"alias"            json:"alias"`
	Validity        Validity   `yaml:"validity"         json:"validity"`
	Dimensions      Dimensions `yaml:"dimensions"       json:"dimensions,omitempty"`
	RateType        RateType   `yaml:"rate_type"        json:"rate_type"`
	ComputeOn       ComputeOn  `yaml:"compute_on"       json:"compute_on"`
	Pricing         Pricing    `yaml:"pricing"          json:"pricing"`
	MGTGate         bool       `yaml:"mgt_gate"         json:"mgt_gate"`
	ApprovalEnabled bool       `yaml:"approval_enabled" json:"approval_enabled"`
	Status          RuleStatus `yaml:"status"           json:"status"`

	// Governance and Approval, when set, replace the charge-level settings
	// for entries priced by this rule.
	Governance *Governance       `yaml:"governance" json:"governance,omitempty"`
	Approval   *ApprovalWorkflow `yaml:"approval"   json:"approval,omitempty"`

	// Sequence is the creation order of the rule within its charge and is
	// used to break priority ties.
	Sequence  int       `yaml:"sequence"   json:"sequence"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at,omitempty"`
}

// IsDefault reports whether r is the fallback rule of its charge.
func (r RuleConfig) IsDefault() bool {
	return r.Priority == DefaultPriority
}

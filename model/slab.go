package model

// SlabMode selects how a slab's value is applied to the quantity.
type SlabMode string

// Slab modes.
const (
	SlabFlat    SlabMode = "Flat"
	SlabPerUnit SlabMode = "Per-unit"
)

// Valid reports whether m is a known slab mode.
func (m SlabMode) Valid() bool {
	return m == SlabFlat || m == SlabPerUnit
}

// ValueMode selects whether a value is a literal number or a formula.
type ValueMode string

// Value modes.
const (
	ValueFixed   ValueMode = "Fixed"
	ValueFormula ValueMode = "Formula"
)

// Valid reports whether m is a known value mode.
func (m ValueMode) Valid() bool {
	return m == ValueFixed || m == ValueFormula
}

// ValueSpec is either a fixed number (kept as entered text) or a formula
// over the named pricing variables.
type ValueSpec struct {
	Mode  ValueMode `yaml:"mode"  json:"mode"`
	Value string    `yaml:"value" json:"value"`
}

// Slab is one row of a slab table. Bounds are kept as entered; an empty
// bound has not been filled in yet, and an empty To on the last row is
// unbounded.
type Slab struct {
	From  string    `yaml:"from"  json:"from"`
	To    string    `yaml:"to"    json:"to"`
	Mode  SlabMode  `yaml:"mode"  json:"mode"`
	Value ValueSpec `yaml:"value" json:"value"`
}

// Overflow prices the quantity beyond the last slab of a Slab+Overflow rule.
type Overflow struct {
	Mode SlabMode `yaml:"mode" json:"mode"`
	Rate string   `yaml:"rate" json:"rate"`
}

// Pricing carries the rate-type specific values of a rule.
type Pricing struct {
	// Value is used by Fixed and Per-unit rules.
	Value    ValueSpec `yaml:"value"    json:"value"`
	Slabs    []Slab    `yaml:"slabs"    json:"slabs,omitempty"`
	Overflow *Overflow `yaml:"overflow" json:"overflow,omitempty"`
}

// DefaultSlabs is the table a new slab-priced rule starts with.
func DefaultSlabs() []Slab {
	return []Slab{
		{From: "0", To: "100", Mode: SlabFlat, Value: ValueSpec{Mode: ValueFixed, Value: "500"}},
		{From: "100", To: "500", Mode: SlabPerUnit, Value: ValueSpec{Mode: ValueFixed, Value: "4.5"}},
	}
}

// AppendSlab returns slabs with an empty row added whose From starts at the
// previous row's To ("0" for the first row).
func AppendSlab(slabs []Slab) []Slab {
	from := "0"
	if len(slabs) > 0 {
		from = slabs[len(slabs)-1].To
	}
	out := make([]Slab, len(slabs), len(slabs)+1)
	copy(out, slabs)
	return append(out, Slab{From: from, Mode: SlabFlat, Value: ValueSpec{Mode: ValueFixed}})
}

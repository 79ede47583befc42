package model

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseOperator(t *testing.T) {
	for sym, want := range map[string]Operator{
		">": OpGreater, ">=": OpGreaterOrEqual, "<": OpLess, "<=": OpLessOrEqual, "=": OpEqual,
	} {
		got, err := ParseOperator(sym)
		if err != nil {
			t.Fatalf("ParseOperator(%q) error = %v", sym, err)
		}
		if got != want {
			t.Errorf("ParseOperator(%q) = %v, want %v", sym, got, want)
		}
		if got.String() != sym {
			t.Errorf("String() = %q, want %q", got.String(), sym)
		}
	}
	if _, err := ParseOperator("!="); err == nil {
		t.Error("ParseOperator() should reject !=")
	}
}

func TestOperator_Compare(t *testing.T) {
	cases := []struct {
		op   Operator
		v    float64
		want bool
	}{
		{OpGreater, 50000, false},
		{OpGreater, 50001, true},
		{OpGreaterOrEqual, 50000, true},
		{OpLess, 49999, true},
		{OpLessOrEqual, 50000, true},
		{OpLessOrEqual, 50001, false},
		{OpEqual, 50000, true},
		{Operator(0), 50000, false},
	}
	for _, c := range cases {
		if got := c.op.Compare(c.v, 50000); got != c.want {
			t.Errorf("%v.Compare(%v, 50000) = %v, want %v", c.op, c.v, got, c.want)
		}
	}
}

func TestRoutingRule_encoding(t *testing.T) {
	var r RoutingRule
	raw := `{"condition_field":"computed_charge_amount","operator":">=","threshold":100000,"required_levels":["L1","L2"]}`
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if r.Operator != OpGreaterOrEqual {
		t.Errorf("Operator = %v", r.Operator)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != raw {
		t.Errorf("Marshal() = %s", out)
	}

	var y RoutingRule
	src := "condition_field: base_freight_override_pct\noperator: \">\"\nthreshold: 10\nrequired_levels: [L2]\n"
	if err := yaml.Unmarshal([]byte(src), &y); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if y.Operator != OpGreater || y.Threshold != 10 {
		t.Errorf("yaml rule = %+v", y)
	}

	if err := json.Unmarshal([]byte(`{"operator":"~"}`), &r); err == nil {
		t.Error("Unmarshal() should reject an unknown operator")
	}
}

func TestApprovalWorkflow_Level(t *testing.T) {
	w := ApprovalWorkflow{Levels: []ApprovalLevel{{Level: "L1", Roles: []string{"Finance Manager"}}}}
	if l, ok := w.Level("L1"); !ok || l.Roles[0] != "Finance Manager" {
		t.Errorf("Level(L1) = %+v, %v", l, ok)
	}
	if _, ok := w.Level("L9"); ok {
		t.Error("Level(L9) should not be found")
	}
}

func TestChargeEntry_PendingLevel(t *testing.T) {
	e := ChargeEntry{RequiredLevels: []string{"L1", "L2"}}
	if l, ok := e.PendingLevel(); !ok || l != "L1" {
		t.Errorf("PendingLevel() = %q, %v", l, ok)
	}
	e.ApprovedLevels = []string{"L1"}
	if l, _ := e.PendingLevel(); l != "L2" {
		t.Errorf("PendingLevel() = %q, want L2", l)
	}
	e.ApprovedLevels = append(e.ApprovedLevels, "L2")
	if _, ok := e.PendingLevel(); ok {
		t.Error("PendingLevel() should be empty once every level approved")
	}
}

package rules

import (
	"slices"
	"testing"

	"github.com/pitabwire/chargecfg/model"
)

func rule(id string, priority int) model.RuleConfig {
	return model.RuleConfig{
		ID:       id,
		Priority: priority,
		Alias:    "rule " + id,
		Status:   model.RuleStatusActive,
		Validity: model.Validity{
			Start: model.NewDate(2026, 1, 1),
			End:   model.NewDate(2026, 12, 31),
		},
		RateType:  model.RateFixed,
		ComputeOn: model.ComputeDistance,
	}
}

func slab(from, to string) model.Slab {
	return model.Slab{From: from, To: to, Mode: model.SlabFlat, Value: model.ValueSpec{Mode: model.ValueFixed, Value: "1"}}
}

// --- DiagnoseCharge ---

func TestDiagnoseCharge_empty(t *testing.T) {
	d := DiagnoseCharge(nil)
	if d.HasMultipleDefaults || d.MissingDefault {
		t.Errorf("DiagnoseCharge(nil) = %+v, want both false", d)
	}
}

func TestDiagnoseCharge_single_default(t *testing.T) {
	d := DiagnoseCharge([]model.RuleConfig{rule("R003", 0)})
	if d.HasMultipleDefaults || d.MissingDefault {
		t.Errorf("DiagnoseCharge = %+v, want both false", d)
	}
}

func TestDiagnoseCharge_multiple_defaults(t *testing.T) {
	tests := []struct {
		name  string
		rules []model.RuleConfig
	}{
		{"two defaults", []model.RuleConfig{rule("R1", 0), rule("R2", 0)}},
		{"two defaults beside a prioritised rule", []model.RuleConfig{rule("R1", 0), rule("R2", 0), rule("R3", 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DiagnoseCharge(tt.rules)
			if !d.HasMultipleDefaults {
				t.Error("HasMultipleDefaults = false, want true")
			}
			if d.MissingDefault {
				t.Error("MissingDefault = true, want false")
			}
		})
	}
}

func TestDiagnoseCharge_missing_default(t *testing.T) {
	// Mirrors the DETENTION charge: explicit priorities only.
	d := DiagnoseCharge([]model.RuleConfig{rule("R004", 1), rule("R005", 2)})
	if !d.MissingDefault {
		t.Error("MissingDefault = false, want true")
	}
	if d.HasMultipleDefaults {
		t.Error("HasMultipleDefaults = true, want false")
	}
}

func TestDiagnoseCharge_order_independent(t *testing.T) {
	rs := []model.RuleConfig{rule("R1", 0), rule("R2", 3), rule("R3", 0), rule("R4", 1)}
	want := DiagnoseCharge(rs)
	rev := slices.Clone(rs)
	slices.Reverse(rev)
	if got := DiagnoseCharge(rev); got != want {
		t.Errorf("reversed = %+v, want %+v", got, want)
	}
}

func TestDiagnoseCharge_does_not_mutate(t *testing.T) {
	rs := []model.RuleConfig{rule("R1", 0), rule("R2", 0)}
	before := slices.Clone(rs)
	DiagnoseCharge(rs)
	for i := range rs {
		if rs[i].ID != before[i].ID || rs[i].Priority != before[i].Priority {
			t.Fatalf("rules mutated: %+v", rs)
		}
	}
}

// --- CheckSlabContinuity ---

func TestCheckSlabContinuity_continuous(t *testing.T) {
	slabs := []model.Slab{slab("0", "100"), slab("100", "500"), slab("500", "")}
	if got := SlabViolations(model.RateSlabbed, slabs); len(got) != 0 {
		t.Errorf("violations = %+v, want none", got)
	}
}

func TestCheckSlabContinuity_gap(t *testing.T) {
	slabs := []model.Slab{slab("0", "100"), slab("150", "500")}
	got := SlabViolations(model.RateSlabbed, slabs)
	if len(got) != 1 {
		t.Fatalf("violations = %+v, want 1", got)
	}
	if got[0].Index != 1 {
		t.Errorf("Index = %d, want 1", got[0].Index)
	}
	if got[0].Message != "Slab continuity error between row 1 and 2" {
		t.Errorf("Message = %q", got[0].Message)
	}
}

func TestCheckSlabContinuity_empty_bounds_skipped(t *testing.T) {
	slabs := []model.Slab{slab("0", ""), slab("150", "500"), slab("", "900")}
	if got := SlabViolations(model.RateSlabOverflow, slabs); len(got) != 0 {
		t.Errorf("violations = %+v, want none for incomplete rows", got)
	}
}

func TestCheckSlabContinuity_not_slab_rate(t *testing.T) {
	slabs := []model.Slab{slab("0", "100"), slab("150", "500")}
	for _, rt := range []model.RateType{model.RateFixed, model.RatePerUnit} {
		if got := SlabViolations(rt, slabs); len(got) != 0 {
			t.Errorf("%s: violations = %+v, want none", rt, got)
		}
	}
}

func TestCheckSlabContinuity_ascending(t *testing.T) {
	slabs := []model.Slab{slab("0", "10"), slab("11", "20"), slab("20", "30"), slab("31", "40"), slab("45", "")}
	got := SlabViolations(model.RateSlabbed, slabs)
	var idx []int
	for _, v := range got {
		idx = append(idx, v.Index)
	}
	if !slices.Equal(idx, []int{1, 3, 4}) {
		t.Errorf("indices = %v, want [1 3 4]", idx)
	}
}

func TestCheckSlabContinuity_lazy(t *testing.T) {
	slabs := []model.Slab{slab("0", "10"), slab("11", "20"), slab("21", "30")}
	n := 0
	for range CheckSlabContinuity(model.RateSlabbed, slabs) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("consumed %d, want 1", n)
	}
}

func TestCheckSlabContinuity_numeric_bounds(t *testing.T) {
	slabs := []model.Slab{slab("0", "100"), slab("100.0", "200")}
	if got := SlabViolations(model.RateSlabbed, slabs); len(got) != 0 {
		t.Errorf("violations = %+v, want none for 100 vs 100.0", got)
	}
}

// --- ValidateForPublish ---

func TestValidateForPublish_all_errors_in_order(t *testing.T) {
	d := model.RuleDraft{
		RateType: model.RateSlabbed,
		Pricing: model.Pricing{Slabs: []model.Slab{
			slab("0", "100"), slab("150", "500"),
		}},
	}
	got := ValidateForPublish(d)
	want := []string{
		"Rule alias is required",
		"Compute On field is required",
		"Slab continuity error between row 1 and 2",
	}
	if !slices.Equal(got, want) {
		t.Errorf("ValidateForPublish() = %q, want %q", got, want)
	}
}

func TestValidateForPublish_valid(t *testing.T) {
	d := model.NewRuleDraft("UNLOAD")
	d.Alias = "Metro City Unloading"
	d.ComputeOn = model.ComputeWeight
	d.RateType = model.RateSlabbed
	if got := ValidateForPublish(d); len(got) != 0 {
		t.Errorf("ValidateForPublish() = %q, want none", got)
	}
}

func TestValidateForPublish_blank_alias(t *testing.T) {
	d := model.RuleDraft{Alias: "   ", ComputeOn: model.ComputeUnits, RateType: model.RateFixed}
	if got := ValidateForPublish(d); !slices.Equal(got, []string{MsgAliasRequired}) {
		t.Errorf("ValidateForPublish() = %q, want only the alias message", got)
	}
}

func TestValidateForPublish_fixed_ignores_slabs(t *testing.T) {
	d := model.RuleDraft{
		Alias:     "Flat",
		ComputeOn: model.ComputeUnits,
		RateType:  model.RateFixed,
		Pricing:   model.Pricing{Slabs: []model.Slab{slab("0", "1"), slab("9", "10")}},
	}
	if got := ValidateForPublish(d); len(got) != 0 {
		t.Errorf("ValidateForPublish() = %q, want none", got)
	}
}

func TestValidateForPublish_idempotent(t *testing.T) {
	d := model.RuleDraft{RateType: model.RateSlabOverflow, Pricing: model.Pricing{Slabs: []model.Slab{slab("0", "5"), slab("6", "")}}}
	first := ValidateForPublish(d)
	second := ValidateForPublish(d)
	if !slices.Equal(first, second) {
		t.Errorf("results differ: %q vs %q", first, second)
	}
}

// --- Routing ---

func TestRequiredLevels_threshold(t *testing.T) {
	routing := []model.RoutingRule{{
		ConditionField: model.FieldComputedChargeAmount,
		Operator:       model.OpGreater,
		Threshold:      50000,
		RequiredLevels: []string{"L1", "L2"},
	}}

	got := RequiredLevels(routing, map[string]float64{model.FieldComputedChargeAmount: 60000})
	if !slices.Equal(got, []string{"L1", "L2"}) {
		t.Errorf("RequiredLevels(60000) = %v, want [L1 L2]", got)
	}

	got = RequiredLevels(routing, map[string]float64{model.FieldComputedChargeAmount: 40000})
	if len(got) != 0 {
		t.Errorf("RequiredLevels(40000) = %v, want none", got)
	}
}

func TestRequiredLevels_union_dedup(t *testing.T) {
	routing := []model.RoutingRule{
		{ConditionField: model.FieldComputedChargeAmount, Operator: model.OpGreaterOrEqual, Threshold: 100, RequiredLevels: []string{"L2", "L1"}},
		{ConditionField: model.FieldBaseFreightOverridePct, Operator: model.OpGreater, Threshold: 10, RequiredLevels: []string{"L3", "L1"}},
	}
	values := map[string]float64{
		model.FieldComputedChargeAmount:   100,
		model.FieldBaseFreightOverridePct: 12,
	}
	got := RequiredLevels(routing, values)
	if !slices.Equal(got, []string{"L1", "L2", "L3"}) {
		t.Errorf("RequiredLevels() = %v, want [L1 L2 L3]", got)
	}

	rev := slices.Clone(routing)
	slices.Reverse(rev)
	if again := RequiredLevels(rev, values); !slices.Equal(again, got) {
		t.Errorf("reversed routing = %v, want %v", again, got)
	}
}

func TestRequiredLevels_naturalOrder(t *testing.T) {
	routing := []model.RoutingRule{{
		ConditionField: model.FieldComputedChargeAmount,
		Operator:       model.OpGreater,
		Threshold:      0,
		RequiredLevels: []string{"L10", "L2", "L11", "L1"},
	}}
	got := RequiredLevels(routing, map[string]float64{model.FieldComputedChargeAmount: 1})
	if want := []string{"L1", "L2", "L10", "L11"}; !slices.Equal(got, want) {
		t.Errorf("RequiredLevels() = %v, want %v", got, want)
	}
}

func TestCompareLevels(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"L2", "L10", -1},
		{"L10", "L9", 1},
		{"L1", "L1", 0},
		{"L01", "L1", -1},
		{"Finance", "L1", -1},
		{"L1", "L1a", -1},
		{"HSE", "HSE2", -1},
	}
	for _, tt := range tests {
		if got := CompareLevels(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareLevels(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRequiredLevels_missing_field(t *testing.T) {
	routing := []model.RoutingRule{{ConditionField: model.FieldBaseFreightOverridePct, Operator: model.OpLess, Threshold: 5, RequiredLevels: []string{"L1"}}}
	if got := RequiredLevels(routing, map[string]float64{}); len(got) != 0 {
		t.Errorf("RequiredLevels() = %v, want none", got)
	}
}

func TestSatisfied_operators(t *testing.T) {
	tests := []struct {
		op    model.Operator
		value float64
		want  bool
	}{
		{model.OpGreater, 10, false},
		{model.OpGreater, 11, true},
		{model.OpGreaterOrEqual, 10, true},
		{model.OpLess, 9, true},
		{model.OpLess, 10, false},
		{model.OpLessOrEqual, 10, true},
		{model.OpEqual, 10, true},
		{model.OpEqual, 10.5, false},
	}
	for _, tt := range tests {
		r := model.RoutingRule{ConditionField: "x", Operator: tt.op, Threshold: 10}
		if got := Satisfied(r, map[string]float64{"x": tt.value}); got != tt.want {
			t.Errorf("%v %v 10 = %v, want %v", tt.value, tt.op, got, tt.want)
		}
	}
}

// --- Overlap ---

func TestOverlaps_disjoint_dimensions(t *testing.T) {
	a := rule("R007", 1)
	a.Dimensions = model.Dimensions{model.DimRoute: {"NH-North"}}
	b := rule("R008", 2)
	b.Dimensions = model.Dimensions{model.DimRoute: {"NH-South"}}
	if Overlaps(a, b) {
		t.Error("NH-North and NH-South should not overlap")
	}
}

func TestOverlaps_unrestricted_dimension(t *testing.T) {
	a := rule("R1", 1)
	a.Dimensions = model.Dimensions{model.DimRoute: {"Metro"}}
	b := rule("R2", 2)
	b.Dimensions = model.Dimensions{model.DimVehicleType: {"Trailer"}}
	if !Overlaps(a, b) {
		t.Error("rules restricting different dimensions should overlap")
	}
}

func TestOverlaps_disjoint_validity(t *testing.T) {
	a := rule("R1", 1)
	a.Validity = model.Validity{Start: model.NewDate(2026, 1, 1), End: model.NewDate(2026, 3, 31)}
	b := rule("R2", 2)
	b.Validity = model.Validity{Start: model.NewDate(2026, 4, 1), End: model.NewDate(2026, 6, 30)}
	if Overlaps(a, b) {
		t.Error("disjoint validity windows should not overlap")
	}
}

func TestStructuralWarnings(t *testing.T) {
	rs := []model.RuleConfig{rule("R1", 1), rule("R2", 2)}
	ws := StructuralWarnings(rs)
	codes := make([]string, len(ws))
	for i, w := range ws {
		codes[i] = w.Code
	}
	if !slices.Equal(codes, []string{WarnMissingDefault, WarnDimensionOverlap}) {
		t.Errorf("codes = %v", codes)
	}
}

// --- Match ---

func TestMatch_prefers_explicit_over_default(t *testing.T) {
	metro := rule("R001", 1)
	metro.Dimensions = model.Dimensions{model.DimRoute: {"Metro"}}
	def := rule("R003", 0)

	sc := ShipmentContext{
		Date:       model.NewDate(2026, 5, 1),
		Dimensions: map[model.Dimension]string{model.DimRoute: "Metro"},
	}
	got, ok := Match([]model.RuleConfig{def, metro}, sc, PriorityAscending)
	if !ok || got.ID != "R001" {
		t.Errorf("Match() = %s, %v, want R001", got.ID, ok)
	}

	sc.Dimensions[model.DimRoute] = "Tier-3"
	got, ok = Match([]model.RuleConfig{def, metro}, sc, PriorityAscending)
	if !ok || got.ID != "R003" {
		t.Errorf("Match() = %s, %v, want default R003", got.ID, ok)
	}
}

func TestMatch_priority_order(t *testing.T) {
	p1 := rule("A", 1)
	p2 := rule("B", 2)
	sc := ShipmentContext{Date: model.NewDate(2026, 5, 1)}

	got, _ := Match([]model.RuleConfig{p2, p1}, sc, PriorityAscending)
	if got.ID != "A" {
		t.Errorf("ascending winner = %s, want A", got.ID)
	}
	got, _ = Match([]model.RuleConfig{p1, p2}, sc, PriorityDescending)
	if got.ID != "B" {
		t.Errorf("descending winner = %s, want B", got.ID)
	}
}

func TestMatch_tie_breaks_on_sequence_then_id(t *testing.T) {
	a := rule("R9", 1)
	a.Sequence = 2
	b := rule("R5", 1)
	b.Sequence = 1
	sc := ShipmentContext{Date: model.NewDate(2026, 5, 1)}
	got, _ := Match([]model.RuleConfig{a, b}, sc, PriorityAscending)
	if got.ID != "R5" {
		t.Errorf("winner = %s, want earlier created R5", got.ID)
	}

	b.Sequence = 2
	got, _ = Match([]model.RuleConfig{a, b}, sc, PriorityAscending)
	if got.ID != "R5" {
		t.Errorf("winner = %s, want smaller id R5", got.ID)
	}
}

func TestMatch_ignores_inactive_and_out_of_window(t *testing.T) {
	draft := rule("R005", 1)
	draft.Status = model.RuleStatusDraft
	old := rule("R006", 2)
	old.Validity.End = model.NewDate(2026, 2, 1)
	sc := ShipmentContext{Date: model.NewDate(2026, 5, 1)}
	if _, ok := Match([]model.RuleConfig{draft, old}, sc, PriorityAscending); ok {
		t.Error("Match() should find nothing")
	}
}

func TestExpireRules(t *testing.T) {
	r := rule("R002", 2)
	r.Validity.End = model.NewDate(2026, 6, 30)
	rs := []model.RuleConfig{r, rule("R003", 0)}

	out, changed := ExpireRules(rs, model.NewDate(2026, 7, 1))
	if !slices.Equal(changed, []string{"R002"}) {
		t.Errorf("changed = %v, want [R002]", changed)
	}
	if out[0].Status != model.RuleStatusExpired {
		t.Errorf("status = %s, want Expired", out[0].Status)
	}
	if rs[0].Status != model.RuleStatusActive {
		t.Error("input was mutated")
	}
}

func TestParsePriorityOrder(t *testing.T) {
	if o, err := ParsePriorityOrder(""); err != nil || o != PriorityAscending {
		t.Errorf("ParsePriorityOrder(\"\") = %v, %v", o, err)
	}
	if _, err := ParsePriorityOrder("sideways"); err == nil {
		t.Error("expected error for unknown order")
	}
}

package model

import "testing"

func TestNewRuleDraft(t *testing.T) {
	d := NewRuleDraft("UNLOAD")
	if d.CurrentStep != StepBasics || d.Status != RuleStatusDraft {
		t.Errorf("NewRuleDraft() = %+v", d)
	}
	if len(d.Pricing.Slabs) != 2 {
		t.Errorf("Slabs = %d, want the two default rows", len(d.Pricing.Slabs))
	}
}

func TestParsePriority(t *testing.T) {
	if p, err := ParsePriority(""); err != nil || p != DefaultPriority {
		t.Errorf("ParsePriority(\"\") = %d, %v", p, err)
	}
	if p, err := ParsePriority(" 3 "); err != nil || p != 3 {
		t.Errorf("ParsePriority(3) = %d, %v", p, err)
	}
	for _, bad := range []string{"-1", "one", "1.5"} {
		if _, err := ParsePriority(bad); err == nil {
			t.Errorf("ParsePriority(%q) should fail", bad)
		}
	}
}

func TestRuleDraft_Rule_drops_unused_pricing(t *testing.T) {
	d := NewRuleDraft("TOLL")
	d.Alias = "  NH-North  "
	d.ComputeOn = ComputeDistance
	d.Pricing.Value = ValueSpec{Mode: ValueFixed, Value: "250"}

	r := d.Rule(1)
	if r.Alias != "NH-North" || r.Priority != 1 || r.ChargeCode != "TOLL" {
		t.Errorf("Rule() = %+v", r)
	}
	if r.Pricing.Slabs != nil {
		t.Error("a Fixed rule should not keep slabs")
	}

	d.RateType = RateSlabbed
	d.Pricing.Overflow = &Overflow{Mode: SlabFlat, Rate: "10"}
	r = d.Rule(2)
	if len(r.Pricing.Slabs) != 2 || r.Pricing.Overflow != nil || r.Pricing.Value.Value != "" {
		t.Errorf("Slabbed Rule() pricing = %+v", r.Pricing)
	}
}

func TestDraftFromRule(t *testing.T) {
	r := RuleConfig{ID: "R004", ChargeCode: "DETENTION", Priority: 1, Alias: "Standard", RateType: RateSlabOverflow, ComputeOn: ComputeDuration, Status: RuleStatusActive}
	d := DraftFromRule(r)
	if d.Priority != "1" || d.CurrentStep != StepReview || d.Alias != "Standard" {
		t.Errorf("DraftFromRule() = %+v", d)
	}
	if back := d.Rule(1); back.RateType != r.RateType || back.Status != RuleStatusActive {
		t.Errorf("round trip = %+v", back)
	}
}

func TestRuleDraft_Rule_governance(t *testing.T) {
	wf := &ApprovalWorkflow{Levels: []ApprovalLevel{{Level: "L1", Roles: []string{"Finance Manager"}}}}

	d := NewRuleDraft("TOLL")
	d.Governance = Governance{RemarksMandatory: true}
	d.Approval = wf
	r := d.Rule(1)
	if r.Governance != nil || r.Approval != nil {
		t.Errorf("Rule() = governance %+v, approval %+v; want neither without override or approval", r.Governance, r.Approval)
	}

	d.OverrideGovernance = true
	d.ApprovalEnabled = true
	r = d.Rule(1)
	if r.Governance == nil || !r.Governance.RemarksMandatory || r.Governance.ProvisionalAllowed {
		t.Errorf("Governance = %+v", r.Governance)
	}
	if r.Approval != wf {
		t.Errorf("Approval = %+v, want the draft's workflow", r.Approval)
	}

	d.Governance.AttachmentsMandatory = true
	if r.Governance.AttachmentsMandatory {
		t.Error("Rule() should copy the governance flags")
	}

	back := DraftFromRule(r)
	if !back.OverrideGovernance || back.Governance != *r.Governance || back.Approval != wf {
		t.Errorf("DraftFromRule() = %+v", back)
	}
}

func TestChargeConfig_rule_settings(t *testing.T) {
	chargeWF := &ApprovalWorkflow{Levels: []ApprovalLevel{{Level: "L1", Roles: []string{"Finance Manager"}}}}
	ruleWF := &ApprovalWorkflow{Levels: []ApprovalLevel{{Level: "HSE", Roles: []string{"Safety Officer"}}}}
	ch := ChargeConfig{
		Governance: Governance{RemarksMandatory: true},
		Approval:   chargeWF,
		Rules: []RuleConfig{
			{ID: "R1"},
			{ID: "R2", ApprovalEnabled: true, Approval: ruleWF, Governance: &Governance{ProvisionalAllowed: true}},
		},
	}

	r1, ok := ch.Rule("R1")
	if !ok {
		t.Fatal("Rule(R1) not found")
	}
	if ch.WorkflowFor(r1) != chargeWF || !ch.GovernanceFor(r1).RemarksMandatory || ch.ApprovalRequired(r1) {
		t.Error("R1 should follow the charge")
	}

	r2, _ := ch.Rule("R2")
	if ch.WorkflowFor(r2) != ruleWF || ch.GovernanceFor(r2) != (Governance{ProvisionalAllowed: true}) || !ch.ApprovalRequired(r2) {
		t.Error("R2 should use its own settings")
	}

	if _, ok := ch.Rule("R9"); ok {
		t.Error("Rule(R9) should not be found")
	}
}

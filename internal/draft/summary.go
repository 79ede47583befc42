package draft

import (
	"fmt"
	"strings"

	"github.com/pitabwire/chargecfg/model"
)

// Summary is the read-only text shown on the Review step.
type Summary struct {
	Alias       string `json:"alias"`
	Priority    string `json:"priority"`
	Validity    string `json:"validity"`
	Dimensions  string `json:"dimensions"`
	RateType    string `json:"rate_type"`
	ComputeOn   string `json:"compute_on"`
	Pricing     string `json:"pricing"`
	Eligibility string `json:"eligibility"`
	Governance  string `json:"governance"`
	Approval    string `json:"approval"`
}

const notSet = "Not set"

// Summarize renders the review text of a draft.
func Summarize(d model.RuleDraft) Summary {
	s := Summary{
		Alias:      orNotSet(strings.TrimSpace(d.Alias)),
		Priority:   priorityText(d.Priority),
		Validity:   validityText(d.Validity),
		Dimensions: d.Dimensions.String(),
		RateType:   orNotSet(string(d.RateType)),
		ComputeOn:  orNotSet(string(d.ComputeOn)),
		Pricing:    pricingText(d),
	}
	s.Eligibility = "No MGT gate"
	if d.MGTGate {
		s.Eligibility = "Applies only when dispatched tonnage meets MGT"
	}
	s.Governance = governanceText(d)
	s.Approval = "Not required"
	if d.ApprovalEnabled {
		s.Approval = "Required"
		if d.Approval != nil {
			s.Approval = fmt.Sprintf("Required, %d level(s)", len(d.Approval.Levels))
		}
	}
	return s
}

func governanceText(d model.RuleDraft) string {
	if !d.OverrideGovernance {
		return "Charge settings"
	}
	var on []string
	if d.Governance.ProvisionalAllowed {
		on = append(on, "provisional allowed")
	}
	if d.Governance.RemarksMandatory {
		on = append(on, "remarks mandatory")
	}
	if d.Governance.AttachmentsMandatory {
		on = append(on, "attachments mandatory")
	}
	if len(on) == 0 {
		return "Overridden: no entry controls"
	}
	return "Overridden: " + strings.Join(on, ", ")
}

func orNotSet(s string) string {
	if s == "" {
		return notSet
	}
	return s
}

func priorityText(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "0" {
		return "0 (default)"
	}
	return p
}

func validityText(v model.Validity) string {
	start, end := v.Start.String(), v.End.String()
	switch {
	case start == "" && end == "":
		return "Always"
	case end == "":
		return start + " onwards"
	case start == "":
		return "until " + end
	}
	return start + " to " + end
}

func valueText(v model.ValueSpec) string {
	if v.Value == "" {
		return notSet
	}
	if v.Mode == model.ValueFormula {
		return "= " + v.Value
	}
	return v.Value
}

func pricingText(d model.RuleDraft) string {
	if !d.RateType.UsesSlabs() {
		return valueText(d.Pricing.Value)
	}
	rows := make([]string, 0, len(d.Pricing.Slabs)+1)
	for _, sl := range d.Pricing.Slabs {
		to := sl.To
		if to == "" {
			to = "∞"
		}
		rows = append(rows, fmt.Sprintf("%s-%s %s %s", sl.From, to, sl.Mode, valueText(sl.Value)))
	}
	if d.RateType == model.RateSlabOverflow && d.Pricing.Overflow != nil {
		rows = append(rows, fmt.Sprintf("overflow %s %s", d.Pricing.Overflow.Mode, d.Pricing.Overflow.Rate))
	}
	if len(rows) == 0 {
		return notSet
	}
	return strings.Join(rows, "; ")
}

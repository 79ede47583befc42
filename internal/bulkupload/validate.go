package bulkupload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/model"
)

// Status is the validation outcome of a row.
type Status string

// Row statuses.
const (
	StatusSuccess Status = "Success"
	StatusError   Status = "Error"
	StatusWarning Status = "Warning"
)

// Result is the validation outcome of one row. Rule is the rule the row
// describes; it is set for Success and Warning rows.
type Result struct {
	Row     int               `json:"row"`
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Rule    *model.RuleConfig `json:"rule,omitempty"`
}

// Applicable reports whether the row may be applied.
func (r Result) Applicable() bool {
	return r.Status != StatusError && r.Rule != nil
}

// overflowRange marks the overflow segment of a slab cell.
const overflowRange = "overflow"

// rowError is a message that rejects a row.
type rowError string

func (e rowError) Error() string { return string(e) }

func missing(column string) error {
	return rowError("Missing required field: " + column)
}

func invalid(what, value string) error {
	return rowError(fmt.Sprintf("Invalid %s '%s'", what, value))
}

// Validate checks every row against the charge and its reference data. Each
// row gets one result carrying the first problem found. A row whose
// priority clashes with an existing rule, or with an earlier row, is a
// Warning.
func Validate(checker *catalog.Validator, ch model.ChargeConfig, ref model.ReferenceData, rows []Row) []Result {
	results := make([]Result, 0, len(rows))
	seen := make(map[int]int) // priority -> first row number
	for _, row := range rows {
		res := Result{Row: row.Number, Status: StatusSuccess}

		rule, err := ruleFromRow(row, ch.Code)
		if err == nil {
			err = checkRule(checker, ch, rule, ref)
		}
		if err != nil {
			res.Status = StatusError
			res.Message = err.Error()
			results = append(results, res)
			continue
		}

		if id, dup := existingPriority(ch.Rules, rule.Priority); dup {
			res.Status = StatusWarning
			res.Message = "Duplicate priority with existing rule " + id
		} else if first, dup := seen[rule.Priority]; dup {
			res.Status = StatusWarning
			res.Message = fmt.Sprintf("Duplicate priority with row %d", first)
		}
		if _, dup := seen[rule.Priority]; !dup {
			seen[rule.Priority] = row.Number
		}
		res.Rule = &rule
		results = append(results, res)
	}
	return results
}

func existingPriority(existing []model.RuleConfig, priority int) (string, bool) {
	for _, r := range existing {
		if r.Priority == priority && r.Status != model.RuleStatusExpired {
			return r.ID, true
		}
	}
	return "", false
}

// checkRule runs the catalogue rule checks on a parsed row and returns the
// first finding.
func checkRule(checker *catalog.Validator, ch model.ChargeConfig, rule model.RuleConfig, ref model.ReferenceData) error {
	if errs := catalog.ValidateRuleApproval("row", ch, rule); len(errs) > 0 {
		return rowError("Approval is enabled but charge " + ch.Code + " has no approval levels")
	}
	if checker == nil {
		return nil
	}
	rule.ID = "(row)"
	if errs := checker.ValidateRule("row", rule, ref); len(errs) > 0 {
		return rowError(errs[0].Message)
	}
	return nil
}

// ruleFromRow converts a row into an Active rule of chargeCode.
func ruleFromRow(row Row, chargeCode string) (model.RuleConfig, error) {
	for _, c := range requiredColumns {
		if row.Get(c) == "" {
			return model.RuleConfig{}, missing(c)
		}
	}

	rule := model.RuleConfig{
		ChargeCode: chargeCode,
		Alias:      row.Get(ColAlias),
		Status:     model.RuleStatusActive,
	}

	p, err := model.ParsePriority(row.Get(ColPriority))
	if err != nil {
		return model.RuleConfig{}, invalid("priority", row.Get(ColPriority))
	}
	rule.Priority = p

	if rule.Validity.Start, err = model.ParseDate(row.Get(ColValidityStart)); err != nil {
		return model.RuleConfig{}, invalid("validity_start", row.Get(ColValidityStart))
	}
	if rule.Validity.End, err = model.ParseDate(row.Get(ColValidityEnd)); err != nil {
		return model.RuleConfig{}, invalid("validity_end", row.Get(ColValidityEnd))
	}
	if rule.Validity.End.Before(rule.Validity.Start.Time) {
		return model.RuleConfig{}, rowError("validity_end is before validity_start")
	}

	rule.RateType = model.RateType(row.Get(ColRateType))
	if !rule.RateType.Valid() {
		return model.RuleConfig{}, invalid("rate type", row.Get(ColRateType))
	}
	rule.ComputeOn = model.ComputeOn(row.Get(ColComputeOn))
	if !rule.ComputeOn.Valid() {
		return model.RuleConfig{}, invalid("compute on", row.Get(ColComputeOn))
	}

	for _, dim := range model.AllDimensions {
		cell := row.Get(string(dim))
		if cell == "" {
			continue
		}
		var values []string
		for _, v := range strings.Split(cell, "|") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		if rule.Dimensions == nil {
			rule.Dimensions = make(model.Dimensions)
		}
		rule.Dimensions[dim] = values
	}

	if rule.RateType.UsesSlabs() {
		if row.Get(ColSlabs) == "" {
			return model.RuleConfig{}, missing(ColSlabs)
		}
		slabs, overflow, err := parseSlabs(row.Get(ColSlabs))
		if err != nil {
			return model.RuleConfig{}, err
		}
		if err := slabGaps(slabs); err != nil {
			return model.RuleConfig{}, err
		}
		rule.Pricing.Slabs = slabs
		if rule.RateType == model.RateSlabOverflow {
			if overflow == nil {
				return model.RuleConfig{}, rowError("Missing overflow rate for Slab+Overflow rule")
			}
			rule.Pricing.Overflow = overflow
		}
	} else {
		if row.Get(ColValue) == "" {
			return model.RuleConfig{}, missing(ColValue)
		}
		rule.Pricing.Value = valueSpec(row.Get(ColValue))
	}

	if rule.MGTGate, err = parseFlag(row.Get(ColMGTGate)); err != nil {
		return model.RuleConfig{}, invalid(ColMGTGate, row.Get(ColMGTGate))
	}
	if rule.ApprovalEnabled, err = parseFlag(row.Get(ColApprovalEnabled)); err != nil {
		return model.RuleConfig{}, invalid(ColApprovalEnabled, row.Get(ColApprovalEnabled))
	}
	return rule, nil
}

// valueSpec reads a cell as a fixed number, or as a formula when it is not
// one. A leading "=" always marks a formula.
func valueSpec(cell string) model.ValueSpec {
	if f, ok := strings.CutPrefix(cell, "="); ok {
		return model.ValueSpec{Mode: model.ValueFormula, Value: strings.TrimSpace(f)}
	}
	if _, err := decimal.NewFromString(cell); err == nil {
		return model.ValueSpec{Mode: model.ValueFixed, Value: cell}
	}
	return model.ValueSpec{Mode: model.ValueFormula, Value: cell}
}

// parseSlabs reads "from-to:mode:value" segments separated by ";". The last
// slab may leave "to" empty, and an "overflow:mode:rate" segment sets the
// overflow. Bounds must be numbers.
func parseSlabs(cell string) ([]model.Slab, *model.Overflow, error) {
	var (
		slabs    []model.Slab
		overflow *model.Overflow
	)
	for _, seg := range strings.Split(cell, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		parts := strings.SplitN(seg, ":", 3)
		if len(parts) != 3 {
			return nil, nil, invalid("slab", seg)
		}
		rng, mode, value := strings.TrimSpace(parts[0]), model.SlabMode(strings.TrimSpace(parts[1])), strings.TrimSpace(parts[2])
		if !mode.Valid() || value == "" {
			return nil, nil, invalid("slab", seg)
		}
		if strings.EqualFold(rng, overflowRange) {
			if _, err := decimal.NewFromString(value); err != nil {
				return nil, nil, invalid("overflow rate", value)
			}
			overflow = &model.Overflow{Mode: mode, Rate: value}
			continue
		}
		from, to, ok := strings.Cut(rng, "-")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || !numeric(from) || (to != "" && !numeric(to)) {
			return nil, nil, invalid("slab range", rng)
		}
		slabs = append(slabs, model.Slab{From: from, To: to, Mode: mode, Value: valueSpec(value)})
	}
	if len(slabs) == 0 {
		return nil, nil, missing(ColSlabs)
	}
	for i, s := range slabs[:len(slabs)-1] {
		if s.To == "" {
			return nil, nil, invalid("slab range", fmt.Sprintf("%s-", slabs[i].From))
		}
	}
	return slabs, overflow, nil
}

// slabGaps reports the first break in slab continuity.
func slabGaps(slabs []model.Slab) error {
	violations := rules.SlabViolations(model.RateSlabbed, slabs)
	if len(violations) == 0 {
		return nil
	}
	i := violations[0].Index
	return rowError(fmt.Sprintf("Slab ranges not continuous: gap between %s-%s", slabs[i-1].To, slabs[i].From))
}

func numeric(s string) bool {
	_, err := decimal.NewFromString(s)
	return err == nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "no", "n":
		return false, nil
	case "yes", "y":
		return true, nil
	}
	return strconv.ParseBool(s)
}

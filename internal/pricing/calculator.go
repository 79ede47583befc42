// Package pricing computes the amount a rule charges for a shipment.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pitabwire/chargecfg/internal/formula"
	"github.com/pitabwire/chargecfg/model"
)

// Inputs are the shipment measurements a charge is computed from.
type Inputs struct {
	// Variables holds the formula variables (base_freight, distance_km,
	// weight, duration, units, detention_hours, diversion_km).
	Variables map[string]float64 `json:"variables"`
	// MGTTonnage is the minimum guaranteed tonnage of the contract. Rules
	// with the MGT gate only apply when the dispatched weight reaches it.
	MGTTonnage float64 `json:"mgt_tonnage"`
}

// Quote is the result of pricing one rule.
type Quote struct {
	RuleID     string          `json:"rule_id"`
	RateType   model.RateType  `json:"rate_type"`
	ComputeOn  model.ComputeOn `json:"compute_on"`
	Quantity   decimal.Decimal `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
	Applicable bool            `json:"applicable"`
	Reason     string          `json:"reason,omitempty"`
	// SlabIndex is the slab that priced the quantity, or -1.
	SlabIndex int `json:"slab_index"`
	// Overflow is the part of the amount charged beyond the last slab.
	Overflow decimal.Decimal `json:"overflow"`
}

// Calculator prices rules. It is stateless apart from the formula cache.
type Calculator struct {
	formulas *formula.Engine
}

// NewCalculator creates a Calculator that evaluates formulas with engine.
func NewCalculator(engine *formula.Engine) *Calculator {
	if engine == nil {
		engine = formula.NewEngine(nil)
	}
	return &Calculator{formulas: engine}
}

// Quantity derives the metric a rule is computed on from the variables.
func Quantity(on model.ComputeOn, vars map[string]float64) (decimal.Decimal, error) {
	v := func(name string) decimal.Decimal { return decimal.NewFromFloat(vars[name]) }
	switch on {
	case model.ComputeDistance:
		return v("distance_km"), nil
	case model.ComputeWeight:
		return v("weight"), nil
	case model.ComputePTPK:
		return v("weight").Mul(v("distance_km")), nil
	case model.ComputeDistanceDuration:
		return v("distance_km").Mul(v("duration")), nil
	case model.ComputeUnits:
		return v("units"), nil
	case model.ComputeDuration:
		return v("duration"), nil
	}
	return decimal.Zero, fmt.Errorf("unknown compute-on metric %q", on)
}

// Compute prices rule for the given inputs. A rule held back by its MGT gate
// yields a zero, non-applicable quote rather than an error.
func (c *Calculator) Compute(rule model.RuleConfig, in Inputs) (Quote, error) {
	q := Quote{
		RuleID:    rule.ID,
		RateType:  rule.RateType,
		ComputeOn: rule.ComputeOn,
		SlabIndex: -1,
	}

	qty, err := Quantity(rule.ComputeOn, in.Variables)
	if err != nil {
		return q, err
	}
	q.Quantity = qty

	if rule.MGTGate && in.MGTTonnage > 0 && in.Variables["weight"] < in.MGTTonnage {
		q.Reason = fmt.Sprintf("dispatched weight %.2f is below the minimum guaranteed tonnage %.2f",
			in.Variables["weight"], in.MGTTonnage)
		return q, nil
	}

	var amount decimal.Decimal
	switch rule.RateType {
	case model.RateFixed:
		amount, err = c.formulas.Resolve(rule.Pricing.Value, in.Variables)
	case model.RatePerUnit:
		amount, err = c.formulas.Resolve(rule.Pricing.Value, in.Variables)
		amount = amount.Mul(qty)
	case model.RateSlabbed, model.RateSlabOverflow:
		amount, err = c.slabAmount(rule, qty, in.Variables, &q)
	default:
		err = fmt.Errorf("unknown rate type %q", rule.RateType)
	}
	if err != nil {
		return q, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	q.Amount = amount.Round(2)
	q.Applicable = true
	return q, nil
}

func (c *Calculator) slabAmount(rule model.RuleConfig, qty decimal.Decimal, vars map[string]float64, q *Quote) (decimal.Decimal, error) {
	slabs := rule.Pricing.Slabs
	if len(slabs) == 0 {
		return decimal.Zero, fmt.Errorf("no slabs defined")
	}

	for i, s := range slabs {
		from, to, open, err := bounds(s, i == len(slabs)-1)
		if err != nil {
			return decimal.Zero, fmt.Errorf("slab %d: %w", i+1, err)
		}
		if qty.LessThan(from) {
			continue
		}
		if open || qty.LessThan(to) {
			q.SlabIndex = i
			return c.slabCharge(s, qty, vars)
		}
	}

	last := slabs[len(slabs)-1]
	lastTo, err := decimal.NewFromString(strings.TrimSpace(last.To))
	if err != nil || qty.LessThan(lastTo) {
		return decimal.Zero, fmt.Errorf("quantity %s is not covered by any slab", qty)
	}
	if rule.RateType != model.RateSlabOverflow || rule.Pricing.Overflow == nil {
		return decimal.Zero, fmt.Errorf("quantity %s exceeds the last slab", qty)
	}

	q.SlabIndex = len(slabs) - 1
	base, err := c.slabCharge(last, lastTo, vars)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(rule.Pricing.Overflow.Rate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid overflow rate %q", rule.Pricing.Overflow.Rate)
	}
	overflow := rate
	if rule.Pricing.Overflow.Mode == model.SlabPerUnit {
		overflow = rate.Mul(qty.Sub(lastTo))
	}
	q.Overflow = overflow.Round(2)
	return base.Add(overflow), nil
}

func (c *Calculator) slabCharge(s model.Slab, qty decimal.Decimal, vars map[string]float64) (decimal.Decimal, error) {
	value, err := c.formulas.Resolve(s.Value, vars)
	if err != nil {
		return decimal.Zero, err
	}
	if s.Mode == model.SlabPerUnit {
		return value.Mul(qty), nil
	}
	return value, nil
}

// bounds parses the half-open range of a slab. Only the last slab may leave
// To empty, which makes it unbounded.
func bounds(s model.Slab, last bool) (from, to decimal.Decimal, open bool, err error) {
	from, err = decimal.NewFromString(strings.TrimSpace(s.From))
	if err != nil {
		return from, to, false, fmt.Errorf("invalid lower bound %q", s.From)
	}
	if strings.TrimSpace(s.To) == "" {
		if !last {
			return from, to, false, fmt.Errorf("upper bound is empty")
		}
		return from, to, true, nil
	}
	to, err = decimal.NewFromString(strings.TrimSpace(s.To))
	if err != nil {
		return from, to, false, fmt.Errorf("invalid upper bound %q", s.To)
	}
	return from, to, false, nil
}

// CheckRule validates every value and formula of rule without computing it.
func (c *Calculator) CheckRule(rule model.RuleConfig) []error {
	var errs []error
	switch rule.RateType {
	case model.RateFixed, model.RatePerUnit:
		if err := c.formulas.Check(rule.Pricing.Value); err != nil {
			errs = append(errs, fmt.Errorf("value: %w", err))
		}
	case model.RateSlabbed, model.RateSlabOverflow:
		for i, s := range rule.Pricing.Slabs {
			if _, _, _, err := bounds(s, i == len(rule.Pricing.Slabs)-1); err != nil {
				errs = append(errs, fmt.Errorf("slab %d: %w", i+1, err))
			}
			if err := c.formulas.Check(s.Value); err != nil {
				errs = append(errs, fmt.Errorf("slab %d value: %w", i+1, err))
			}
		}
		if rule.RateType == model.RateSlabOverflow && rule.Pricing.Overflow != nil {
			if _, err := decimal.NewFromString(strings.TrimSpace(rule.Pricing.Overflow.Rate)); err != nil {
				errs = append(errs, fmt.Errorf("overflow rate: invalid number %q", rule.Pricing.Overflow.Rate))
			}
		}
	}
	return errs
}

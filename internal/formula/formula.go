// Package formula compiles and evaluates pricing formulas such as
// "max(base_freight * 0.1, 500)" over the named pricing variables.
package formula

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"

	"github.com/pitabwire/chargecfg/model"
)

// DefaultVariables are the inputs offered to formulas when no reference data
// overrides them.
var DefaultVariables = []string{
	"base_freight", "distance_km", "weight", "duration", "units", "detention_hours", "diversion_km",
}

// ErrEmptyFormula is returned for a blank formula.
var ErrEmptyFormula = errors.New("formula is empty")

// maxPrograms bounds the compiled program cache. Formula text comes from
// authors, so the cache is emptied when full rather than left to grow.
const maxPrograms = 1024

// Engine compiles formulas against a fixed set of variables and caches the
// compiled programs. It is safe for concurrent use.
type Engine struct {
	variables   []string
	maxPrograms int

	mu       sync.RWMutex
	programs map[string]*vm.Program // formula source -> program
}

// NewEngine creates an Engine that accepts the given variable names.
func NewEngine(variables []string) *Engine {
	if len(variables) == 0 {
		variables = DefaultVariables
	}
	return &Engine{
		variables:   variables,
		maxPrograms: maxPrograms,
		programs:    make(map[string]*vm.Program),
	}
}

// Variables returns the accepted variable names.
func (e *Engine) Variables() []string {
	return e.variables
}

func (e *Engine) env(values map[string]float64) map[string]any {
	env := make(map[string]any, len(e.variables))
	for _, name := range e.variables {
		env[name] = values[name]
	}
	return env
}

func (e *Engine) compile(src string) (*vm.Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmptyFormula
	}
	e.mu.RLock()
	p, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	program, err := expr.Compile(src, expr.Env(e.env(nil)), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("invalid formula %q: %w", src, err)
	}

	e.mu.Lock()
	if len(e.programs) >= e.maxPrograms {
		clear(e.programs)
	}
	e.programs[src] = program
	e.mu.Unlock()
	return program, nil
}

func (e *Engine) cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// Validate reports whether src compiles: it references only known variables
// and yields a number.
func (e *Engine) Validate(src string) error {
	_, err := e.compile(src)
	return err
}

// Evaluate runs src with the given variable values. Variables not supplied
// evaluate to zero.
func (e *Engine) Evaluate(src string, values map[string]float64) (decimal.Decimal, error) {
	program, err := e.compile(src)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := expr.Run(program, e.env(values))
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluate formula %q: %w", src, err)
	}
	f, ok := out.(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("formula %q returned %T, want number", src, out)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("formula %q is not finite (division by zero?)", src)
	}
	return decimal.NewFromFloat(f), nil
}

// Resolve returns the numeric value of spec: the parsed number for a fixed
// value or the evaluated formula.
func (e *Engine) Resolve(spec model.ValueSpec, values map[string]float64) (decimal.Decimal, error) {
	switch spec.Mode {
	case model.ValueFormula:
		return e.Evaluate(spec.Value, values)
	case model.ValueFixed, "":
		v := strings.TrimSpace(spec.Value)
		if v == "" {
			return decimal.Zero, errors.New("value is empty")
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid number %q", v)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("unknown value mode %q", spec.Mode)
}

// Check validates spec without evaluating it.
func (e *Engine) Check(spec model.ValueSpec) error {
	if spec.Mode == model.ValueFormula {
		return e.Validate(spec.Value)
	}
	_, err := e.Resolve(spec, nil)
	return err
}

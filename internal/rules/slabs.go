package rules

import (
	"fmt"
	"iter"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pitabwire/chargecfg/model"
)

// SlabViolation reports a break in slab continuity at Index, meaning
// slabs[Index-1].To does not equal slabs[Index].From.
type SlabViolation struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// CheckSlabContinuity yields one violation for every adjacent pair of slabs
// whose bounds are both filled in and differ, in ascending index order. A
// pair with an empty bound is still being edited and is skipped. Only
// slab-priced rate types are checked; for any other rate type the sequence
// is empty.
//
// The sequence is lazy: stopping early does no further work.
func CheckSlabContinuity(rateType model.RateType, slabs []model.Slab) iter.Seq[SlabViolation] {
	return func(yield func(SlabViolation) bool) {
		if !rateType.UsesSlabs() {
			return
		}
		for i := 1; i < len(slabs); i++ {
			prevTo := strings.TrimSpace(slabs[i-1].To)
			from := strings.TrimSpace(slabs[i].From)
			if prevTo == "" || from == "" || BoundsEqual(prevTo, from) {
				continue
			}
			if !yield(SlabViolation{Index: i, Message: continuityMessage(i)}) {
				return
			}
		}
	}
}

// SlabViolations collects every continuity violation of slabs.
func SlabViolations(rateType model.RateType, slabs []model.Slab) []SlabViolation {
	var out []SlabViolation
	for v := range CheckSlabContinuity(rateType, slabs) {
		out = append(out, v)
	}
	return out
}

// continuityMessage names the two offending rows using 1-based row numbers.
func continuityMessage(index int) string {
	return fmt.Sprintf("Slab continuity error between row %d and %d", index, index+1)
}

// BoundsEqual compares two slab bounds. Bounds that both parse as numbers
// are compared numerically so "100" equals "100.0"; anything else is
// compared as trimmed text.
func BoundsEqual(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA == nil && errB == nil {
		return da.Equal(db)
	}
	return a == b
}

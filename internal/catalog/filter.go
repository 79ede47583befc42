package catalog

import (
	"strings"

	"github.com/pitabwire/chargecfg/model"
)

// FilterApprovalOn is the listing filter that selects charges with approval
// enabled.
const FilterApprovalOn = "Approval On"

// Filter selects charges for the listing.
type Filter struct {
	// Query matches a case-insensitive substring of the code or name.
	Query string
	// Tags holds status names, granularity names or FilterApprovalOn. A
	// charge passes when it matches any tag.
	Tags []string
}

// Matches reports whether ch passes the filter.
func (f Filter) Matches(ch model.ChargeConfig) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(ch.Code), q) && !strings.Contains(strings.ToLower(ch.Name), q) {
			return false
		}
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, tag := range f.Tags {
		switch {
		case tag == FilterApprovalOn && ch.ApprovalEnabled:
			return true
		case strings.EqualFold(tag, string(ch.Status)):
			return true
		case strings.EqualFold(tag, string(ch.Granularity)):
			return true
		}
	}
	return false
}

// Search returns the summaries of the charges in r that pass f, ordered by
// code.
func Search(r *Registry, f Filter) []model.ChargeSummary {
	out := []model.ChargeSummary{}
	for _, ch := range r.All() {
		if f.Matches(ch) {
			out = append(out, ch.Summary())
		}
	}
	return out
}

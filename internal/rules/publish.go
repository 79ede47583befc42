package rules

import (
	"strings"

	"github.com/pitabwire/chargecfg/model"
)

// Publish validation messages.
const (
	MsgAliasRequired     = "Rule alias is required"
	MsgComputeOnRequired = "Compute On field is required"
)

// ValidateForPublish returns every reason draft cannot be published, in a
// fixed order: the alias message, the compute-on message, then one message
// per slab continuity violation (slab-priced rate types only). An empty
// result means the draft is publishable.
func ValidateForPublish(draft model.RuleDraft) []string {
	var msgs []string
	if strings.TrimSpace(draft.Alias) == "" {
		msgs = append(msgs, MsgAliasRequired)
	}
	if strings.TrimSpace(string(draft.ComputeOn)) == "" {
		msgs = append(msgs, MsgComputeOnRequired)
	}
	for v := range CheckSlabContinuity(draft.RateType, draft.Pricing.Slabs) {
		msgs = append(msgs, v.Message)
	}
	return msgs
}

package model

import "strings"

// Capabilities checked by the HTTP surface.
const (
	CapChargesView     = "charges:view"
	CapChargesCreate   = "charges:create"
	CapRulesDraft      = "rules:draft"
	CapRulesPublish    = "rules:publish"
	CapRulesBulkUpload = "rules:bulk_upload"
	CapEntriesSubmit   = "entries:submit"
	CapEntriesApprove  = "entries:approve"
)

// CapabilitySet is a set of capabilities granted to a user. Keys may end in
// a wildcard ("rules:*") or be "*" for everything.
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(capability string) bool {
	if cs[capability] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, capability) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches every given capability.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, c := range caps {
		if !cs.Has(c) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one given capability.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, c := range caps {
		if cs.Has(c) {
			return true
		}
	}
	return false
}

// matchWildcard reports whether pattern covers capability.
//
//	"*"        matches anything
//	"rules:*"  matches "rules:publish"
//	"rules"    matches nothing but itself
func matchWildcard(pattern, capability string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	return strings.HasPrefix(capability, strings.TrimSuffix(pattern, "*"))
}

// CapabilityResolver resolves the full capability set for a request context.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate clears cached capabilities of the given subject.
	Invalidate(subjectID string)
}

// PolicyEvaluator maps the roles of a request to capabilities.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)

	// Sync refreshes policy data from its source.
	Sync() error
}

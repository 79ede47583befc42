package capability

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/chargecfg/model"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// knownCapabilities lists every capability the service checks.
var knownCapabilities = []string{
	model.CapChargesView,
	model.CapChargesCreate,
	model.CapRulesDraft,
	model.CapRulesPublish,
	model.CapRulesBulkUpload,
	model.CapEntriesSubmit,
	model.CapEntriesApprove,
}

// StaticPolicyEvaluator resolves capabilities from a static YAML file
// mapping roles to capability strings.
type StaticPolicyEvaluator struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicyEvaluator creates a new evaluator that loads policies from path.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns the union of capabilities for all roles in the
// request context.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range rctx.Roles {
		for _, c := range e.policy.Roles[role] {
			caps[c] = true
		}
	}
	return caps, nil
}

// Roles returns the roles named by the policy, sorted.
func (e *StaticPolicyEvaluator) Roles() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	roles := make([]string, 0, len(e.policy.Roles))
	for r := range e.policy.Roles {
		roles = append(roles, r)
	}
	slices.Sort(roles)
	return roles
}

// Sync reloads the policy file from disk. Entries that are neither a known
// capability nor a wildcard are rejected.
func (e *StaticPolicyEvaluator) Sync() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", e.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", e.path, err)
	}

	for role, caps := range p.Roles {
		for _, c := range caps {
			if !known(c) {
				return fmt.Errorf("capability: policy file %s: role %q: unknown capability %q", e.path, role, c)
			}
		}
	}

	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()

	return nil
}

func known(c string) bool {
	if slices.Contains(knownCapabilities, c) {
		return true
	}
	set := model.CapabilitySet{c: true}
	return set.HasAny(knownCapabilities...)
}

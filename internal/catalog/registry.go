package catalog

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/model"
)

// snapshot is an immutable view of the catalogue.
type snapshot struct {
	charges   map[string]model.ChargeConfig
	codes     []string
	reference model.ReferenceData
	checksum  string
}

// Registry is a read-optimized, thread-safe store of the charge catalogue.
// Reads load the current snapshot without locking; writers build a new
// snapshot and swap it in.
type Registry struct {
	snap atomic.Pointer[snapshot]
	mu   sync.Mutex // serialises writers
	now  func() time.Time
}

// NewRegistry creates a Registry holding c.
func NewRegistry(c Catalog) *Registry {
	r := &Registry{now: time.Now}
	r.Replace(c)
	return r
}

// Replace atomically swaps the registry contents for c.
func (r *Registry) Replace(c Catalog) {
	charges := make(map[string]model.ChargeConfig, len(c.Charges))
	for _, ch := range c.Charges {
		charges[ch.Code] = ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.store(charges, c.Reference)
}

func (r *Registry) store(charges map[string]model.ChargeConfig, ref model.ReferenceData) {
	s := &snapshot{
		charges:   charges,
		codes:     slices.Sorted(maps.Keys(charges)),
		reference: ref,
	}

	parts := make([]string, 0, len(s.codes))
	for _, code := range s.codes {
		parts = append(parts, chargeChecksum(charges[code]))
	}
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, ":"))))

	r.snap.Store(s)
}

func chargeChecksum(ch model.ChargeConfig) string {
	data, err := json.Marshal(ch)
	if err != nil {
		data = []byte(ch.Code + "@" + ch.LastUpdated.String())
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the charge with the given code.
func (r *Registry) Get(code string) (model.ChargeConfig, bool) {
	ch, ok := r.current().charges[code]
	return ch, ok
}

// All returns every charge ordered by code.
func (r *Registry) All() []model.ChargeConfig {
	s := r.current()
	out := make([]model.ChargeConfig, 0, len(s.codes))
	for _, code := range s.codes {
		out = append(out, s.charges[code])
	}
	return out
}

// Rules returns the rules of the charge with the given code.
func (r *Registry) Rules(code string) ([]model.RuleConfig, bool) {
	ch, ok := r.Get(code)
	if !ok {
		return nil, false
	}
	return slices.Clone(ch.Rules), true
}

// Reference returns the reference data.
func (r *Registry) Reference() model.ReferenceData {
	return r.current().reference
}

// Checksum returns the combined checksum of every charge.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

// Len returns the number of charges.
func (r *Registry) Len() int {
	return len(r.current().codes)
}

// Upsert adds or replaces a charge and stamps its last update time.
func (r *Registry) Upsert(ch model.ChargeConfig) model.ChargeConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.current()
	charges := maps.Clone(s.charges)
	ch.LastUpdated = r.now().UTC()
	charges[ch.Code] = ch
	r.store(charges, s.reference)
	return ch
}

// Create adds a new charge. It fails with CONFLICT when the code is taken.
func (r *Registry) Create(ch model.ChargeConfig) (model.ChargeConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.current()
	if _, exists := s.charges[ch.Code]; exists {
		return model.ChargeConfig{}, model.NewConflictError(fmt.Sprintf("charge code %q already exists", ch.Code))
	}
	charges := maps.Clone(s.charges)
	ch.LastUpdated = r.now().UTC()
	charges[ch.Code] = ch
	r.store(charges, s.reference)
	return ch, nil
}

// AddRules appends rules to the charge with the given code. Each rule gets
// the next creation sequence, a generated ID when it has none, and a creation
// time. The stored rules are returned.
func (r *Registry) AddRules(code string, added ...model.RuleConfig) ([]model.RuleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.current()
	ch, ok := s.charges[code]
	if !ok {
		return nil, model.NewChargeNotFoundError(code)
	}

	next := nextRuleNumber(s.charges)
	seq := 0
	for _, existing := range ch.Rules {
		seq = max(seq, existing.Sequence)
	}

	now := r.now().UTC()
	ch.Rules = slices.Clone(ch.Rules)
	out := make([]model.RuleConfig, 0, len(added))
	for _, rule := range added {
		seq++
		rule.ChargeCode = code
		rule.Sequence = seq
		rule.CreatedAt = now
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("R%03d", next)
			next++
		}
		ch.Rules = append(ch.Rules, rule)
		out = append(out, rule)
	}
	ch.LastUpdated = now

	charges := maps.Clone(s.charges)
	charges[code] = ch
	r.store(charges, s.reference)
	return out, nil
}

// nextRuleNumber returns one more than the largest numeric "Rnnn" rule ID in
// the catalogue, so generated IDs are unique across charges.
func nextRuleNumber(charges map[string]model.ChargeConfig) int {
	highest := 0
	for _, ch := range charges {
		for _, rule := range ch.Rules {
			if n, err := strconv.Atoi(strings.TrimPrefix(rule.ID, "R")); err == nil && strings.HasPrefix(rule.ID, "R") {
				highest = max(highest, n)
			}
		}
	}
	return highest + 1
}

// ExpireRules marks every active rule whose validity ended before today as
// expired and returns the affected rule IDs by charge code.
func (r *Registry) ExpireRules(today model.Date) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.current()
	var charges map[string]model.ChargeConfig
	expired := make(map[string][]string)
	for code, ch := range s.charges {
		updated, ids := rules.ExpireRules(ch.Rules, today)
		if len(ids) == 0 {
			continue
		}
		if charges == nil {
			charges = maps.Clone(s.charges)
		}
		ch.Rules = updated
		ch.LastUpdated = r.now().UTC()
		charges[code] = ch
		expired[code] = ids
	}
	if charges != nil {
		r.store(charges, s.reference)
	}
	return expired
}

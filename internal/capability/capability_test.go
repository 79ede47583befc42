package capability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/model"
)

func testRctx(roles ...string) *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-1",
		BranchID:  "BR001",
		Roles:     roles,
	}
}

// --- StaticPolicyEvaluator tests ---

func TestStaticPolicyEvaluator_ResolveCapabilities(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("testdata/policies.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}

	caps, err := e.ResolveCapabilities(testRctx("Finance Manager"))
	if err != nil {
		t.Fatalf("ResolveCapabilities() error = %v", err)
	}

	if !caps.Has(model.CapEntriesApprove) {
		t.Error("Finance Manager should have entries:approve")
	}
	if caps.Has(model.CapRulesPublish) {
		t.Error("Finance Manager should not have rules:publish")
	}
}

func TestStaticPolicyEvaluator_MultipleRoles(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("Viewer", "Finance Manager"))

	if !caps.HasAll(model.CapChargesView, model.CapEntriesApprove) {
		t.Errorf("combined roles = %v, want charges:view and entries:approve", caps)
	}
}

func TestStaticPolicyEvaluator_Wildcard(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")

	caps, _ := e.ResolveCapabilities(testRctx("Branch Manager"))
	if !caps.HasAll(model.CapRulesDraft, model.CapRulesPublish, model.CapRulesBulkUpload) {
		t.Error("rules:* should cover every rules: capability")
	}
	if caps.Has(model.CapEntriesApprove) {
		t.Error("Branch Manager should not approve entries")
	}

	admin, _ := e.ResolveCapabilities(testRctx("Admin"))
	if !admin.HasAll(knownCapabilities...) {
		t.Error("Admin with * should hold every capability")
	}
}

func TestStaticPolicyEvaluator_UnknownRole(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("nonexistent"))

	if len(caps) != 0 {
		t.Errorf("unknown role should return empty capabilities, got %v", caps)
	}
}

func TestStaticPolicyEvaluator_Roles(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	roles := e.Roles()
	if len(roles) != 5 || roles[0] != "Admin" {
		t.Errorf("Roles() = %v", roles)
	}
}

func TestStaticPolicyEvaluator_BadFile(t *testing.T) {
	_, err := NewStaticPolicyEvaluator("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestStaticPolicyEvaluator_UnknownCapability(t *testing.T) {
	_, err := NewStaticPolicyEvaluator("testdata/unknown_capability.yaml")
	if err == nil {
		t.Fatal("expected error for unknown capability")
	}
}

// --- Resolver tests ---

func TestResolver_Resolve_and_Cache(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	m := observability.InitMetrics(prometheus.NewRegistry())
	r := NewResolver(e, 5*time.Minute, 0, m)

	rctx := testRctx("Viewer")

	caps1, err := r.Resolve(rctx)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !caps1.Has(model.CapChargesView) {
		t.Error("should have charges:view")
	}

	caps2, err := r.Resolve(rctx)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !caps2.Has(model.CapChargesView) {
		t.Error("cached result should have charges:view")
	}

	if v := testutil.ToFloat64(m.CapabilityCacheMissesTotal); v != 1 {
		t.Errorf("cache misses = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.CapabilityCacheHitsTotal); v != 1 {
		t.Errorf("cache hits = %v, want 1", v)
	}
}

func TestResolver_RoleChangeMissesCache(t *testing.T) {
	callCount := 0
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			callCount++
			return model.CapabilitySet{}, nil
		},
	}
	r := NewResolver(mock, 5*time.Minute, 0, nil)

	r.Resolve(testRctx("Viewer"))
	r.Resolve(testRctx("Viewer", "Finance Manager"))
	r.Resolve(testRctx("Finance Manager", "Viewer"))

	if callCount != 2 {
		t.Fatalf("callCount = %d, want 2 (role order must not matter)", callCount)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	callCount := 0
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			callCount++
			return model.CapabilitySet{model.CapChargesView: true}, nil
		},
	}
	r := NewResolver(mock, 5*time.Minute, 0, nil)
	rctx := testRctx()

	r.Resolve(rctx)
	r.Resolve(rctx)
	if callCount != 1 {
		t.Fatalf("callCount = %d after cache hit, want 1", callCount)
	}

	r.Invalidate("user-1")

	r.Resolve(rctx)
	if callCount != 2 {
		t.Fatalf("callCount = %d after invalidate, want 2", callCount)
	}
}

func TestResolver_TTLExpiry(t *testing.T) {
	callCount := 0
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			callCount++
			return model.CapabilitySet{model.CapChargesView: true}, nil
		},
	}
	r := NewResolver(mock, time.Minute, 0, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	rctx := testRctx()

	r.Resolve(rctx)
	now = now.Add(2 * time.Minute)
	r.Resolve(rctx)

	if callCount != 2 {
		t.Fatalf("callCount = %d, want 2 (TTL expired)", callCount)
	}
}

func TestResolver_MaxEntries(t *testing.T) {
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			return model.CapabilitySet{}, nil
		},
	}
	r := NewResolver(mock, time.Minute, 2, nil)

	for _, id := range []string{"a", "b", "c"} {
		r.Resolve(&model.RequestContext{SubjectID: id})
	}
	if r.Len() > 2 {
		t.Errorf("Len() = %d, want at most 2", r.Len())
	}
}

// --- Mock PolicyEvaluator ---

type mockEvaluator struct {
	resolveFunc func(rctx *model.RequestContext) (model.CapabilitySet, error)
}

func (m *mockEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	return m.resolveFunc(rctx)
}

func (m *mockEvaluator) Sync() error { return nil }

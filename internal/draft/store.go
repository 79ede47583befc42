package draft

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/chargecfg/model"
)

// Store persists rule drafts while they move through the wizard.
type Store interface {
	// Create persists a new draft.
	Create(ctx context.Context, d model.RuleDraft) error

	// Get retrieves a draft by ID. Returns NOT_FOUND if it does not exist.
	Get(ctx context.Context, id string) (model.RuleDraft, error)

	// Update persists an updated draft with optimistic locking. The version
	// must match the stored version. Returns CONFLICT if it has changed.
	Update(ctx context.Context, d model.RuleDraft) (model.RuleDraft, error)

	// Delete removes a draft.
	Delete(ctx context.Context, id string) error

	// List returns the drafts of a charge, oldest first.
	List(ctx context.Context, chargeCode string) ([]model.RuleDraft, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[string]model.RuleDraft // key: draft ID
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory draft store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts: make(map[string]model.RuleDraft),
		now:    time.Now,
	}
}

func notFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("rule draft %q not found", id))
}

// Create persists a new draft.
func (s *MemoryStore) Create(_ context.Context, d model.RuleDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.drafts[d.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("rule draft %q already exists", d.ID))
	}
	s.drafts[d.ID] = d
	return nil
}

// Get retrieves a draft by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.RuleDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.drafts[id]
	if !exists {
		return model.RuleDraft{}, notFound(id)
	}
	return d, nil
}

// Update persists an updated draft with optimistic locking and returns the
// stored draft with its new version.
func (s *MemoryStore) Update(_ context.Context, d model.RuleDraft) (model.RuleDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.drafts[d.ID]
	if !exists {
		return model.RuleDraft{}, notFound(d.ID)
	}

	if existing.Version != d.Version {
		return model.RuleDraft{}, model.NewConflictError(
			fmt.Sprintf("rule draft %q version conflict (expected %d, got %d)", d.ID, d.Version, existing.Version),
		)
	}

	d.Version++
	d.UpdatedAt = s.now().UTC()
	s.drafts[d.ID] = d
	return d, nil
}

// Delete removes a draft.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.drafts[id]; !exists {
		return notFound(id)
	}
	delete(s.drafts, id)
	return nil
}

// List returns the drafts of a charge ordered by creation time.
func (s *MemoryStore) List(_ context.Context, chargeCode string) ([]model.RuleDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.RuleDraft{}
	for _, d := range s.drafts {
		if d.ChargeCode == chargeCode {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Len returns the total number of drafts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}

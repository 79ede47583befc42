package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/chargecfg/model"
)

// Store persists charge entries and their audit trail.
type Store interface {
	// Create persists a new entry.
	Create(ctx context.Context, entry model.ChargeEntry) error

	// Get retrieves an entry by ID. Returns NOT_FOUND if it doesn't exist.
	Get(ctx context.Context, id string) (model.ChargeEntry, error)

	// Update persists an updated entry with optimistic locking. The version
	// must match the current stored version. Returns CONFLICT if the version
	// has changed.
	Update(ctx context.Context, entry model.ChargeEntry) (model.ChargeEntry, error)

	// AppendEvent adds an event to the entry's audit trail.
	AppendEvent(ctx context.Context, event model.EntryEvent) error

	// GetEvents retrieves the events of an entry, oldest first.
	GetEvents(ctx context.Context, entryID string) ([]model.EntryEvent, error)

	// FindPending returns the entries awaiting approval, optionally limited
	// to one charge, newest first.
	FindPending(ctx context.Context, chargeCode string) ([]model.ChargeEntry, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.ChargeEntry  // key: entry ID
	events  map[string][]model.EntryEvent // key: entry ID
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory entry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]model.ChargeEntry),
		events:  make(map[string][]model.EntryEvent),
		now:     time.Now,
	}
}

func entryNotFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("charge entry %q not found", id))
}

// Create persists a new entry.
func (s *MemoryStore) Create(_ context.Context, entry model.ChargeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("charge entry %q already exists", entry.ID))
	}
	s.entries[entry.ID] = entry
	return nil
}

// Get retrieves an entry by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.ChargeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[id]
	if !exists {
		return model.ChargeEntry{}, entryNotFound(id)
	}
	return entry, nil
}

// Update persists an updated entry with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, entry model.ChargeEntry) (model.ChargeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.entries[entry.ID]
	if !exists {
		return model.ChargeEntry{}, entryNotFound(entry.ID)
	}

	// Optimistic lock check.
	if existing.Version != entry.Version {
		return model.ChargeEntry{}, model.NewConflictError(
			fmt.Sprintf("charge entry %q version conflict (expected %d, got %d)", entry.ID, entry.Version, existing.Version),
		)
	}

	entry.Version++
	entry.UpdatedAt = s.now().UTC()
	s.entries[entry.ID] = entry
	return entry, nil
}

// AppendEvent adds an event to the entry's audit trail.
func (s *MemoryStore) AppendEvent(_ context.Context, event model.EntryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[event.EntryID]; !exists {
		return entryNotFound(event.EntryID)
	}
	s.events[event.EntryID] = append(s.events[event.EntryID], event)
	return nil
}

// GetEvents retrieves the events of an entry ordered by timestamp.
func (s *MemoryStore) GetEvents(_ context.Context, entryID string) ([]model.EntryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.entries[entryID]; !exists {
		return nil, entryNotFound(entryID)
	}

	events := s.events[entryID]
	result := make([]model.EntryEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// FindPending returns entries awaiting approval.
func (s *MemoryStore) FindPending(_ context.Context, chargeCode string) ([]model.ChargeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.ChargeEntry{}
	for _, e := range s.entries {
		if e.Status != model.EntryStatusPendingApproval {
			continue
		}
		if chargeCode != "" && e.ChargeCode != chargeCode {
			continue
		}
		result = append(result, e)
	}

	// Sort by created_at descending.
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Len returns the total number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

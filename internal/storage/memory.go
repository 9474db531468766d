package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// MemoryStorage is the in-memory Storage used in tests and local runs.
// It mirrors the Postgres implementation's semantics, including projection
// writes, idempotent reminder sending, and reference nulling on delete.
type MemoryStorage struct {
	mu         sync.RWMutex
	memories   map[string]*models.Memory
	reminders  map[string]*models.Reminder
	households map[string]*models.Household // keyed by slug
	members    map[string]*models.Member    // keyed by id
	accounts   map[string]*models.MemberAccount
	owners     map[string]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		memories:   make(map[string]*models.Memory),
		reminders:  make(map[string]*models.Reminder),
		households: make(map[string]*models.Household),
		members:    make(map[string]*models.Member),
		accounts:   make(map[string]*models.MemberAccount),
		owners:     make(map[string]struct{}),
	}
}

func (s *MemoryStorage) PersistMemory(_ context.Context, m *models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = m.CreatedAt
	}
	m.Projection = ProjectUnderstanding(m.Understanding, m.ThreadID)

	stored := *m
	stored.Understanding = m.Understanding.Clone()
	s.memories[m.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetMemory(_ context.Context, id string) (*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, exists := s.memories[id]; exists {
		copied := *m
		copied.Understanding = m.Understanding.Clone()
		return &copied, nil
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStorage) QueryMemories(_ context.Context, scope []string, f models.MemoryFilter) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Memory
	for _, m := range s.memories {
		if !lo.Contains(scope, m.OwnerID) || !matchesFilter(m, f) {
			continue
		}
		copied := *m
		copied.Understanding = m.Understanding.Clone()
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out, nil
}

func matchesFilter(m *models.Memory, f models.MemoryFilter) bool {
	if f.Type != "" && m.Projection.Type != string(f.Type) {
		return false
	}
	if f.Category != "" && m.Projection.Category != f.Category {
		return false
	}
	if f.Person != "" && m.Projection.Person != f.Person {
		return false
	}
	if f.Metric != "" && m.Projection.Metric != f.Metric {
		return false
	}
	if f.ThreadID != "" && m.ThreadID != f.ThreadID {
		return false
	}
	if !f.Since.IsZero() && m.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !m.OccurredAt.Before(f.Until) {
		return false
	}
	return true
}

func (s *MemoryStorage) DeleteMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.memories, id)
	// Null dangling back-references, matching the ON DELETE SET NULL
	// behavior of the Postgres schema.
	for _, r := range s.reminders {
		if r.MemoryID != nil && *r.MemoryID == id {
			r.MemoryID = nil
		}
	}
	return nil
}

func (s *MemoryStorage) Aggregate(_ context.Context, scope []string, op models.AggregateOp, _ string, f models.MemoryFilter) (decimal.Decimal, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	var rows, valued int64
	for _, m := range s.memories {
		if !lo.Contains(scope, m.OwnerID) || !matchesFilter(m, f) {
			continue
		}
		rows++
		if m.Projection.Value != nil {
			sum = sum.Add(*m.Projection.Value)
			valued++
		}
	}

	switch op {
	case models.OpSum:
		return sum, rows, nil
	case models.OpCount:
		return decimal.NewFromInt(rows), rows, nil
	case models.OpAvg:
		if valued == 0 {
			return decimal.Zero, rows, nil
		}
		return sum.Div(decimal.NewFromInt(valued)), rows, nil
	default:
		return decimal.Zero, 0, models.ErrSchemaViolation
	}
}

func (s *MemoryStorage) CreateReminder(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	stored := *r
	s.reminders[r.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetReminder(_ context.Context, id string) (*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.reminders[id]; exists {
		copied := *r
		return &copied, nil
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStorage) MarkReminderSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.reminders[id]
	if !exists {
		return models.ErrNotFound
	}
	if r.SentAt != nil {
		return nil
	}
	sent := at
	r.SentAt = &sent
	return nil
}

func (s *MemoryStorage) DueBefore(_ context.Context, t time.Time) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reminder
	for _, r := range s.reminders {
		if r.SentAt == nil && !r.RemindAt.After(t) {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RemindAt.Before(out[j].RemindAt)
	})
	return out, nil
}

func (s *MemoryStorage) PendingReminders(_ context.Context, ownerID string) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reminder
	for _, r := range s.reminders {
		if r.SentAt == nil && r.OwnerID == ownerID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RemindAt.Before(out[j].RemindAt)
	})
	return out, nil
}

func (s *MemoryStorage) UpsertHousehold(_ context.Context, h *models.Household) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.households[h.Slug]; ok {
		existing.Config = h.Config
		h.ID = existing.ID
		h.CreatedAt = existing.CreatedAt
		return nil
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	stored := *h
	s.households[h.Slug] = &stored
	return nil
}

func (s *MemoryStorage) UpsertMember(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.members {
		if existing.HouseholdID == m.HouseholdID && existing.MemberKey == m.MemberKey {
			existing.DisplayName = m.DisplayName
			existing.Profile = m.Profile
			existing.IsActive = m.IsActive
			m.ID = existing.ID
			return nil
		}
	}
	stored := *m
	s.members[m.ID] = &stored
	return nil
}

func (s *MemoryStorage) LinkAccount(_ context.Context, a *models.MemberAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.MemberID == a.MemberID && existing.UserID == a.UserID {
			return nil
		}
	}
	stored := *a
	s.accounts[a.ID] = &stored
	return nil
}

func (s *MemoryStorage) FamilyScope(_ context.Context, slug string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.households[slug]
	if !ok {
		return nil, nil
	}

	active := make(map[string]bool)
	for _, m := range s.members {
		if m.HouseholdID == h.ID && m.IsActive {
			active[m.ID] = true
		}
	}

	var scope []string
	for _, a := range s.accounts {
		if active[a.MemberID] {
			scope = append(scope, a.UserID)
		}
	}
	sort.Strings(scope)
	return lo.Uniq(scope), nil
}

func (s *MemoryStorage) ActiveMemberNames(_ context.Context, slug string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.households[slug]
	if !ok {
		return nil, nil
	}

	type entry struct{ key, name string }
	var entries []entry
	for _, m := range s.members {
		if m.HouseholdID == h.ID && m.IsActive {
			entries = append(entries, entry{m.MemberKey, m.DisplayName})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	return lo.Map(entries, func(e entry, _ int) string { return e.name }), nil
}

func (s *MemoryStorage) EnsureOwner(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.owners[userID] = struct{}{}
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

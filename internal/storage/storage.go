package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// Storage is the durable record store. Both the Postgres and the in-memory
// implementation compute projection columns through ProjectUnderstanding in
// the same operation that writes the mapping.
type Storage interface {
	MemoryStore
	ReminderStore
	HouseholdStore

	// Aggregate runs one set-membership query over every identity in scope
	// at once and returns the raw numeric result plus the row count.
	Aggregate(ctx context.Context, scope []string, op models.AggregateOp, field string, f models.MemoryFilter) (decimal.Decimal, int64, error)

	Close() error
}

type MemoryStore interface {
	PersistMemory(ctx context.Context, m *models.Memory) error
	GetMemory(ctx context.Context, id string) (*models.Memory, error)
	QueryMemories(ctx context.Context, scope []string, f models.MemoryFilter) ([]*models.Memory, error)
	DeleteMemory(ctx context.Context, id string) error
}

type ReminderStore interface {
	CreateReminder(ctx context.Context, r *models.Reminder) error
	GetReminder(ctx context.Context, id string) (*models.Reminder, error)
	// MarkReminderSent is idempotent: the first call sets sent_at, later
	// calls leave it untouched and return no error.
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
	DueBefore(ctx context.Context, t time.Time) ([]*models.Reminder, error)
	PendingReminders(ctx context.Context, ownerID string) ([]*models.Reminder, error)
}

type HouseholdStore interface {
	UpsertHousehold(ctx context.Context, h *models.Household) error
	UpsertMember(ctx context.Context, m *models.Member) error
	LinkAccount(ctx context.Context, a *models.MemberAccount) error
	// FamilyScope returns the account identities linked to active members
	// of the household.
	FamilyScope(ctx context.Context, slug string) ([]string, error)
	// ActiveMemberNames returns display names of active members, used as
	// candidate options when a person field needs disambiguation.
	ActiveMemberNames(ctx context.Context, slug string) ([]string, error)
	// EnsureOwner registers an identity as a known owner. Idempotent, so a
	// first-time family member contributes zero instead of failing lookups.
	EnsureOwner(ctx context.Context, userID string) error
}

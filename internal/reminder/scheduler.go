package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/storage"
)

// Schedule computes the absolute fire time for a target. "Remind N days
// before" semantics: when an advance offset is given, the reminder fires
// that much earlier than the target; otherwise it fires at the target.
func Schedule(target time.Time, advanceOffset *time.Duration) time.Time {
	if advanceOffset != nil {
		return target.Add(-*advanceOffset)
	}
	return target
}

// Scheduler creates reminders and answers pending-reminder queries.
type Scheduler struct {
	store  storage.ReminderStore
	logger *zap.Logger
}

func NewScheduler(store storage.ReminderStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{store: store, logger: logger}
}

// Create persists a reminder firing at Schedule(target, offset). memoryID
// optionally back-references the fact that spawned the reminder.
func (s *Scheduler) Create(ctx context.Context, ownerID, threadID, message string, memoryID *string, target time.Time, offset *time.Duration) (*models.Reminder, error) {
	r := &models.Reminder{
		ID:            uuid.New().String(),
		MemoryID:      memoryID,
		OwnerID:       ownerID,
		ThreadID:      threadID,
		Message:       message,
		RemindAt:      Schedule(target, offset),
		AdvanceOffset: offset,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		return nil, fmt.Errorf("creating reminder: %w", err)
	}

	s.logger.Info("Reminder scheduled",
		zap.String("reminder_id", r.ID),
		zap.Time("remind_at", r.RemindAt))
	return r, nil
}

// DueBefore returns pending reminders with remind_at <= t, ascending.
func (s *Scheduler) DueBefore(ctx context.Context, t time.Time) ([]*models.Reminder, error) {
	return s.store.DueBefore(ctx, t)
}

// Pending lists an owner's undelivered reminders.
func (s *Scheduler) Pending(ctx context.Context, ownerID string) ([]*models.Reminder, error) {
	return s.store.PendingReminders(ctx, ownerID)
}

// MarkSent records delivery. Safe to call more than once.
func (s *Scheduler) MarkSent(ctx context.Context, id string) error {
	return s.store.MarkReminderSent(ctx, id, time.Now())
}

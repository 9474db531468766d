package models

import "time"

// Reminder is a scheduled notification, optionally spawned by a Memory.
// MemoryID is nulled (never cascaded) when the referenced memory is deleted.
type Reminder struct {
	ID            string         `json:"id"`
	MemoryID      *string        `json:"memory_id,omitempty"`
	OwnerID       string         `json:"owner_id"`
	ThreadID      string         `json:"thread_id"`
	Message       string         `json:"message"`
	RemindAt      time.Time      `json:"remind_at"`
	AdvanceOffset *time.Duration `json:"advance_offset,omitempty"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Pending reports whether the reminder has not been delivered yet.
func (r *Reminder) Pending() bool {
	return r.SentAt == nil
}

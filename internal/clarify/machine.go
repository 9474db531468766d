package clarify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/schema"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/understand"
)

// Status is the observable state an Advance call leaves a thread in.
type Status string

const (
	// StatusCompleted means every required field is filled; the caller
	// persists the record. This is the only path that writes durably.
	StatusCompleted Status = "completed"
	// StatusAwaitingField means exactly one clarifying question was
	// produced and the session waits for the answer.
	StatusAwaitingField Status = "awaiting_field"
	// StatusDiscarded means the session was cancelled while the
	// extraction was in flight; its result was thrown away.
	StatusDiscarded Status = "discarded"
)

// Outcome is the result of advancing a thread's conversation by one message.
type Outcome struct {
	Status     Status
	Type       models.RecordType
	Fields     models.Understanding
	Summary    string
	Field      string
	Question   string
	Candidates []string
}

// CandidateSource enumerates the bounded option set for a member-valued
// field, e.g. the household's active member names.
type CandidateSource interface {
	MemberCandidates(ctx context.Context, threadID string) ([]string, error)
}

// Machine is the clarification state machine. It carries partial
// extractions across turns, asks about exactly one missing field per turn,
// and hands completed records back to the caller.
type Machine struct {
	registry   *schema.Registry
	adapter    understand.Adapter
	sessions   *Store
	candidates CandidateSource
	logger     *zap.Logger
}

func NewMachine(registry *schema.Registry, adapter understand.Adapter, sessions *Store, candidates CandidateSource, logger *zap.Logger) *Machine {
	return &Machine{
		registry:   registry,
		adapter:    adapter,
		sessions:   sessions,
		candidates: candidates,
		logger:     logger,
	}
}

// Advance processes one inbound message for a thread. Messages within the
// same thread serialize on the thread's processing lock; the understanding
// call itself runs without any session lock held.
func (m *Machine) Advance(ctx context.Context, threadID, ownerID, text string) (*Outcome, error) {
	e := m.sessions.lockThread(threadID)
	defer e.proc.Unlock()

	now := time.Now()
	prior, gen, wasStale := m.sessions.snapshot(threadID, now)
	if wasStale {
		// A stale session is never resurrected; the message starts a
		// fresh evaluation and the user just sees a normal reply.
		m.logger.Info("Clarification session expired",
			zap.String("thread_id", threadID))
	}

	var priorFields models.Understanding
	if prior != nil {
		priorFields = prior.Partial
	}

	extraction, err := m.adapter.Understand(ctx, text, priorFields)
	if err != nil {
		return nil, err
	}

	merged, recordType := m.merge(prior, extraction)
	missing := m.registry.Missing(recordType, merged)

	if len(missing) == 0 {
		if !m.sessions.commit(threadID, gen, nil) {
			return &Outcome{Status: StatusDiscarded}, nil
		}
		return &Outcome{
			Status:  StatusCompleted,
			Type:    recordType,
			Fields:  merged,
			Summary: extraction.Summary,
		}, nil
	}

	next := missing[0]
	sess := &Session{
		ThreadID:  threadID,
		OwnerID:   ownerID,
		Type:      recordType,
		Partial:   merged,
		Missing:   missing,
		UpdatedAt: now,
	}
	if prior != nil {
		sess.CreatedAt = prior.CreatedAt
	} else {
		sess.CreatedAt = now
	}

	var candidates []string
	if next.MemberCandidate && m.candidates != nil {
		candidates, err = m.candidates.MemberCandidates(ctx, threadID)
		if err != nil {
			m.logger.Warn("Failed to load member candidates", zap.Error(err))
			candidates = nil
		}
	}
	if len(candidates) > 0 {
		sess.Candidates = map[string][]string{next.Name: candidates}
	}

	if !m.sessions.commit(threadID, gen, sess) {
		return &Outcome{Status: StatusDiscarded}, nil
	}

	return &Outcome{
		Status:     StatusAwaitingField,
		Type:       recordType,
		Fields:     merged,
		Field:      next.Name,
		Question:   formatQuestion(next, candidates),
		Candidates: candidates,
	}, nil
}

// merge folds a new extraction into the prior partial state. New non-empty
// values overwrite; an empty extraction value never re-nulls a field the
// user already supplied. Fields the registry does not recognize for the
// record type are dropped and logged, and processing continues.
func (m *Machine) merge(prior *Session, ex *understand.Extraction) (models.Understanding, models.RecordType) {
	recordType := ex.Type
	merged := models.Understanding{}
	if prior != nil {
		merged = prior.Partial.Clone()
		// The session's type is sticky: a follow-up answer like a bare
		// amount must not re-classify the record.
		recordType = prior.Type
	}
	if recordType == "" {
		recordType = models.TypeInfo
	}

	for k, v := range ex.Fields {
		if v == "" {
			continue
		}
		if k == models.FieldType {
			continue
		}
		if !m.registry.Known(recordType, k) {
			m.logger.Warn("Dropping unrecognized field",
				zap.String("field", k),
				zap.String("type", string(recordType)),
				zap.Error(models.ErrSchemaViolation))
			continue
		}
		merged[k] = v
	}
	merged[models.FieldType] = string(recordType)
	return merged, recordType
}

// Cancel drops the thread's active session. In-flight understanding calls
// for it complete normally but their results are discarded.
func (m *Machine) Cancel(threadID string) bool {
	return m.sessions.Cancel(threadID)
}

// Active returns the thread's live session, or nil.
func (m *Machine) Active(threadID string) *Session {
	return m.sessions.Active(threadID, time.Now())
}

func formatQuestion(f schema.FieldSpec, candidates []string) string {
	if len(candidates) == 0 {
		return f.Prompt
	}
	return fmt.Sprintf("%s（%s）", f.Prompt, strings.Join(candidates, " / "))
}

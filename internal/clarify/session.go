package clarify

import (
	"sync"
	"time"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/schema"
)

// Session is the ephemeral state of one partially filled record, keyed by
// conversation thread. Sessions live only in process memory; durable
// records are written solely when a session completes.
type Session struct {
	ThreadID   string
	OwnerID    string
	Type       models.RecordType
	Partial    models.Understanding
	Missing    []schema.FieldSpec
	Candidates map[string][]string
	CreatedAt  time.Time
	UpdatedAt  time.Time

}

func (s *Session) clone() *Session {
	copied := *s
	copied.Partial = s.Partial.Clone()
	return &copied
}

// Store holds clarification sessions keyed by thread. Each thread has its
// own processing lock, so concurrent messages within one thread serialize
// while different threads proceed fully in parallel. Session data itself is
// guarded by the store lock, which is never held across an adapter call.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
}

type entry struct {
	proc sync.Mutex // serializes message handling for one thread
	sess *Session   // guarded by Store.mu; nil when no session is active
	gen  uint64
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
	}
}

func (st *Store) entryFor(threadID string) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[threadID]
	if !ok {
		e = &entry{}
		st.entries[threadID] = e
	}
	return e
}

// lockThread acquires the per-thread processing lock.
func (st *Store) lockThread(threadID string) *entry {
	e := st.entryFor(threadID)
	e.proc.Lock()
	return e
}

// snapshot returns a copy of the live session for the thread together with
// the generation it was read under, expiring the session first if its
// inactivity window has lapsed. Session and generation must be read inside
// one critical section: a Cancel landing between two separate reads would
// pair a pre-cancel snapshot with a post-cancel generation, and a later
// commit would resurrect the cancelled session. The third result reports
// whether a stale session was dropped.
func (st *Store) snapshot(threadID string, now time.Time) (*Session, uint64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.entries[threadID]
	if !ok {
		return nil, 0, false
	}
	if e.sess == nil {
		return nil, e.gen, false
	}
	if now.Sub(e.sess.UpdatedAt) > st.ttl {
		e.sess = nil
		return nil, e.gen, true
	}
	return e.sess.clone(), e.gen, false
}

// commit installs (or clears) the session for a thread, unless the
// generation moved since the snapshot was taken — which means the session
// was cancelled while the caller was waiting on the adapter.
func (st *Store) commit(threadID string, snapshotGen uint64, sess *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.entries[threadID]
	if !ok {
		return false
	}
	if e.gen != snapshotGen {
		return false
	}
	e.sess = sess
	return true
}

// Cancel drops the thread's session, if any, and bumps the generation so
// in-flight extractions for it are discarded. Returns whether a session
// existed.
func (st *Store) Cancel(threadID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.entries[threadID]
	if !ok || e.sess == nil {
		return false
	}
	e.sess = nil
	e.gen++
	return true
}

// Active returns a copy of the thread's live session, or nil.
func (st *Store) Active(threadID string, now time.Time) *Session {
	s, _, _ := st.snapshot(threadID, now)
	return s
}

// StartSweeper prunes expired sessions on a fixed interval until the
// returned stop function is called. Expiry is also enforced lazily on each
// snapshot; the sweeper just keeps abandoned threads from accumulating.
func (st *Store) StartSweeper(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				st.PruneExpired(time.Now())
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// PruneExpired drops every session whose inactivity window has lapsed and
// returns how many were removed. Run periodically; expiry is also enforced
// lazily on each snapshot.
func (st *Store) PruneExpired(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	pruned := 0
	for _, e := range st.entries {
		if e.sess != nil && now.Sub(e.sess.UpdatedAt) > st.ttl {
			e.sess = nil
			pruned++
		}
	}
	return pruned
}

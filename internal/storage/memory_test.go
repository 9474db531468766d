package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

func TestPersistComputesProjection(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	m := &models.Memory{
		ID:       "m1",
		OwnerID:  "tg:100",
		ThreadID: "t1",
		Content:  "买了衣服 160元",
		Understanding: models.Understanding{
			models.FieldType:     "expense",
			models.FieldCategory: "clothing",
			models.FieldAmount:   "160",
		},
	}
	if err := s.PersistMemory(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}

	// The stored projection must equal a fresh derivation from the stored
	// mapping; the two may never drift.
	want := ProjectUnderstanding(got.Understanding, got.ThreadID)
	if got.Projection.Type != want.Type || got.Projection.Category != want.Category {
		t.Errorf("projection drifted: %+v vs %+v", got.Projection, want)
	}
	if got.Projection.Value == nil || !got.Projection.Value.Equal(*want.Value) {
		t.Errorf("value projection = %v, want %v", got.Projection.Value, want.Value)
	}
	if got.Projection.Value.String() != "160" {
		t.Errorf("value = %s, want 160", got.Projection.Value)
	}
}

func TestDeleteMemoryNullsReminderReference(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	m := &models.Memory{ID: "m1", OwnerID: "u1", ThreadID: "t1", Understanding: models.Understanding{}}
	if err := s.PersistMemory(ctx, m); err != nil {
		t.Fatal(err)
	}
	memID := "m1"
	r := &models.Reminder{ID: "r1", MemoryID: &memID, OwnerID: "u1", ThreadID: "t1", RemindAt: time.Now()}
	if err := s.CreateReminder(ctx, r); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteMemory(ctx, "m1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetReminder(ctx, "r1")
	if err != nil {
		t.Fatalf("reminder must survive memory deletion: %v", err)
	}
	if got.MemoryID != nil {
		t.Errorf("memory reference should be nulled, got %v", *got.MemoryID)
	}
}

func TestMarkReminderSentIdempotent(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	r := &models.Reminder{ID: "r1", OwnerID: "u1", ThreadID: "t1", RemindAt: time.Now()}
	if err := s.CreateReminder(ctx, r); err != nil {
		t.Fatal(err)
	}

	first := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	if err := s.MarkReminderSent(ctx, "r1", first); err != nil {
		t.Fatal(err)
	}
	second := first.Add(time.Hour)
	if err := s.MarkReminderSent(ctx, "r1", second); err != nil {
		t.Fatalf("second send must not error: %v", err)
	}

	got, err := s.GetReminder(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SentAt == nil || !got.SentAt.Equal(first) {
		t.Errorf("sent_at = %v, want %v (unchanged by second call)", got.SentAt, first)
	}

	if err := s.MarkReminderSent(ctx, "missing", first); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing reminder: err = %v, want ErrNotFound", err)
	}
}

func TestDueBeforeOrderedPendingOnly(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)

	sent := base.Add(-time.Hour)
	for _, r := range []*models.Reminder{
		{ID: "late", OwnerID: "u1", ThreadID: "t1", RemindAt: base.Add(30 * time.Minute)},
		{ID: "early", OwnerID: "u1", ThreadID: "t1", RemindAt: base.Add(-2 * time.Hour)},
		{ID: "future", OwnerID: "u1", ThreadID: "t1", RemindAt: base.Add(48 * time.Hour)},
		{ID: "done", OwnerID: "u1", ThreadID: "t1", RemindAt: base.Add(-3 * time.Hour), SentAt: &sent},
	} {
		if err := s.CreateReminder(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.DueBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due reminders, want 2", len(due))
	}
	if due[0].ID != "early" || due[1].ID != "late" {
		t.Errorf("order = [%s %s], want [early late]", due[0].ID, due[1].ID)
	}
}

func TestFamilyScope(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	h := &models.Household{ID: "h1", Slug: "chen-family"}
	if err := s.UpsertHousehold(ctx, h); err != nil {
		t.Fatal(err)
	}

	members := []*models.Member{
		{ID: "mem1", HouseholdID: "h1", MemberKey: "dad", DisplayName: "爸爸", IsActive: true},
		{ID: "mem2", HouseholdID: "h1", MemberKey: "mom", DisplayName: "妈妈", IsActive: true},
		{ID: "mem3", HouseholdID: "h1", MemberKey: "uncle", DisplayName: "叔叔", IsActive: false},
	}
	for _, m := range members {
		if err := s.UpsertMember(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	accounts := []*models.MemberAccount{
		{ID: "a1", MemberID: "mem1", UserID: "tg:100"},
		{ID: "a2", MemberID: "mem1", UserID: "tg:101"}, // second linked account
		{ID: "a3", MemberID: "mem2", UserID: "tg:200"},
		{ID: "a4", MemberID: "mem3", UserID: "tg:300"}, // inactive member
	}
	for _, a := range accounts {
		if err := s.LinkAccount(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	// Linking the same (member, account) twice is a no-op.
	if err := s.LinkAccount(ctx, &models.MemberAccount{ID: "a5", MemberID: "mem2", UserID: "tg:200"}); err != nil {
		t.Fatal(err)
	}

	scope, err := s.FamilyScope(ctx, "chen-family")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"tg:100", "tg:101", "tg:200"}
	if len(scope) != len(want) {
		t.Fatalf("scope = %v, want %v", scope, want)
	}
	for i := range want {
		if scope[i] != want[i] {
			t.Errorf("scope[%d] = %s, want %s", i, scope[i], want[i])
		}
	}

	names, err := s.ActiveMemberNames(ctx, "chen-family")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v, want two active members", names)
	}
}

func TestUpsertMemberUpdatesInPlace(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	if err := s.UpsertHousehold(ctx, &models.Household{ID: "h1", Slug: "fam"}); err != nil {
		t.Fatal(err)
	}
	m := &models.Member{ID: "mem1", HouseholdID: "h1", MemberKey: "kid", DisplayName: "大女儿", IsActive: true}
	if err := s.UpsertMember(ctx, m); err != nil {
		t.Fatal(err)
	}

	update := &models.Member{ID: "mem-new", HouseholdID: "h1", MemberKey: "kid", DisplayName: "大女儿", IsActive: false}
	if err := s.UpsertMember(ctx, update); err != nil {
		t.Fatal(err)
	}
	if update.ID != "mem1" {
		t.Errorf("upsert should resolve to existing id, got %s", update.ID)
	}

	names, err := s.ActiveMemberNames(ctx, "fam")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("deactivated member still listed: %v", names)
	}
}

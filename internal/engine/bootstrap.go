package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/aggregate"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/storage"
)

// MemberSeed declares one household member and their external accounts.
type MemberSeed struct {
	Key      string
	Name     string
	Accounts []string
}

// HouseholdSeed is the configured household bootstrapped at startup.
type HouseholdSeed struct {
	Slug    string
	Members []MemberSeed
}

// Bootstrap upserts the configured household, its members, and their linked
// accounts. Safe to run on every start.
func Bootstrap(ctx context.Context, store storage.Storage, seed HouseholdSeed, logger *zap.Logger) error {
	if seed.Slug == "" {
		return nil
	}

	h := &models.Household{ID: uuid.New().String(), Slug: seed.Slug}
	if err := store.UpsertHousehold(ctx, h); err != nil {
		return fmt.Errorf("upserting household: %w", err)
	}

	for _, ms := range seed.Members {
		member := &models.Member{
			ID:          uuid.New().String(),
			HouseholdID: h.ID,
			MemberKey:   ms.Key,
			DisplayName: ms.Name,
			IsActive:    true,
		}
		if err := store.UpsertMember(ctx, member); err != nil {
			return fmt.Errorf("upserting member %s: %w", ms.Key, err)
		}

		for _, raw := range ms.Accounts {
			userID, err := aggregate.NormalizeIdentity(raw)
			if err != nil {
				return fmt.Errorf("member %s account %q: %w", ms.Key, raw, err)
			}
			account := &models.MemberAccount{
				ID:       uuid.New().String(),
				MemberID: member.ID,
				UserID:   userID,
			}
			if err := store.LinkAccount(ctx, account); err != nil {
				return fmt.Errorf("linking account %s: %w", userID, err)
			}
			if err := store.EnsureOwner(ctx, userID); err != nil {
				return fmt.Errorf("registering owner %s: %w", userID, err)
			}
		}
	}

	logger.Info("Household bootstrapped",
		zap.String("slug", seed.Slug),
		zap.Int("members", len(seed.Members)))
	return nil
}

// HouseholdCandidates serves member display names as the bounded candidate
// set for person-valued clarification questions.
type HouseholdCandidates struct {
	store storage.HouseholdStore
	slug  string
}

func NewHouseholdCandidates(store storage.HouseholdStore, slug string) *HouseholdCandidates {
	return &HouseholdCandidates{store: store, slug: slug}
}

func (h *HouseholdCandidates) MemberCandidates(ctx context.Context, _ string) ([]string, error) {
	if h.slug == "" {
		return nil, nil
	}
	return h.store.ActiveMemberNames(ctx, h.slug)
}

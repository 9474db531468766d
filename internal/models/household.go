package models

import "time"

// Household groups members whose linked accounts form one aggregation scope.
type Household struct {
	ID        string            `json:"id"`
	Slug      string            `json:"slug"`
	Config    map[string]string `json:"config"`
	CreatedAt time.Time         `json:"created_at"`
}

// Member belongs to exactly one household; MemberKey is unique within it.
type Member struct {
	ID          string            `json:"id"`
	HouseholdID string            `json:"household_id"`
	MemberKey   string            `json:"member_key"`
	DisplayName string            `json:"display_name"`
	Profile     map[string]string `json:"profile"`
	IsActive    bool              `json:"is_active"`
}

// MemberAccount links a member to one external account identity. A member
// may have several linked accounts; (member, user_id) is unique.
type MemberAccount struct {
	ID       string `json:"id"`
	MemberID string `json:"member_id"`
	UserID   string `json:"user_id"`
}

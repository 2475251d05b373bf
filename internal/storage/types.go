package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyResolved is returned by ResolveDrop when the drop row
	// exists but another actor already won the resolution race.
	ErrAlreadyResolved = errors.New("storage: drop already resolved")
)

// TenantSettings holds the per-tenant game configuration. Text and image
// fields are nullable: empty string means "not customised, use the
// built-in default", which callers resolve at render time.
type TenantSettings struct {
	TenantID int64

	DestinationChat   int64
	DestinationThread int

	DropText     string
	DropImage    string
	ClaimText    string
	ClaimImage   string
	DestroyText  string
	DestroyImage string

	RareDropText     string
	RareDropImage    string
	RareClaimText    string
	RareClaimImage   string
	RareDestroyText  string
	RareDestroyImage string
	RareRole         string

	ExpiryMinutes int
	LeaderboardOn bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Field names a single mutable column of TenantSettings. The command
// layer mutates one field per command, so updates are keyed rather than
// whole-row.
type Field string

const (
	FieldDestinationChat   Field = "destination_chat"
	FieldDestinationThread Field = "destination_thread"
	FieldDropText          Field = "drop_text"
	FieldDropImage         Field = "drop_image"
	FieldClaimText         Field = "claim_text"
	FieldClaimImage        Field = "claim_image"
	FieldDestroyText       Field = "destroy_text"
	FieldDestroyImage      Field = "destroy_image"
	FieldRareDropText      Field = "rare_drop_text"
	FieldRareDropImage     Field = "rare_drop_image"
	FieldRareClaimText     Field = "rare_claim_text"
	FieldRareClaimImage    Field = "rare_claim_image"
	FieldRareDestroyText   Field = "rare_destroy_text"
	FieldRareDestroyImage  Field = "rare_destroy_image"
	FieldRareRole          Field = "rare_role"
	FieldExpiryMinutes     Field = "expiry_minutes"
	FieldLeaderboardOn     Field = "leaderboard_on"
)

// columns maps Field values to their backing column. Acting as an
// allowlist keeps field names out of SQL string interpolation.
var columns = map[Field]string{
	FieldDestinationChat:   "destination_chat",
	FieldDestinationThread: "destination_thread",
	FieldDropText:          "drop_text",
	FieldDropImage:         "drop_image",
	FieldClaimText:         "claim_text",
	FieldClaimImage:        "claim_image",
	FieldDestroyText:       "destroy_text",
	FieldDestroyImage:      "destroy_image",
	FieldRareDropText:      "rare_drop_text",
	FieldRareDropImage:     "rare_drop_image",
	FieldRareClaimText:     "rare_claim_text",
	FieldRareClaimImage:    "rare_claim_image",
	FieldRareDestroyText:   "rare_destroy_text",
	FieldRareDestroyImage:  "rare_destroy_image",
	FieldRareRole:          "rare_role",
	FieldExpiryMinutes:     "expiry_minutes",
	FieldLeaderboardOn:     "leaderboard_on",
}

// ParticipantStats is a single row of the per-tenant collection tally.
type ParticipantStats struct {
	TenantID      int64
	ParticipantID int64
	Name          string
	Claimed       int64
	Destroyed     int64
	RareClaimed   int64
}

// StatsDelta is applied additively to a participant's tally.
type StatsDelta struct {
	Name        string
	Claimed     int64
	Destroyed   int64
	RareClaimed int64
}

// LeaderboardEntry is one row of a claim-count ranking.
type LeaderboardEntry struct {
	ParticipantID int64
	Name          string
	Claimed       int64
}

// ActiveDrop is a row of the outstanding-drop ledger. Rarity is fixed at
// insert time so resolution and expiry never re-roll it.
type ActiveDrop struct {
	TenantID  int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Rare      bool
	PostedAt  time.Time

	Resolved   bool
	Outcome    string
	ResolvedBy int64
	ResolvedAt time.Time
}

// AuditEntry records a configuration or permission change.
type AuditEntry struct {
	TenantID int64
	ActorID  int64
	Action   string
	Detail   string
	At       time.Time
}

// Store is the persistence surface for the game engine. Implementations
// must be safe for concurrent use.
type Store interface {
	// Tenants and settings.
	EnsureTenant(ctx context.Context, tenantID int64) error
	Tenants(ctx context.Context) ([]int64, error)
	TenantSettings(ctx context.Context, tenantID int64) (TenantSettings, error)
	UpdateTenantField(ctx context.Context, tenantID int64, field Field, value any) error

	// Global key/value policy knobs.
	PolicyValue(ctx context.Context, key string) (string, error)
	SetPolicyValue(ctx context.Context, key, value string) error

	// Collection stats and leaderboards.
	AddStats(ctx context.Context, tenantID, participantID int64, d StatsDelta) error
	TopCollectors(ctx context.Context, tenantID int64, limit int) ([]LeaderboardEntry, error)
	GlobalTopCollectors(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// Active-drop ledger.
	InsertDrop(ctx context.Context, d ActiveDrop) error
	// ResolveDrop atomically marks the drop resolved and returns the
	// resolved row. ErrAlreadyResolved means another actor won the race;
	// ErrNotFound means the drop was never posted or was already swept.
	ResolveDrop(ctx context.Context, chatID int64, messageID int, outcome string, actorID int64, at time.Time) (ActiveDrop, error)
	UnresolvedDrops(ctx context.Context) ([]ActiveDrop, error)
	DeleteDrop(ctx context.Context, chatID int64, messageID int) error
	PruneResolved(ctx context.Context, olderThan time.Time) (int64, error)

	// Delegated command permissions.
	SetAuthorized(ctx context.Context, tenantID, userID int64, authorized bool) error
	IsAuthorized(ctx context.Context, tenantID, userID int64) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// Package drop implements the item-drop game: the per-tenant scheduler
// that posts drops, the resolution gate behind the claim/destroy buttons,
// and the sweeper that expires unanswered drops.
package drop

import (
	"time"

	"dropbot/internal/transport"
)

// Outcome is how a drop left the ledger.
type Outcome string

const (
	OutcomeClaimed   Outcome = "claimed"
	OutcomeDestroyed Outcome = "destroyed"
	OutcomeExpired   Outcome = "expired"
)

// Callback data attached to the two buttons on a posted drop.
const (
	CallbackClaim   = "drop:claim"
	CallbackDestroy = "drop:destroy"
)

// Rare promotion check, applied after a tick authorises a drop.
const rareDenominator = 50

// PostedEvent is published on the bus when a drop lands.
type PostedEvent struct {
	TenantID int64
	Ref      transport.MessageRef
	Rare     bool
}

// ResolvedEvent is published when a claim or destroy wins the gate.
type ResolvedEvent struct {
	TenantID      int64
	Ref           transport.MessageRef
	Rare          bool
	Outcome       Outcome
	ParticipantID int64
	At            time.Time
}

// ExpiredEvent is published for each drop the sweeper retracts.
type ExpiredEvent struct {
	TenantID int64
	Ref      transport.MessageRef
	PostedAt time.Time
}

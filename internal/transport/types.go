package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

// ChatTarget addresses a destination: a chat, optionally a topic thread in it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a single posted message. It doubles as the durable
// drop identity in the ledger.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is a portable inline action affordance attached to a message.
// Data comes back verbatim in Callback.Data when pressed.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons are laid out one row per inner slice.
	Buttons [][]Button
}

// Messenger is the outbound messaging capability the engine consumes.
// All calls are single-attempt and best-effort; the engine never retries.
type Messenger interface {
	Post(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	Retract(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// DestinationLister reports where the engine's identity can currently post
// within a tenant. An empty result means "no permitted destination".
type DestinationLister interface {
	Destinations(ctx context.Context, tenantID int64) ([]ChatTarget, error)
}

// RoleManager mutates the platform-side rare role. Role identity is an opaque
// string owned by the platform adapter.
type RoleManager interface {
	GrantRole(ctx context.Context, tenantID, participantID int64, role string) error
	RevokeRole(ctx context.Context, tenantID, participantID int64, role string) error
	RoleHolders(ctx context.Context, tenantID int64, role string) ([]int64, error)
}

// PermissionChecker answers whether an actor holds platform-side admin rights
// in a tenant. Storage-backed authorisations are layered on top by the engine.
type PermissionChecker interface {
	IsTenantAdmin(ctx context.Context, tenantID, participantID int64) (bool, error)
}

// Adapter is the full transport surface implemented by a platform backend.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Messenger
	DestinationLister
	RoleManager
	PermissionChecker
}

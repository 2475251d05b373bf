package drop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dropbot/internal/eventbus"
	"dropbot/internal/storage"
	"dropbot/internal/transport"
	logx "dropbot/pkg/logx"
)

// Answers shown to the loser of a resolution race.
const (
	answerAlreadyResolved = "This item has already been collected or destroyed."
	answerGone            = "This item is no longer available."
)

// gate arbitrates the claim/destroy race on posted drops. Arbitration
// itself is delegated to the ledger's conditional update; everything here
// is the winner's side effects.
type gate struct {
	store storage.Store
	msgr  transport.Messenger
	roles transport.RoleManager
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

// HandleCallback processes one button press on a drop message.
func (g *gate) HandleCallback(ctx context.Context, cb transport.Callback) error {
	var outcome Outcome
	switch cb.Data {
	case CallbackClaim:
		outcome = OutcomeClaimed
	case CallbackDestroy:
		outcome = OutcomeDestroyed
	default:
		return fmt.Errorf("gate: unknown callback data %q", cb.Data)
	}

	d, err := g.store.ResolveDrop(ctx, cb.ChatID, cb.MessageID, string(outcome), cb.FromID, g.now())
	switch {
	case errors.Is(err, storage.ErrAlreadyResolved):
		return g.msgr.AnswerCallback(ctx, cb.ID, answerAlreadyResolved)
	case errors.Is(err, storage.ErrNotFound):
		return g.msgr.AnswerCallback(ctx, cb.ID, answerGone)
	case err != nil:
		// Resolution state unknown; do not touch stats or the message.
		_ = g.msgr.AnswerCallback(ctx, cb.ID, "")
		return fmt.Errorf("gate: resolve: %w", err)
	}

	name := cb.FromUsername
	delta := storage.StatsDelta{Name: name}
	if outcome == OutcomeClaimed {
		delta.Claimed = 1
		if d.Rare {
			delta.RareClaimed = 1
		}
	} else {
		delta.Destroyed = 1
	}
	if err := g.store.AddStats(ctx, d.TenantID, cb.FromID, delta); err != nil {
		g.log.Error("stats update failed after resolution",
			logx.Int64("tenant", d.TenantID), logx.Int64("participant", cb.FromID), logx.Err(err))
	}

	ts, err := g.store.TenantSettings(ctx, d.TenantID)
	if err != nil {
		g.log.Warn("settings load failed after resolution",
			logx.Int64("tenant", d.TenantID), logx.Err(err))
		ts = storage.TenantSettings{TenantID: d.TenantID}
	}
	v := resolveView(ts, d.Rare)

	if outcome == OutcomeClaimed && d.Rare && v.RareRole != "" {
		g.reassignRole(ctx, d.TenantID, cb.FromID, v.RareRole)
	}

	ref := transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	g.rewriteOutcome(ctx, ref, v, outcome, name)
	if err := g.msgr.AnswerCallback(ctx, cb.ID, ""); err != nil {
		g.log.Debug("callback answer failed", logx.Err(err))
	}

	g.log.Info("drop resolved",
		logx.Int64("tenant", d.TenantID),
		logx.Int64("participant", cb.FromID),
		logx.String("outcome", string(outcome)),
		logx.Bool("rare", d.Rare))
	g.bus.Publish(eventbus.Event{
		Type: eventbus.TypeDropResolved,
		Time: d.ResolvedAt,
		Data: ResolvedEvent{
			TenantID:      d.TenantID,
			Ref:           ref,
			Rare:          d.Rare,
			Outcome:       outcome,
			ParticipantID: cb.FromID,
			At:            d.ResolvedAt,
		},
	})
	return nil
}

// reassignRole makes the claimer the sole holder of the rare role.
// Failures are logged and never unwind the resolution.
func (g *gate) reassignRole(ctx context.Context, tenantID, participantID int64, role string) {
	holders, err := g.roles.RoleHolders(ctx, tenantID, role)
	if err != nil {
		g.log.Warn("rare role holders lookup failed",
			logx.Int64("tenant", tenantID), logx.String("role", role), logx.Err(err))
		holders = nil
	}
	for _, h := range holders {
		if h == participantID {
			continue
		}
		if err := g.roles.RevokeRole(ctx, tenantID, h, role); err != nil {
			g.log.Warn("rare role revoke failed",
				logx.Int64("tenant", tenantID), logx.Int64("holder", h), logx.Err(err))
		}
	}
	if err := g.roles.GrantRole(ctx, tenantID, participantID, role); err != nil {
		g.log.Warn("rare role grant failed",
			logx.Int64("tenant", tenantID), logx.Int64("participant", participantID), logx.Err(err))
	}
}

// rewriteOutcome replaces the drop announcement with the outcome text.
// The drop is already resolved durably, so an edit failure only costs
// cosmetics.
func (g *gate) rewriteOutcome(ctx context.Context, ref transport.MessageRef, v view, outcome Outcome, actor string) {
	text := v.ClaimText
	image := v.ClaimImage
	if outcome == OutcomeDestroyed {
		text = v.DestroyText
		image = v.DestroyImage
	}
	text = substituteActor(text, actor)
	if image != "" {
		text += "\n" + image
	}
	if err := g.msgr.Edit(ctx, ref, text, &transport.SendOptions{}); err != nil {
		g.log.Warn("outcome rewrite failed",
			logx.Int64("chat", ref.ChatID), logx.Int("message", ref.MessageID), logx.Err(err))
	}
}

package drop

import (
	"context"
	"fmt"
	"time"

	"dropbot/internal/eventbus"
	"dropbot/internal/storage"
	"dropbot/internal/transport"
	logx "dropbot/pkg/logx"
)

// Rand is the randomness source for drop draws. Injected so tick
// behaviour is deterministic under test.
type Rand interface {
	Intn(n int) int
}

// scheduler rolls the drop dice for every known tenant on each tick.
type scheduler struct {
	store storage.Store
	msgr  transport.Messenger
	dests transport.DestinationLister
	bus   eventbus.Bus
	rng   Rand
	log   logx.Logger
	now   func() time.Time
}

// Tick processes one scheduler round with the policy fixed for its
// duration. A tenant failure is logged and never aborts the rest of the
// round.
func (s *scheduler) Tick(ctx context.Context, pol Policy) error {
	denom := pol.ChanceDenominator
	if denom < 1 {
		denom = defaultChanceDenominator
	}

	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("scheduler tick: %w", err)
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.rng.Intn(denom) != 0 {
			continue
		}
		rare := s.rng.Intn(rareDenominator) == 0
		if err := s.emit(ctx, tenantID, rare); err != nil {
			s.log.Warn("drop attempt failed",
				logx.Int64("tenant", tenantID), logx.Bool("rare", rare), logx.Err(err))
		}
	}
	return nil
}

func (s *scheduler) emit(ctx context.Context, tenantID int64, rare bool) error {
	ts, err := s.store.TenantSettings(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	target, ok, err := s.pickDestination(ctx, ts)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}
	if !ok {
		// No permitted destination is a quiet skip, not an error.
		s.log.Debug("no destination for drop", logx.Int64("tenant", tenantID))
		return nil
	}

	v := resolveView(ts, rare)
	ref, err := s.msgr.Post(ctx, target, composeDropText(v), &transport.SendOptions{
		Buttons: [][]transport.Button{{
			{Text: "Claim", Data: CallbackClaim},
			{Text: "Destroy", Data: CallbackDestroy},
		}},
	})
	if err != nil {
		return fmt.Errorf("post drop: %w", err)
	}

	// Ledger entry only after the post succeeded; a failed post leaves
	// nothing for the gate or sweeper to find.
	d := storage.ActiveDrop{
		TenantID:  tenantID,
		ChatID:    ref.ChatID,
		ThreadID:  ref.ThreadID,
		MessageID: ref.MessageID,
		Rare:      rare,
		PostedAt:  s.now(),
	}
	if err := s.store.InsertDrop(ctx, d); err != nil {
		return fmt.Errorf("record drop: %w", err)
	}

	s.log.Info("drop posted",
		logx.Int64("tenant", tenantID),
		logx.Int64("chat", ref.ChatID),
		logx.Int("message", ref.MessageID),
		logx.Bool("rare", rare))
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeDropPosted,
		Time: d.PostedAt,
		Data: PostedEvent{TenantID: tenantID, Ref: ref, Rare: rare},
	})
	return nil
}

// pickDestination prefers the configured destination and otherwise
// chooses uniformly among the places the bot can currently post.
func (s *scheduler) pickDestination(ctx context.Context, ts storage.TenantSettings) (transport.ChatTarget, bool, error) {
	if ts.DestinationChat != 0 {
		return transport.ChatTarget{ChatID: ts.DestinationChat, ThreadID: ts.DestinationThread}, true, nil
	}
	targets, err := s.dests.Destinations(ctx, ts.TenantID)
	if err != nil {
		return transport.ChatTarget{}, false, err
	}
	if len(targets) == 0 {
		return transport.ChatTarget{}, false, nil
	}
	return targets[s.rng.Intn(len(targets))], true, nil
}

// composeDropText appends the image as a trailing link so the client
// renders a preview under the announcement.
func composeDropText(v view) string {
	if v.DropImage == "" {
		return v.DropText
	}
	return v.DropText + "\n" + v.DropImage
}

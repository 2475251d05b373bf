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

// Resolved rows linger so late button presses get the "already resolved"
// answer instead of "gone", then age out.
const resolvedRetention = 24 * time.Hour

// sweeper retracts drops that outlived their tenant's expiry window.
type sweeper struct {
	store storage.Store
	msgr  transport.Messenger
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

// Sweep runs one expiry pass. It is idempotent: a drop that was already
// deleted, or resolved between the listing and the retract, is simply
// skipped on the next pass.
func (s *sweeper) Sweep(ctx context.Context) error {
	drops, err := s.store.UnresolvedDrops(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	now := s.now()

	expiry := map[int64]time.Duration{}
	expired := 0
	for _, d := range drops {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		window, ok := expiry[d.TenantID]
		if !ok {
			window = s.tenantWindow(ctx, d.TenantID)
			expiry[d.TenantID] = window
		}
		if now.Sub(d.PostedAt) < window {
			continue
		}

		ref := transport.MessageRef{ChatID: d.ChatID, ThreadID: d.ThreadID, MessageID: d.MessageID}
		// Best effort: the message may already be deleted by a moderator.
		if err := s.msgr.Retract(ctx, ref); err != nil {
			s.log.Debug("expired drop retract failed",
				logx.Int64("chat", d.ChatID), logx.Int("message", d.MessageID), logx.Err(err))
		}
		if err := s.store.DeleteDrop(ctx, d.ChatID, d.MessageID); err != nil {
			s.log.Warn("expired drop delete failed",
				logx.Int64("chat", d.ChatID), logx.Int("message", d.MessageID), logx.Err(err))
			continue
		}
		expired++
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeDropExpired,
			Time: now,
			Data: ExpiredEvent{TenantID: d.TenantID, Ref: ref, PostedAt: d.PostedAt},
		})
	}

	pruned, err := s.store.PruneResolved(ctx, now.Add(-resolvedRetention))
	if err != nil {
		s.log.Warn("resolved prune failed", logx.Err(err))
	}
	if expired > 0 || pruned > 0 {
		s.log.Info("sweep completed", logx.Int("expired", expired), logx.Int64("pruned", pruned))
	}
	return nil
}

// tenantWindow reads the tenant's expiry setting, falling back to the
// default when the row is missing or unreadable.
func (s *sweeper) tenantWindow(ctx context.Context, tenantID int64) time.Duration {
	ts, err := s.store.TenantSettings(ctx, tenantID)
	if err != nil || ts.ExpiryMinutes < 1 {
		return 30 * time.Minute
	}
	return time.Duration(ts.ExpiryMinutes) * time.Minute
}

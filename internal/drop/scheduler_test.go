package drop

import (
	"context"
	"strings"
	"testing"

	"dropbot/internal/storage"
	"dropbot/internal/transport"
)

func TestTickPostsDrop(t *testing.T) {
	t.Parallel()
	// winning chance draw, losing rare draw
	f := newFixture(t, &seqRand{vals: []int{0, 5}})
	f.seedTenant(t, -100, map[storage.Field]any{
		storage.FieldDestinationChat: int64(-100),
	})

	if err := f.svc.sched.Tick(context.Background(), Policy{ChanceDenominator: 10}); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(f.msgr.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(f.msgr.posts))
	}
	post := f.msgr.posts[0]
	if post.To.ChatID != -100 {
		t.Fatalf("posted to %d, want -100", post.To.ChatID)
	}
	if !strings.Contains(post.Text, defaultDropText) {
		t.Fatalf("post text = %q, want default announcement", post.Text)
	}
	if len(post.Opt.Buttons) != 1 || len(post.Opt.Buttons[0]) != 2 {
		t.Fatalf("buttons = %+v, want one row of two", post.Opt.Buttons)
	}
	if post.Opt.Buttons[0][0].Data != CallbackClaim || post.Opt.Buttons[0][1].Data != CallbackDestroy {
		t.Fatalf("button data = %+v", post.Opt.Buttons[0])
	}

	open, err := f.store.UnresolvedDrops(context.Background())
	if err != nil {
		t.Fatalf("UnresolvedDrops: %v", err)
	}
	if len(open) != 1 || open[0].TenantID != -100 || open[0].Rare {
		t.Fatalf("ledger = %+v, want one normal drop for tenant -100", open)
	}
}

func TestTickRarePromotion(t *testing.T) {
	t.Parallel()
	// winning chance draw, winning rare draw
	f := newFixture(t, &seqRand{vals: []int{0, 0}})
	f.seedTenant(t, -100, map[storage.Field]any{
		storage.FieldDestinationChat: int64(-100),
	})

	if err := f.svc.sched.Tick(context.Background(), Policy{ChanceDenominator: 10}); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(f.msgr.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(f.msgr.posts))
	}
	if !strings.Contains(f.msgr.posts[0].Text, defaultRareDropText) {
		t.Fatalf("post text = %q, want rare announcement", f.msgr.posts[0].Text)
	}
	open, _ := f.store.UnresolvedDrops(context.Background())
	if len(open) != 1 || !open[0].Rare {
		t.Fatalf("ledger = %+v, want one rare drop", open)
	}
}

func TestTickLosingDraw(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{vals: []int{3}})
	f.seedTenant(t, -100, map[storage.Field]any{
		storage.FieldDestinationChat: int64(-100),
	})

	if err := f.svc.sched.Tick(context.Background(), Policy{ChanceDenominator: 10}); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(f.msgr.posts) != 0 {
		t.Fatalf("posts = %d, want 0", len(f.msgr.posts))
	}
}

func TestTickRoamsWithoutPinnedDestination(t *testing.T) {
	t.Parallel()
	// win, not rare, pick index 1 of the destination list
	f := newFixture(t, &seqRand{vals: []int{0, 5, 1}})
	f.seedTenant(t, -200, nil)
	f.dests.targets = []transport.ChatTarget{
		{ChatID: -200, ThreadID: 0},
		{ChatID: -200, ThreadID: 42},
	}

	if err := f.svc.sched.Tick(context.Background(), Policy{ChanceDenominator: 10}); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(f.msgr.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(f.msgr.posts))
	}
	if got := f.msgr.posts[0].To; got.ChatID != -200 || got.ThreadID != 42 {
		t.Fatalf("posted to %+v, want thread 42", got)
	}
}

func TestTickSkipsTenantWithoutDestinations(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{vals: []int{0, 5}})
	f.seedTenant(t, -300, nil)

	if err := f.svc.sched.Tick(context.Background(), Policy{ChanceDenominator: 10}); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(f.msgr.posts) != 0 {
		t.Fatalf("posts = %d, want 0", len(f.msgr.posts))
	}
	open, _ := f.store.UnresolvedDrops(context.Background())
	if len(open) != 0 {
		t.Fatalf("ledger = %+v, want empty", open)
	}
}

func TestTickIsolatesTenantFailures(t *testing.T) {
	t.Parallel()
	// both tenants win the draw, neither is rare
	f := newFixture(t, &seqRand{vals: []int{0, 5, 0, 5}})
	f.seedTenant(t, -400, map[storage.Field]any{
		storage.FieldDestinationChat: int64(-400),
	})
	f.seedTenant(t, -401, map[storage.Field]any{
		storage.FieldDestinationChat: int64(-401),
	})
	f.msgr.failChats = map[int64]bool{-401: true}

	if err := f.svc.sched.Tick(context.Background(), Policy{ChanceDenominator: 10}); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	open, err := f.store.UnresolvedDrops(context.Background())
	if err != nil {
		t.Fatalf("UnresolvedDrops: %v", err)
	}
	if len(open) != 1 || open[0].TenantID != -400 {
		t.Fatalf("ledger = %+v, want only tenant -400", open)
	}
}

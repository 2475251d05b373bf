package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := openSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestEnsureTenantDefaults(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.EnsureTenant(ctx, 100); err != nil {
		t.Fatalf("EnsureTenant: %v", err)
	}
	// idempotent
	if err := st.EnsureTenant(ctx, 100); err != nil {
		t.Fatalf("EnsureTenant again: %v", err)
	}

	ts, err := st.TenantSettings(ctx, 100)
	if err != nil {
		t.Fatalf("TenantSettings: %v", err)
	}
	if ts.ExpiryMinutes != 30 {
		t.Fatalf("ExpiryMinutes = %d, want 30", ts.ExpiryMinutes)
	}
	if !ts.LeaderboardOn {
		t.Fatal("LeaderboardOn should default to true")
	}
	if ts.DropText != "" || ts.RareRole != "" {
		t.Fatal("text fields should default to empty")
	}

	tenants, err := st.Tenants(ctx)
	if err != nil {
		t.Fatalf("Tenants: %v", err)
	}
	if len(tenants) != 1 || tenants[0] != 100 {
		t.Fatalf("Tenants = %v, want [100]", tenants)
	}
}

func TestTenantSettingsMissing(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	if _, err := st.TenantSettings(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTenantField(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.EnsureTenant(ctx, 7); err != nil {
		t.Fatalf("EnsureTenant: %v", err)
	}

	tests := []struct {
		name  string
		field Field
		value any
		check func(TenantSettings) bool
	}{
		{"text", FieldDropText, "an item!", func(ts TenantSettings) bool { return ts.DropText == "an item!" }},
		{"int", FieldExpiryMinutes, 45, func(ts TenantSettings) bool { return ts.ExpiryMinutes == 45 }},
		{"bool", FieldLeaderboardOn, false, func(ts TenantSettings) bool { return !ts.LeaderboardOn }},
		{"chat", FieldDestinationChat, int64(-100123), func(ts TenantSettings) bool { return ts.DestinationChat == -100123 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := st.UpdateTenantField(ctx, 7, tt.field, tt.value); err != nil {
				t.Fatalf("UpdateTenantField(%s): %v", tt.field, err)
			}
			ts, err := st.TenantSettings(ctx, 7)
			if err != nil {
				t.Fatalf("TenantSettings: %v", err)
			}
			if !tt.check(ts) {
				t.Fatalf("field %s not applied: %+v", tt.field, ts)
			}
		})
	}

	if err := st.UpdateTenantField(ctx, 7, Field("bogus"), 1); err == nil {
		t.Fatal("expected error for unknown field")
	}
	if err := st.UpdateTenantField(ctx, 999, FieldDropText, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for missing tenant", err)
	}
}

func TestPolicyValues(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.PolicyValue(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := st.SetPolicyValue(ctx, "k", "120"); err != nil {
		t.Fatalf("SetPolicyValue: %v", err)
	}
	if err := st.SetPolicyValue(ctx, "k", "200"); err != nil {
		t.Fatalf("SetPolicyValue overwrite: %v", err)
	}
	v, err := st.PolicyValue(ctx, "k")
	if err != nil {
		t.Fatalf("PolicyValue: %v", err)
	}
	if v != "200" {
		t.Fatalf("PolicyValue = %q, want 200", v)
	}
}

func TestResolveDropArbitration(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	posted := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)

	drop := ActiveDrop{TenantID: 1, ChatID: -5, MessageID: 88, Rare: true, PostedAt: posted}
	if err := st.InsertDrop(ctx, drop); err != nil {
		t.Fatalf("InsertDrop: %v", err)
	}

	got, err := st.ResolveDrop(ctx, -5, 88, "claimed", 777, time.Now())
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !got.Rare || got.TenantID != 1 || got.Outcome != "claimed" || got.ResolvedBy != 777 {
		t.Fatalf("resolved row = %+v", got)
	}
	if !got.PostedAt.Equal(posted) {
		t.Fatalf("PostedAt = %v, want %v", got.PostedAt, posted)
	}

	if _, err := st.ResolveDrop(ctx, -5, 88, "destroyed", 888, time.Now()); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want ErrAlreadyResolved", err)
	}
	if _, err := st.ResolveDrop(ctx, -5, 999, "claimed", 777, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown drop err = %v, want ErrNotFound", err)
	}
}

func TestUnresolvedAndPrune(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, d := range []ActiveDrop{
		{TenantID: 1, ChatID: -1, MessageID: 10, PostedAt: now.Add(-2 * time.Hour)},
		{TenantID: 1, ChatID: -1, MessageID: 11, PostedAt: now.Add(-time.Minute)},
	} {
		if err := st.InsertDrop(ctx, d); err != nil {
			t.Fatalf("InsertDrop %d: %v", i, err)
		}
	}
	if _, err := st.ResolveDrop(ctx, -1, 10, "claimed", 5, now.Add(-time.Hour)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	open, err := st.UnresolvedDrops(ctx)
	if err != nil {
		t.Fatalf("UnresolvedDrops: %v", err)
	}
	if len(open) != 1 || open[0].MessageID != 11 {
		t.Fatalf("UnresolvedDrops = %+v, want only message 11", open)
	}

	n, err := st.PruneResolved(ctx, now)
	if err != nil {
		t.Fatalf("PruneResolved: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	// the unresolved drop survives pruning
	open, err = st.UnresolvedDrops(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("UnresolvedDrops after prune = %+v (err %v)", open, err)
	}
}

func TestDeleteDrop(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InsertDrop(ctx, ActiveDrop{TenantID: 2, ChatID: -9, MessageID: 3, PostedAt: time.Now()}); err != nil {
		t.Fatalf("InsertDrop: %v", err)
	}
	if err := st.DeleteDrop(ctx, -9, 3); err != nil {
		t.Fatalf("DeleteDrop: %v", err)
	}
	// deleting an absent row is not an error
	if err := st.DeleteDrop(ctx, -9, 3); err != nil {
		t.Fatalf("DeleteDrop again: %v", err)
	}
	if _, err := st.ResolveDrop(ctx, -9, 3, "claimed", 1, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve deleted drop err = %v, want ErrNotFound", err)
	}
}

func TestLeaderboards(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	add := func(tenant, user int64, name string, claimed int64) {
		t.Helper()
		if err := st.AddStats(ctx, tenant, user, StatsDelta{Name: name, Claimed: claimed}); err != nil {
			t.Fatalf("AddStats: %v", err)
		}
	}
	add(1, 10, "alice", 3)
	add(1, 10, "alice", 2) // upsert accumulates
	add(1, 20, "bob", 4)
	add(2, 10, "alice", 3)
	add(2, 30, "carol", 1)

	local, err := st.TopCollectors(ctx, 1, 10)
	if err != nil {
		t.Fatalf("TopCollectors: %v", err)
	}
	if len(local) != 2 || local[0].Name != "alice" || local[0].Claimed != 5 || local[1].Claimed != 4 {
		t.Fatalf("TopCollectors = %+v", local)
	}

	global, err := st.GlobalTopCollectors(ctx, 10)
	if err != nil {
		t.Fatalf("GlobalTopCollectors: %v", err)
	}
	if len(global) != 3 {
		t.Fatalf("GlobalTopCollectors = %+v, want 3 entries", global)
	}
	if global[0].ParticipantID != 10 || global[0].Claimed != 8 {
		t.Fatalf("global leader = %+v, want alice with 8", global[0])
	}

	// destroys never count toward the leaderboard
	if err := st.AddStats(ctx, 1, 40, StatsDelta{Name: "dan", Destroyed: 9}); err != nil {
		t.Fatalf("AddStats: %v", err)
	}
	local, err = st.TopCollectors(ctx, 1, 10)
	if err != nil {
		t.Fatalf("TopCollectors: %v", err)
	}
	for _, e := range local {
		if e.ParticipantID == 40 {
			t.Fatal("zero-claim participant should not rank")
		}
	}
}

func TestAuthorisation(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	ok, err := st.IsAuthorized(ctx, 1, 50)
	if err != nil || ok {
		t.Fatalf("IsAuthorized initial = %v, %v", ok, err)
	}
	if err := st.SetAuthorized(ctx, 1, 50, true); err != nil {
		t.Fatalf("SetAuthorized: %v", err)
	}
	// re-grant is idempotent
	if err := st.SetAuthorized(ctx, 1, 50, true); err != nil {
		t.Fatalf("SetAuthorized again: %v", err)
	}
	ok, err = st.IsAuthorized(ctx, 1, 50)
	if err != nil || !ok {
		t.Fatalf("IsAuthorized after grant = %v, %v", ok, err)
	}
	// scoped per tenant
	ok, err = st.IsAuthorized(ctx, 2, 50)
	if err != nil || ok {
		t.Fatalf("IsAuthorized other tenant = %v, %v", ok, err)
	}
	if err := st.SetAuthorized(ctx, 1, 50, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err = st.IsAuthorized(ctx, 1, 50)
	if err != nil || ok {
		t.Fatalf("IsAuthorized after revoke = %v, %v", ok, err)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	got := rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	want := "SELECT a FROM t WHERE x = $1 AND y = $2"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
}

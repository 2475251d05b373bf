package drop

import (
	"context"
	"strings"
	"testing"

	"dropbot/internal/router"
	"dropbot/internal/storage"
	"dropbot/internal/transport"
)

func ownerRequest(f *fixture, chat int64, args ...string) *router.Request {
	return &router.Request{
		Chat:      transport.ChatTarget{ChatID: chat},
		FromID:    900, // fixture owner
		FromName:  "owner",
		Args:      args,
		Messenger: f.msgr,
	}
}

func lastPostText(f *fixture) string {
	if len(f.msgr.posts) == 0 {
		return ""
	}
	return f.msgr.posts[len(f.msgr.posts)-1].Text
}

func TestPolicySeedAndBounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{})
	ctx := context.Background()

	if got := f.svc.policy.Get().ChanceDenominator; got != defaultChanceDenominator {
		t.Fatalf("seeded denominator = %d, want %d", got, defaultChanceDenominator)
	}
	if err := f.svc.policy.Set(ctx, 0); err == nil {
		t.Fatal("expected error for denominator 0")
	}
	if err := f.svc.policy.Set(ctx, 501); err == nil {
		t.Fatal("expected error for denominator 501")
	}
	if err := f.svc.policy.Set(ctx, 200); err != nil {
		t.Fatalf("Set(200): %v", err)
	}
	if got := f.svc.policy.Get().ChanceDenominator; got != 200 {
		t.Fatalf("denominator = %d, want 200", got)
	}
	// the accepted value is durable
	raw, err := f.store.PolicyValue(ctx, policyKeyChance)
	if err != nil || raw != "200" {
		t.Fatalf("stored policy = %q (err %v), want 200", raw, err)
	}
}

func TestCmdDropExpiryBounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{})
	ctx := context.Background()

	if err := f.svc.cmdDropExpiry(ctx, ownerRequest(f, -30, "1441")); err != nil {
		t.Fatalf("cmdDropExpiry: %v", err)
	}
	if !strings.Contains(lastPostText(f), "between 1 and 1440") {
		t.Fatalf("reply = %q, want bounds notice", lastPostText(f))
	}

	if err := f.svc.cmdDropExpiry(ctx, ownerRequest(f, -30, "60")); err != nil {
		t.Fatalf("cmdDropExpiry: %v", err)
	}
	ts, err := f.store.TenantSettings(ctx, -30)
	if err != nil {
		t.Fatalf("TenantSettings: %v", err)
	}
	if ts.ExpiryMinutes != 60 {
		t.Fatalf("ExpiryMinutes = %d, want 60", ts.ExpiryMinutes)
	}
}

func TestTextFieldCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{})
	ctx := context.Background()

	h := f.svc.textFieldHandler(storage.FieldDropText)
	if err := h(ctx, ownerRequest(f, -31, "a", "mystery", "crate!")); err != nil {
		t.Fatalf("set drop text: %v", err)
	}
	ts, _ := f.store.TenantSettings(ctx, -31)
	if ts.DropText != "a mystery crate!" {
		t.Fatalf("DropText = %q", ts.DropText)
	}

	// "clear" resets to the built-in default at read time
	if err := h(ctx, ownerRequest(f, -31, "clear")); err != nil {
		t.Fatalf("clear drop text: %v", err)
	}
	ts, _ = f.store.TenantSettings(ctx, -31)
	if ts.DropText != "" {
		t.Fatalf("DropText = %q, want empty after clear", ts.DropText)
	}
}

func TestGatedRejectsNonAdmin(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{})
	ctx := context.Background()
	f.seedTenant(t, -32, nil)

	req := &router.Request{
		Chat:      transport.ChatTarget{ChatID: -32},
		FromID:    123, // not owner, not admin, not authorised
		Messenger: f.msgr,
	}
	h := f.svc.gated(f.svc.cmdDropConfig)
	if err := h(ctx, req); err != nil {
		t.Fatalf("gated handler: %v", err)
	}
	if !strings.Contains(lastPostText(f), "chat admin") {
		t.Fatalf("reply = %q, want permission notice", lastPostText(f))
	}

	// platform admins pass
	f.perms.admins[123] = true
	if err := h(ctx, req); err != nil {
		t.Fatalf("gated handler as admin: %v", err)
	}
	if !strings.Contains(lastPostText(f), "Drop configuration") {
		t.Fatalf("reply = %q, want config view", lastPostText(f))
	}
}

func TestAuthoriseLifts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{})
	ctx := context.Background()
	f.seedTenant(t, -33, nil)

	ok, err := f.svc.CanConfigure(ctx, -33, 456)
	if err != nil || ok {
		t.Fatalf("CanConfigure before = %v, %v", ok, err)
	}
	if err := f.svc.cmdAuthorise(ctx, ownerRequest(f, -33, "456")); err != nil {
		t.Fatalf("authorise: %v", err)
	}
	ok, err = f.svc.CanConfigure(ctx, -33, 456)
	if err != nil || !ok {
		t.Fatalf("CanConfigure after authorise = %v, %v", ok, err)
	}
	if err := f.svc.cmdUnauthorise(ctx, ownerRequest(f, -33, "456")); err != nil {
		t.Fatalf("unauthorise: %v", err)
	}
	ok, err = f.svc.CanConfigure(ctx, -33, 456)
	if err != nil || ok {
		t.Fatalf("CanConfigure after unauthorise = %v, %v", ok, err)
	}
}

func TestLeaderboardCommandAndToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{})
	ctx := context.Background()
	f.seedTenant(t, -34, nil)
	f.seedTenant(t, -35, nil)

	if err := f.store.AddStats(ctx, -34, 1, storage.StatsDelta{Name: "alice", Claimed: 2}); err != nil {
		t.Fatalf("AddStats: %v", err)
	}
	if err := f.store.AddStats(ctx, -35, 1, storage.StatsDelta{Name: "alice", Claimed: 3}); err != nil {
		t.Fatalf("AddStats: %v", err)
	}

	if err := f.svc.cmdLeaderboard(ctx, ownerRequest(f, -34)); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	post := f.msgr.posts[len(f.msgr.posts)-1]
	if !strings.Contains(post.Text, "this chat") || !strings.Contains(post.Text, "alice - 2") {
		t.Fatalf("leaderboard text = %q", post.Text)
	}
	if len(post.Opt.Buttons) != 1 || post.Opt.Buttons[0][0].Data != "lb:global" {
		t.Fatalf("buttons = %+v, want global toggle", post.Opt.Buttons)
	}

	// flip to global in place
	cb := transport.Callback{ID: "cb-lb", FromID: 1, ChatID: -34, MessageID: 7, Data: "lb:global"}
	if err := f.svc.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if len(f.msgr.edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(f.msgr.edits))
	}
	edit := f.msgr.edits[0]
	if !strings.Contains(edit.Text, "everywhere") || !strings.Contains(edit.Text, "alice - 5") {
		t.Fatalf("global leaderboard text = %q", edit.Text)
	}
	if edit.Opt.Buttons[0][0].Data != "lb:local" {
		t.Fatalf("toggle button = %+v, want local", edit.Opt.Buttons[0][0])
	}
}

func TestLeaderboardDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &seqRand{})
	ctx := context.Background()
	f.seedTenant(t, -36, nil)

	if err := f.svc.cmdLeaderboard(ctx, ownerRequest(f, -36, "off")); err != nil {
		t.Fatalf("leaderboard off: %v", err)
	}
	if err := f.svc.cmdLeaderboard(ctx, ownerRequest(f, -36)); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if !strings.Contains(lastPostText(f), "disabled") {
		t.Fatalf("reply = %q, want disabled notice", lastPostText(f))
	}
}

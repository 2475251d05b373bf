package drop

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dropbot/internal/config"
	"dropbot/internal/eventbus"
	"dropbot/internal/storage"
	"dropbot/internal/transport"
)

// seqRand replays a fixed draw sequence; out-of-range or exhausted draws
// become losing rolls.
type seqRand struct {
	vals []int
	i    int
}

func (r *seqRand) Intn(n int) int {
	if r.i >= len(r.vals) {
		return n - 1
	}
	v := r.vals[r.i]
	r.i++
	if v >= n {
		v = n - 1
	}
	return v
}

type postCall struct {
	To   transport.ChatTarget
	Text string
	Opt  *transport.SendOptions
}

type editCall struct {
	Ref  transport.MessageRef
	Text string
	Opt  *transport.SendOptions
}

type answerCall struct {
	ID   string
	Text string
}

type fakeMessenger struct {
	mu       sync.Mutex
	posts    []postCall
	edits    []editCall
	retracts []transport.MessageRef
	answers  []answerCall

	nextID     int
	failChats  map[int64]bool
	retractErr error
}

func (m *fakeMessenger) Post(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failChats[to.ChatID] {
		return transport.MessageRef{}, errors.New("post refused")
	}
	m.nextID++
	m.posts = append(m.posts, postCall{To: to, Text: text, Opt: opt})
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.nextID}, nil
}

func (m *fakeMessenger) Edit(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, editCall{Ref: ref, Text: text, Opt: opt})
	return nil
}

func (m *fakeMessenger) Retract(_ context.Context, ref transport.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retracts = append(m.retracts, ref)
	return m.retractErr
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, answerCall{ID: id, Text: text})
	return nil
}

func (m *fakeMessenger) lastAnswer() answerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.answers) == 0 {
		return answerCall{}
	}
	return m.answers[len(m.answers)-1]
}

type fakeDests struct {
	targets []transport.ChatTarget
}

func (d *fakeDests) Destinations(context.Context, int64) ([]transport.ChatTarget, error) {
	return d.targets, nil
}

type fakeRoles struct {
	mu      sync.Mutex
	holders map[string][]int64 // role -> holders
	grants  []int64
	revokes []int64
}

func (r *fakeRoles) GrantRole(_ context.Context, _ int64, participantID int64, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holders == nil {
		r.holders = map[string][]int64{}
	}
	r.holders[role] = append(r.holders[role], participantID)
	r.grants = append(r.grants, participantID)
	return nil
}

func (r *fakeRoles) RevokeRole(_ context.Context, _ int64, participantID int64, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.holders[role]
	out := cur[:0]
	for _, h := range cur {
		if h != participantID {
			out = append(out, h)
		}
	}
	r.holders[role] = out
	r.revokes = append(r.revokes, participantID)
	return nil
}

func (r *fakeRoles) RoleHolders(_ context.Context, _ int64, role string) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.holders[role]...), nil
}

type fakePerms struct {
	admins map[int64]bool
}

func (p *fakePerms) IsTenantAdmin(_ context.Context, _ int64, participantID int64) (bool, error) {
	return p.admins[participantID], nil
}

type fixture struct {
	svc   *Service
	store storage.Store
	msgr  *fakeMessenger
	dests *fakeDests
	roles *fakeRoles
	perms *fakePerms
	now   time.Time
}

func newFixture(t *testing.T, rng Rand) *fixture {
	t.Helper()
	st, err := storage.Open(context.Background(), config.StorageConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "drop.db"),
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store: st,
		msgr:  &fakeMessenger{},
		dests: &fakeDests{},
		roles: &fakeRoles{},
		perms: &fakePerms{admins: map[int64]bool{}},
		now:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceConfig{
		Store:        st,
		Messenger:    f.msgr,
		Destinations: f.dests,
		Roles:        f.roles,
		Perms:        f.perms,
		Bus:          eventbus.New(),
		Owners:       []int64{900},
		Rand:         rng,
		Now:          func() time.Time { return f.now },
	})
	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	return f
}

func (f *fixture) seedTenant(t *testing.T, tenantID int64, fields map[storage.Field]any) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.EnsureTenant(ctx, tenantID); err != nil {
		t.Fatalf("EnsureTenant: %v", err)
	}
	for field, val := range fields {
		if err := f.store.UpdateTenantField(ctx, tenantID, field, val); err != nil {
			t.Fatalf("UpdateTenantField(%s): %v", field, err)
		}
	}
}

func (f *fixture) insertDrop(t *testing.T, d storage.ActiveDrop) {
	t.Helper()
	if err := f.store.InsertDrop(context.Background(), d); err != nil {
		t.Fatalf("InsertDrop: %v", err)
	}
}

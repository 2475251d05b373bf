package drop

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"dropbot/internal/eventbus"
	"dropbot/internal/schedule"
	"dropbot/internal/storage"
	"dropbot/internal/transport"
	logx "dropbot/pkg/logx"
)

// ServiceConfig wires the engine to its collaborators. Rand and Now
// default to the real thing and exist for tests.
type ServiceConfig struct {
	Store        storage.Store
	Messenger    transport.Messenger
	Destinations transport.DestinationLister
	Roles        transport.RoleManager
	Perms        transport.PermissionChecker
	Bus          eventbus.Bus
	Log          logx.Logger
	Owners       []int64
	Rand         Rand
	Now          func() time.Time
}

// Service is the game engine: scheduler, resolution gate, sweeper, and
// the command-facing mutation/read surface, sharing one store.
type Service struct {
	store  storage.Store
	perms  transport.PermissionChecker
	bus    eventbus.Bus
	log    logx.Logger
	policy *policyCache
	sched  *scheduler
	gate   *gate
	sweep  *sweeper
	owners map[int64]struct{}
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log.IsZero() {
		cfg.Log = logx.Nop()
	}

	owners := make(map[int64]struct{}, len(cfg.Owners))
	for _, id := range cfg.Owners {
		owners[id] = struct{}{}
	}

	s := &Service{
		store:  cfg.Store,
		perms:  cfg.Perms,
		bus:    cfg.Bus,
		log:    cfg.Log,
		policy: newPolicyCache(cfg.Store),
		owners: owners,
	}
	s.sched = &scheduler{
		store: cfg.Store,
		msgr:  cfg.Messenger,
		dests: cfg.Destinations,
		bus:   cfg.Bus,
		rng:   cfg.Rand,
		log:   cfg.Log.With(logx.String("comp", "scheduler")),
		now:   cfg.Now,
	}
	s.gate = &gate{
		store: cfg.Store,
		msgr:  cfg.Messenger,
		roles: cfg.Roles,
		bus:   cfg.Bus,
		log:   cfg.Log.With(logx.String("comp", "gate")),
		now:   cfg.Now,
	}
	s.sweep = &sweeper{
		store: cfg.Store,
		msgr:  cfg.Messenger,
		bus:   cfg.Bus,
		log:   cfg.Log.With(logx.String("comp", "sweeper")),
		now:   cfg.Now,
	}
	return s
}

// Start loads the stored policy into the in-memory mirror.
func (s *Service) Start(ctx context.Context) error {
	if err := s.policy.Load(ctx); err != nil {
		return fmt.Errorf("drop: load policy: %w", err)
	}
	s.log.Info("engine ready", logx.Int("drop_chance", s.policy.Get().ChanceDenominator))
	return nil
}

// RegisterJobs attaches the two periodic loops to the shared scheduler.
func (s *Service) RegisterJobs(sched *schedule.Service, tick, sweepEvery time.Duration) error {
	if err := sched.AddInterval("drop-tick", tick, func(ctx context.Context) error {
		return s.sched.Tick(ctx, s.policy.Get())
	}); err != nil {
		return err
	}
	return sched.AddInterval("drop-sweep", sweepEvery, func(ctx context.Context) error {
		return s.sweep.Sweep(ctx)
	})
}

// TouchTenant registers a tenant lazily on first observed contact.
func (s *Service) TouchTenant(ctx context.Context, tenantID int64) {
	if err := s.store.EnsureTenant(ctx, tenantID); err != nil {
		s.log.Warn("tenant registration failed", logx.Int64("tenant", tenantID), logx.Err(err))
	}
}

// HandleCallback routes a button press to the owning component by its
// data namespace.
func (s *Service) HandleCallback(ctx context.Context, cb transport.Callback) error {
	switch {
	case cb.Data == CallbackClaim || cb.Data == CallbackDestroy:
		return s.gate.HandleCallback(ctx, cb)
	case strings.HasPrefix(cb.Data, "lb:"):
		return s.handleLeaderboardToggle(ctx, cb)
	default:
		return fmt.Errorf("drop: unrouted callback %q", cb.Data)
	}
}

// IsOwner reports whether the user is a process-level operator.
func (s *Service) IsOwner(userID int64) bool {
	_, ok := s.owners[userID]
	return ok
}

// CanConfigure gates the tenant-level configuration commands: platform
// admins, process owners, and explicitly authorised users all pass.
func (s *Service) CanConfigure(ctx context.Context, tenantID, userID int64) (bool, error) {
	if s.IsOwner(userID) {
		return true, nil
	}
	ok, err := s.store.IsAuthorized(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return s.perms.IsTenantAdmin(ctx, tenantID, userID)
}

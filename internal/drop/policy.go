package drop

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"dropbot/internal/storage"
)

const (
	policyKeyChance = "drop_chance_denominator"

	defaultChanceDenominator = 120
	minChanceDenominator     = 1
	maxChanceDenominator     = 500
)

// Policy is the process-wide tunable set, passed into each scheduler tick
// as a value. The rarity check is intentionally not part of it.
type Policy struct {
	// ChanceDenominator: a tenant drops on a tick with probability 1/N.
	ChanceDenominator int
}

// policyCache mirrors the stored policy in memory. Loaded once at
// startup, refreshed only through Set, so ticks never touch the database
// for the denominator.
type policyCache struct {
	store storage.Store
	cur   atomic.Pointer[Policy]
}

func newPolicyCache(store storage.Store) *policyCache {
	return &policyCache{store: store}
}

// Load reads the stored policy, seeding the default on first boot.
func (p *policyCache) Load(ctx context.Context) error {
	raw, err := p.store.PolicyValue(ctx, policyKeyChance)
	if errors.Is(err, storage.ErrNotFound) {
		if err := p.store.SetPolicyValue(ctx, policyKeyChance, strconv.Itoa(defaultChanceDenominator)); err != nil {
			return err
		}
		p.cur.Store(&Policy{ChanceDenominator: defaultChanceDenominator})
		return nil
	}
	if err != nil {
		return err
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil || n < minChanceDenominator || n > maxChanceDenominator {
		n = defaultChanceDenominator
	}
	p.cur.Store(&Policy{ChanceDenominator: n})
	return nil
}

func (p *policyCache) Get() Policy {
	if v := p.cur.Load(); v != nil {
		return *v
	}
	return Policy{ChanceDenominator: defaultChanceDenominator}
}

// Set validates, persists, and then swaps the cached value. Ordering
// matters: the cache only ever reflects what storage accepted.
func (p *policyCache) Set(ctx context.Context, denominator int) error {
	if denominator < minChanceDenominator || denominator > maxChanceDenominator {
		return fmt.Errorf("drop chance denominator %d out of range [%d, %d]",
			denominator, minChanceDenominator, maxChanceDenominator)
	}
	if err := p.store.SetPolicyValue(ctx, policyKeyChance, strconv.Itoa(denominator)); err != nil {
		return err
	}
	p.cur.Store(&Policy{ChanceDenominator: denominator})
	return nil
}

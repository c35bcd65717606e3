package oracle

import (
	"context"
	"sync"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/errors"
)

type pairKey struct {
	owner string
	group string
}

// StaticOracle serves usage figures held in memory. Unknown pairs report
// zero. Failures can be injected globally or per pair.
type StaticOracle struct {
	mu         sync.RWMutex
	usage      map[pairKey]int64
	budget     map[string]int64
	failAll    error
	failPairs  map[pairKey]error
	failOwners map[string]error
	calls      int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		usage:      make(map[pairKey]int64),
		budget:     make(map[string]int64),
		failPairs:  make(map[pairKey]error),
		failOwners: make(map[string]error),
	}
}

// NewStaticOracleFromConfig seeds a StaticOracle from the static config section.
func NewStaticOracleFromConfig(cfg config.StaticOracleConfig) *StaticOracle {
	o := NewStaticOracle()
	for _, u := range cfg.Usage {
		o.SetUsage(u.User, u.Group, u.Value)
	}
	for owner, v := range cfg.Budget {
		o.SetBudget(owner, v)
	}
	return o
}

func (o *StaticOracle) SetUsage(owner, group string, value int64) {
	o.mu.Lock()
	o.usage[pairKey{owner, group}] = value
	o.mu.Unlock()
}

func (o *StaticOracle) SetBudget(owner string, value int64) {
	o.mu.Lock()
	o.budget[owner] = value
	o.mu.Unlock()
}

// FailAll makes every call return err. nil clears it.
func (o *StaticOracle) FailAll(err error) {
	o.mu.Lock()
	o.failAll = err
	o.mu.Unlock()
}

// FailPair makes usage calls for one pair return err. nil clears it.
func (o *StaticOracle) FailPair(owner, group string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.failPairs, pairKey{owner, group})
		return
	}
	o.failPairs[pairKey{owner, group}] = err
}

// FailBudget makes budget calls for owner return err. nil clears it.
func (o *StaticOracle) FailBudget(owner string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.failOwners, owner)
		return
	}
	o.failOwners[owner] = err
}

// Calls returns how many queries have been answered or failed.
func (o *StaticOracle) Calls() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.calls
}

func (o *StaticOracle) CurrentUsage(ctx context.Context, owner, group string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &errors.ErrOracle{Owner: owner, Group: group, Err: err}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++

	if o.failAll != nil {
		return 0, &errors.ErrOracle{Owner: owner, Group: group, Err: o.failAll}
	}
	if err, ok := o.failPairs[pairKey{owner, group}]; ok {
		return 0, &errors.ErrOracle{Owner: owner, Group: group, Err: err}
	}
	return o.usage[pairKey{owner, group}], nil
}

func (o *StaticOracle) CurrentBudgetConsumption(ctx context.Context, owner string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &errors.ErrOracle{Owner: owner, Err: err}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++

	if o.failAll != nil {
		return 0, &errors.ErrOracle{Owner: owner, Err: o.failAll}
	}
	if err, ok := o.failOwners[owner]; ok {
		return 0, &errors.ErrOracle{Owner: owner, Err: err}
	}
	return o.budget[owner], nil
}

var _ Oracle = (*StaticOracle)(nil)

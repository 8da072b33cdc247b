// Package policy implements the configurable rule engine that decides
// whether a sponsorship request is accepted, per spec §4.3.
package policy

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
	"github.com/t402-io/paymaster-relay/internal/uop"
)

// Policy is one named rule set.
type Policy struct {
	Name string

	AllowedSenders map[common.Address]bool
	DeniedSenders  map[common.Address]bool
	AllowedTargets map[common.Address]bool

	MaxVerificationGas *big.Int
	MaxCallGas         *big.Int
	MaxCostWei         *big.Int // max (callGas+verificationGas+preVerificationGas)*maxFeePerGas

	MaxOperationsPerHour int
	MaxOperationsPerDay  int

	AllowContractDeployment bool
	AllowSelfDestruct       bool
	SelfDestructTargets     map[common.Address]bool
}

// RuleSet is the full loaded configuration: named policies, a default, and
// two globally-applied sections.
type RuleSet struct {
	Default   *Policy
	Named     map[string]*Policy
	Blacklist map[common.Address]bool
	Whitelist map[common.Address]bool
}

// Request is the tuple the engine evaluates against a policy.
type Request struct {
	UO         *uop.UserOperation
	EntryPoint common.Address
	PolicyTag  string
}

// senderCounter tracks rolling hour/day operation counts for one sender.
// Counter updates are atomic with the accept decision and are never rolled
// back, per spec §4.3.
type senderCounter struct {
	mu              sync.Mutex
	hourCount       int
	hourWindowStart time.Time
	dayCount        int
	dayWindowStart  time.Time
}

// Engine evaluates requests against the active RuleSet. The active set is
// held behind an atomic pointer so reloads never expose a half-loaded
// state to an in-flight evaluation (spec §4.3, §9).
type Engine struct {
	active atomic.Pointer[RuleSet]

	countersMu sync.Mutex
	counters   map[common.Address]*senderCounter

	now func() time.Time
}

func New(initial *RuleSet) *Engine {
	e := &Engine{
		counters: make(map[common.Address]*senderCounter),
		now:      time.Now,
	}
	e.active.Store(initial)
	return e
}

// Reload atomically swaps the active rule set. In-flight evaluations that
// already loaded the old pointer continue to observe it to completion.
func (e *Engine) Reload(rs *RuleSet) {
	e.active.Store(rs)
}

// Resolve maps a policy tag to its Policy, falling back to the configured
// default when the tag is empty or unknown.
func (e *Engine) Resolve(tag string) *Policy {
	rs := e.active.Load()
	if tag != "" {
		if p, ok := rs.Named[tag]; ok {
			return p
		}
	}
	return rs.Default
}

func (e *Engine) counterFor(sender common.Address) *senderCounter {
	e.countersMu.Lock()
	defer e.countersMu.Unlock()
	c, ok := e.counters[sender]
	if !ok {
		c = &senderCounter{}
		e.counters[sender] = c
	}
	return c
}

// Evaluate runs the fixed rule order of spec §4.3: deny-list, allow-list,
// gas caps, cost cap, rate caps, creation/self-destruct flags. The first
// rejecting rule wins; all other outcomes accept.
func (e *Engine) Evaluate(req *Request, p *Policy) error {
	rs := e.active.Load()
	sender := req.UO.Sender

	if rs.Blacklist[sender] || p.DeniedSenders[sender] {
		return relayerr.NewPolicyRejected("deny_list")
	}
	if len(p.AllowedSenders) > 0 && !rs.Whitelist[sender] && !p.AllowedSenders[sender] {
		return relayerr.NewPolicyRejected("allow_list")
	}

	if len(p.AllowedTargets) > 0 {
		if target, ok := callTarget(req.UO); ok && !p.AllowedTargets[target] {
			return relayerr.NewPolicyRejected("allowed_targets")
		}
	}

	if p.MaxVerificationGas != nil && req.UO.VerificationGasLimit.Cmp(p.MaxVerificationGas) > 0 {
		return relayerr.NewPolicyRejected("max_verification_gas")
	}
	if p.MaxCallGas != nil && req.UO.CallGasLimit.Cmp(p.MaxCallGas) > 0 {
		return relayerr.NewPolicyRejected("max_call_gas")
	}

	if p.MaxCostWei != nil {
		cost := operationCost(req.UO)
		if cost.Cmp(p.MaxCostWei) > 0 {
			return relayerr.NewPolicyRejected("max_cost_per_operation")
		}
	}

	if err := e.checkRateCaps(sender, p); err != nil {
		return err
	}

	if !p.AllowContractDeployment && req.UO.HasInitCode() {
		return relayerr.NewPolicyRejected("allow_contract_deployment")
	}
	if !p.AllowSelfDestruct {
		if target, ok := callTarget(req.UO); ok && p.SelfDestructTargets[target] {
			return relayerr.NewPolicyRejected("allow_self_destruct")
		}
	}

	return nil
}

// checkRateCaps enforces per-sender hour/day caps and, on accept,
// increments the counters. The increment happens here, unconditionally on
// passing this check, and is never rolled back by a later pipeline stage
// failing — this intentionally bounds exposure under partial failure.
func (e *Engine) checkRateCaps(sender common.Address, p *Policy) error {
	if p.MaxOperationsPerHour <= 0 && p.MaxOperationsPerDay <= 0 {
		return nil
	}
	c := e.counterFor(sender)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := e.now()
	if now.Sub(c.hourWindowStart) >= time.Hour {
		c.hourWindowStart = now
		c.hourCount = 0
	}
	if now.Sub(c.dayWindowStart) >= 24*time.Hour {
		c.dayWindowStart = now
		c.dayCount = 0
	}

	if p.MaxOperationsPerHour > 0 && c.hourCount >= p.MaxOperationsPerHour {
		return relayerr.NewPolicyRejected("max_operations_per_hour")
	}
	if p.MaxOperationsPerDay > 0 && c.dayCount >= p.MaxOperationsPerDay {
		return relayerr.NewPolicyRejected("max_operations_per_day")
	}

	c.hourCount++
	c.dayCount++
	return nil
}

// callTarget extracts the first 20 bytes of callData after the standard
// 4-byte function selector, when callData is long enough to decode one,
// per spec §3.
func callTarget(u *uop.UserOperation) (common.Address, bool) {
	if len(u.CallData) < 4+20 {
		return common.Address{}, false
	}
	return common.BytesToAddress(u.CallData[4 : 4+20]), true
}

// operationCost computes (callGasLimit+verificationGasLimit+preVerificationGas)*maxFeePerGas.
func operationCost(u *uop.UserOperation) *big.Int {
	total := new(big.Int).Add(u.CallGasLimit, u.VerificationGasLimit)
	total.Add(total, u.PreVerificationGas)
	return total.Mul(total, u.MaxFeePerGas)
}

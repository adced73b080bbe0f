package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxConcurrent bounds leases per collaborator when unset.
const DefaultMaxConcurrent = 16

// PoolConfig configures a Pool.
type PoolConfig struct {
	// MaxConcurrent is the number of leases that may be held at once.
	MaxConcurrent int
	// Rate limits new leases per second. Zero means unlimited.
	Rate float64
	// Burst is the token bucket size (default: MaxConcurrent).
	Burst int
}

// Pool bounds concurrent use of one external collaborator across calls.
// A nil *Pool grants every lease immediately.
type Pool struct {
	name    string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	inUse   atomic.Int64
}

// NewPool creates a lease pool.
func NewPool(name string, cfg PoolConfig) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	p := &Pool{
		name: name,
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.MaxConcurrent
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return p
}

// Name returns the collaborator name.
func (p *Pool) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Acquire waits for a free lease and, when rate limited, a token.
// Every successful Acquire must be paired with Release.
func (p *Pool) Acquire(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s lease: %w", p.name, err)
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.sem.Release(1)
			return fmt.Errorf("%s rate limit: %w", p.name, err)
		}
	}
	p.inUse.Add(1)
	return nil
}

// Release returns a lease.
func (p *Pool) Release() {
	if p == nil {
		return
	}
	p.inUse.Add(-1)
	p.sem.Release(1)
}

// InUse returns the number of leases currently held.
func (p *Pool) InUse() int {
	if p == nil {
		return 0
	}
	return int(p.inUse.Load())
}

// Pools groups the leases shared by every call.
type Pools struct {
	Recognition *Pool
	Reasoning   *Pool
	Synthesis   *Pool
}

// NewPools creates one pool per collaborator with the same limits.
func NewPools(cfg PoolConfig) Pools {
	return Pools{
		Recognition: NewPool("recognition", cfg),
		Reasoning:   NewPool("reasoning", cfg),
		Synthesis:   NewPool("synthesis", cfg),
	}
}

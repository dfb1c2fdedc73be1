package point

import (
	"fmt"
	"sync"
)

// =============================================================================
// POLICY - Tunable limits, read fresh on every operation
// =============================================================================

// Policy keys as stored in the policy_settings table and sent by admins.
const (
	KeyMaxExpireDays = "MAX_EXPIRE_DAYS"
	KeyDefExpireDays = "DEF_EXPIRE_DAYS"
	KeyMaxEarnAmount = "MAXIMUM_POINT"
	KeyDefWalletMax  = "DEF_WALLET_MAXIMUM_POINT"
)

// Defaults used until an admin overrides them.
const (
	DefaultMaxExpireDays = 365 * 5
	DefaultExpireDays    = 365
	DefaultMaxEarnAmount = 100_000
	DefaultWalletMax     = 1_000_000
)

// Policy supplies the limits the engine enforces.
type Policy interface {
	MaxExpiryDays() int
	DefaultExpiryDays() int
	MaxEarnAmount() int64
	DefaultWalletMax() int64
}

// MemoryPolicy is a concurrency-safe Policy whose values can change at
// runtime. Changes apply to the next operation that reads them.
type MemoryPolicy struct {
	mu     sync.RWMutex
	values map[string]int64
}

// NewMemoryPolicy returns a policy holding the defaults.
func NewMemoryPolicy() *MemoryPolicy {
	return &MemoryPolicy{values: map[string]int64{
		KeyMaxExpireDays: DefaultMaxExpireDays,
		KeyDefExpireDays: DefaultExpireDays,
		KeyMaxEarnAmount: DefaultMaxEarnAmount,
		KeyDefWalletMax:  DefaultWalletMax,
	}}
}

func (p *MemoryPolicy) MaxExpiryDays() int      { return int(p.get(KeyMaxExpireDays)) }
func (p *MemoryPolicy) DefaultExpiryDays() int  { return int(p.get(KeyDefExpireDays)) }
func (p *MemoryPolicy) MaxEarnAmount() int64    { return p.get(KeyMaxEarnAmount) }
func (p *MemoryPolicy) DefaultWalletMax() int64 { return p.get(KeyDefWalletMax) }

func (p *MemoryPolicy) get(key string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[key]
}

// Update changes one value. The key must be known and the value positive.
// The default expiry may never exceed the maximum, otherwise every earn
// without an explicit date would be rejected.
func (p *MemoryPolicy) Update(key string, value int64) error {
	return p.Load(map[string]int64{key: value})
}

// Load applies a set of values atomically: either all are accepted or
// none.
func (p *MemoryPolicy) Load(values map[string]int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.copyLocked()
	for key, value := range values {
		if _, ok := next[key]; !ok {
			return errorf(ErrValidation, "unknown policy key %q", key)
		}
		if value < 1 {
			return errorf(ErrValidation, "policy %s must be positive, got %d", key, value)
		}
		next[key] = value
	}
	if next[KeyDefExpireDays] > next[KeyMaxExpireDays] {
		return errorf(ErrValidation, "%s (%d) exceeds %s (%d)",
			KeyDefExpireDays, next[KeyDefExpireDays], KeyMaxExpireDays, next[KeyMaxExpireDays])
	}
	p.values = next
	return nil
}

// Snapshot returns a copy of the current values.
func (p *MemoryPolicy) Snapshot() map[string]int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.copyLocked()
}

func (p *MemoryPolicy) copyLocked() map[string]int64 {
	out := make(map[string]int64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func (p *MemoryPolicy) String() string {
	s := p.Snapshot()
	return fmt.Sprintf("%s=%d %s=%d %s=%d %s=%d",
		KeyMaxExpireDays, s[KeyMaxExpireDays], KeyDefExpireDays, s[KeyDefExpireDays],
		KeyMaxEarnAmount, s[KeyMaxEarnAmount], KeyDefWalletMax, s[KeyDefWalletMax])
}

// Package credentials tracks the upstream API keys the gateway may use: the
// active rotation pool with its usage counters and the durable record of keys
// the upstream has rejected as permanently invalid.
package credentials

import (
	"errors"
	"sync"
)

var ErrNoCredentials = errors.New("no valid credentials available")

// Pool is the ordered set of usable credentials plus a usage counter per
// credential. Counters only grow. A single mutex guards the slice and the map
// so selection and removal are atomic with respect to concurrent requests.
type Pool struct {
	mu     sync.Mutex
	keys   []string
	usage  map[string]uint64
	onSize func(int)
}

// NewPool builds a pool from keys, dropping duplicates and anything excluded
// reports true for. Order is preserved.
func NewPool(keys []string, excluded func(string) bool) *Pool {
	p := &Pool{usage: make(map[string]uint64, len(keys))}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := p.usage[k]; dup {
			continue
		}
		if excluded != nil && excluded(k) {
			continue
		}
		p.keys = append(p.keys, k)
		p.usage[k] = 0
	}
	return p
}

// OnSizeChange registers fn to be called with the new pool size after every
// removal, and once immediately.
func (p *Pool) OnSizeChange(fn func(int)) {
	p.mu.Lock()
	p.onSize = fn
	n := len(p.keys)
	p.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// Size returns the number of active credentials.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Has reports whether key is in the active pool.
func (p *Pool) Has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.usage[key]
	return ok
}

// Next returns the least-used credential, ties broken by pool order, and
// increments its usage count.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextLocked()
}

// NextUnused behaves like Next but keeps selecting while the pick is already
// in tried, so one request spreads its attempts across distinct credentials.
// Once tried covers the whole pool it is cleared and any credential may be
// reused. Every pick, including skipped ones, counts as a use.
func (p *Pool) NextUnused(tried map[string]struct{}) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", ErrNoCredentials
	}
	covered := 0
	for k := range tried {
		if _, ok := p.usage[k]; ok {
			covered++
		}
	}
	if covered >= len(p.keys) {
		clear(tried)
	}

	for {
		key, err := p.nextLocked()
		if err != nil {
			return "", err
		}
		if _, seen := tried[key]; !seen {
			return key, nil
		}
	}
}

func (p *Pool) nextLocked() (string, error) {
	if len(p.keys) == 0 {
		return "", ErrNoCredentials
	}
	best := p.keys[0]
	for _, k := range p.keys[1:] {
		if p.usage[k] < p.usage[best] {
			best = k
		}
	}
	p.usage[best]++
	return best, nil
}

// Remove drops key and its usage counter. It reports whether key was present.
func (p *Pool) Remove(key string) bool {
	p.mu.Lock()
	if _, ok := p.usage[key]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.usage, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	n, fn := len(p.keys), p.onSize
	p.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return true
}

// Usage is a point-in-time view of one credential.
type Usage struct {
	Key   string
	Count uint64
}

// Snapshot returns the pool in order with usage counts.
func (p *Pool) Snapshot() []Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Usage, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, Usage{Key: k, Count: p.usage[k]})
	}
	return out
}

// Mask hides all but the first and last four characters of a credential.
func Mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

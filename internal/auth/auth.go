// Package auth holds the caller-authentication capability. The engines only
// ever see the interface; the platform decides what a principal is and how it
// proves itself.
package auth

import "sync"

// Authenticator answers whether a principal's credentials check out for this
// call. A false return aborts the operation with Unauthorized before any
// state is touched.
type Authenticator interface {
	Authenticate(principal string) bool
}

// AllowAll accepts every non-empty principal. Default for local runs and
// tests; production deployments plug in the platform verifier.
type AllowAll struct{}

func (AllowAll) Authenticate(principal string) bool { return principal != "" }

// Allowlist authenticates only principals that were explicitly added.
type Allowlist struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

// NewAllowlist builds an allowlist seeded with the given principals.
func NewAllowlist(principals ...string) *Allowlist {
	a := &Allowlist{allowed: make(map[string]struct{}, len(principals))}
	for _, p := range principals {
		a.allowed[p] = struct{}{}
	}
	return a
}

func (a *Allowlist) Authenticate(principal string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.allowed[principal]
	return ok
}

// Add grants a principal.
func (a *Allowlist) Add(principal string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[principal] = struct{}{}
}

// Remove revokes a principal.
func (a *Allowlist) Remove(principal string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allowed, principal)
}

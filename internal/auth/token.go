package auth

import (
	"errors"
	"strings"
	"sync"
)

// ErrMissingCredential is returned when neither an explicit nor a cached token exists
var ErrMissingCredential = errors.New("missing credential")

const bearerPrefix = "Bearer "

// Credential is a bare bearer token
type Credential string

// Header returns the canonical Authorization header value
func (c Credential) Header() string {
	return AuthorizationHeader(string(c))
}

// Preview returns a shortened token safe for logs
func (c Credential) Preview() string {
	s := string(c)
	if len(s) > 12 {
		return s[:12] + "..."
	}
	return s
}

// AuthorizationHeader normalizes a bare or already-prefixed token into "Bearer <token>".
// Applying it to its own output returns the same string.
func AuthorizationHeader(token string) string {
	return bearerPrefix + StripBearer(token)
}

// StripBearer trims whitespace and one leading case-insensitive "Bearer " prefix
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= len(bearerPrefix) && strings.EqualFold(token[:len(bearerPrefix)], bearerPrefix) {
		token = strings.TrimSpace(token[len(bearerPrefix):])
	}
	return token
}

// Resolver supplies the session credential. It never touches the network.
type Resolver struct {
	mu     sync.Mutex
	cached Credential
	stale  bool
}

// NewResolver creates a resolver with an optional initial token
func NewResolver(initial string) *Resolver {
	return &Resolver{cached: Credential(StripBearer(initial))}
}

// Resolve returns the explicit token when present, caching it, else the cached token.
func (r *Resolver) Resolve(explicit string) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bare := StripBearer(explicit); bare != "" {
		if Credential(bare) != r.cached {
			r.stale = false
		}
		r.cached = Credential(bare)
		return r.cached, nil
	}
	if r.cached != "" {
		return r.cached, nil
	}
	return "", ErrMissingCredential
}

// MarkStale flags the cached credential after the server rejected it. The token is kept.
func (r *Resolver) MarkStale() {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
}

// Stale reports whether the cached credential was rejected and not replaced since
func (r *Resolver) Stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}

// Cached returns the currently cached credential, possibly empty
func (r *Resolver) Cached() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cached
}

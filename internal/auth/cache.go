package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultExpirySkew is how long before expiry a cached token is refreshed.
const DefaultExpirySkew = time.Minute

// handshakeTimeout bounds a handshake shared by several callers.
const handshakeTimeout = 30 * time.Second

// Provider issues sessions for a scope.
type Provider interface {
	Authorize(ctx context.Context, scope Scope) (*Session, error)
}

// Cache reuses sessions per scope until they are close to expiry.
// Concurrent misses for the same scope share a single handshake.
type Cache struct {
	next Provider
	skew time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[Scope]*Session
	group    singleflight.Group
}

// NewCache wraps next with a per-scope session cache.
func NewCache(next Provider, skew time.Duration) *Cache {
	if skew <= 0 {
		skew = DefaultExpirySkew
	}
	return &Cache{
		next:     next,
		skew:     skew,
		now:      time.Now,
		sessions: make(map[Scope]*Session),
	}
}

// Authorize returns a cached session for scope or obtains a new one.
// The shared handshake does not inherit the caller's cancellation, so one
// client going away cannot fail the others waiting on it; each caller still
// returns as soon as its own ctx is done.
func (c *Cache) Authorize(ctx context.Context, scope Scope) (*Session, error) {
	if s := c.lookup(scope); s != nil {
		return s, nil
	}

	ch := c.group.DoChan(string(scope), func() (interface{}, error) {
		if s := c.lookup(scope); s != nil {
			return s, nil
		}
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handshakeTimeout)
		defer cancel()

		s, err := c.next.Authorize(hctx, scope)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.sessions[scope] = s
		c.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrAuthFailure, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

// Reset drops every cached session.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.sessions)
}

func (c *Cache) lookup(scope Scope) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[scope]
	if !ok {
		return nil
	}
	// A zero expiry means the issuer did not say; never reuse such tokens.
	if s.Token == nil || s.Token.Expiry.IsZero() || !c.now().Add(c.skew).Before(s.Token.Expiry) {
		delete(c.sessions, scope)
		return nil
	}
	return s
}

// Package ratelimit gates inbound requests with per-client token buckets.
//
// The in-memory implementation serves a single instance; multi-instance
// deployments can plug an external-store implementation behind the same
// interface.
package ratelimit

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint classes. Authentication endpoints get a stricter bucket.
const (
	ClassDefault = "default"
	ClassAuth    = "auth"
)

const authPathPrefix = "/v1/auth/"

// ClassForPath maps a request path to its endpoint class.
func ClassForPath(path string) string {
	if strings.HasPrefix(path, authPathPrefix) {
		return ClassAuth
	}
	return ClassDefault
}

// Limiter answers whether a request from a client may proceed. Each call
// consumes exactly one token on success.
type Limiter interface {
	Allow(class, clientID string) bool
}

// Limits holds bucket capacities and the refill window.
type Limits struct {
	DefaultCapacity int
	AuthCapacity    int
	Window          time.Duration
}

// DefaultLimits mirrors the production defaults: 100 requests per minute,
// 10 per minute for authentication endpoints.
func DefaultLimits() Limits {
	return Limits{
		DefaultCapacity: 100,
		AuthCapacity:    10,
		Window:          60 * time.Second,
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64
}

// Memory is the process-wide in-memory Limiter. Buckets are created lazily
// per (class, client) key; creation races resolve through LoadOrStore so a
// client never ends up with two buckets.
type Memory struct {
	limits  Limits
	buckets sync.Map
	now     func() time.Time

	idleTTL time.Duration
	done    chan struct{}
	closed  sync.Once
}

// Option configures Memory.
type Option func(*Memory)

// WithNow overrides the time source (useful for tests).
func WithNow(fn func() time.Time) Option {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithIdleTTL overrides how long an unused bucket survives before the
// janitor drops it.
func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Memory) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
	}
}

// NewMemory creates the limiter and starts the idle-bucket janitor.
func NewMemory(limits Limits, opts ...Option) *Memory {
	if limits.Window <= 0 {
		limits.Window = 60 * time.Second
	}
	m := &Memory{
		limits:  limits,
		now:     time.Now,
		idleTTL: 5 * time.Minute,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.janitor()
	return m
}

// Close stops the janitor goroutine.
func (m *Memory) Close() {
	m.closed.Do(func() { close(m.done) })
}

// Allow consumes one token from the client's bucket for the endpoint class.
func (m *Memory) Allow(class, clientID string) bool {
	key := class + "|" + clientID
	v, ok := m.buckets.Load(key)
	if !ok {
		v, _ = m.buckets.LoadOrStore(key, m.newBucket(class))
	}
	b := v.(*bucket)
	now := m.now()
	b.lastSeen.Store(now.UnixNano())
	return b.lim.AllowN(now, 1)
}

func (m *Memory) newBucket(class string) *bucket {
	capacity := m.limits.DefaultCapacity
	if class == ClassAuth {
		capacity = m.limits.AuthCapacity
	}
	refill := rate.Limit(float64(capacity) / m.limits.Window.Seconds())
	return &bucket{lim: rate.NewLimiter(refill, capacity)}
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := m.now().Add(-m.idleTTL).UnixNano()
			m.buckets.Range(func(key, v any) bool {
				if v.(*bucket).lastSeen.Load() < cutoff {
					m.buckets.Delete(key)
				}
				return true
			})
		}
	}
}

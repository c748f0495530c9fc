package rate

import (
	"context"
	"time"
)

// Scope selects which window family a key belongs to.
type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopeIP
	ScopeRoute
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeIP:
		return "ip"
	case ScopeRoute:
		return "route"
	default:
		return "unknown"
	}
}

// Policy is a threshold over a trailing window. A zero Limit disables the scope.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// Config holds the independent scope policies. Routes are looked up by name;
// a route without an entry is only subject to the global and per-IP scopes.
type Config struct {
	Global Policy
	IP     Policy
	Routes map[string]Policy
}

// Store persists sliding windows.
type Store interface {
	// Count drops entries older than now-window and returns how many remain,
	// together with the oldest remaining timestamp (zero when empty).
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, time.Time, error)
	// Add appends now to the window for key.
	Add(ctx context.Context, key string, now time.Time, window time.Duration) error
	// Reserve prunes, counts and, when fewer than limit entries remain,
	// appends now as one atomic step per key. A full window returns ok=false
	// with the oldest remaining timestamp and records nothing.
	Reserve(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (r Reservation, ok bool, oldest time.Time, err error)
	// Release removes an entry added by Reserve.
	Release(ctx context.Context, r Reservation) error
}

// Reservation is one attempt appended by [Store.Reserve].
type Reservation struct {
	Key    string
	At     time.Time
	Member string
}

// Limiter checks and records attempts across the three scopes.
type Limiter struct {
	store  Store
	config Config
}

// New creates a [Limiter] over store.
func New(store Store, cfg Config) *Limiter {
	routes := make(map[string]Policy, len(cfg.Routes))
	for name, p := range cfg.Routes {
		routes[name] = p
	}
	cfg.Routes = routes
	return &Limiter{store: store, config: cfg}
}

type scopedKey struct {
	scope  Scope
	key    string
	policy Policy
}

func (l *Limiter) keys(route, addr string) []scopedKey {
	out := make([]scopedKey, 0, 3)
	if l.config.Global.enabled() {
		out = append(out, scopedKey{scope: ScopeGlobal, key: GlobalKey(), policy: l.config.Global})
	}
	// Without a client address there is nothing to key the narrower scopes on.
	if addr == "" {
		return out
	}
	if l.config.IP.enabled() {
		out = append(out, scopedKey{scope: ScopeIP, key: IPKey(addr), policy: l.config.IP})
	}
	if p, ok := l.config.Routes[route]; ok && p.enabled() {
		out = append(out, scopedKey{scope: ScopeRoute, key: RouteKey(route, addr), policy: p})
	}
	return out
}

// Allow checks global, then IP, then route. Each scope is reserved
// atomically; the first full window releases the reservations already taken
// and returns a *LimitError, so a rejected attempt is never counted. When every
// scope has room the attempt stays recorded in all of them.
func (l *Limiter) Allow(ctx context.Context, route, addr string, now time.Time) error {
	if l == nil || l.store == nil {
		return nil
	}
	keys := l.keys(route, addr)
	held := make([]Reservation, 0, len(keys))
	for _, k := range keys {
		r, ok, oldest, err := l.store.Reserve(ctx, k.key, now, k.policy.Window, k.policy.Limit)
		if err != nil {
			l.release(ctx, held)
			return err
		}
		if !ok {
			l.release(ctx, held)
			return &LimitError{Scope: k.scope, RetryAfter: retryAfter(oldest, k.policy.Window, now)}
		}
		held = append(held, r)
	}
	return nil
}

// release is best effort: a leftover entry only makes a window stricter
// until it ages out.
func (l *Limiter) release(ctx context.Context, held []Reservation) {
	for _, r := range held {
		_ = l.store.Release(ctx, r)
	}
}

// Limited reports whether a single scope is currently full.
func (l *Limiter) Limited(ctx context.Context, scope Scope, route, addr string, now time.Time) (bool, error) {
	if l == nil || l.store == nil {
		return false, nil
	}
	for _, k := range l.keys(route, addr) {
		if k.scope != scope {
			continue
		}
		limited, _, err := l.check(ctx, k, now)
		return limited, err
	}
	return false, nil
}

// Record appends one attempt to a single scope without checking it.
func (l *Limiter) Record(ctx context.Context, scope Scope, route, addr string, now time.Time) error {
	if l == nil || l.store == nil {
		return nil
	}
	for _, k := range l.keys(route, addr) {
		if k.scope == scope {
			return l.store.Add(ctx, k.key, now, k.policy.Window)
		}
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, k scopedKey, now time.Time) (bool, time.Duration, error) {
	count, oldest, err := l.store.Count(ctx, k.key, now, k.policy.Window)
	if err != nil {
		return false, 0, err
	}
	if count < k.policy.Limit {
		return false, 0, nil
	}
	return true, retryAfter(oldest, k.policy.Window, now), nil
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	if oldest.IsZero() {
		return 0
	}
	if d := oldest.Add(window).Sub(now); d > 0 {
		return d
	}
	return 0
}

// GlobalKey is the singleton key for global traffic.
func GlobalKey() string { return "g" }

// IPKey is the per-address key.
func IPKey(addr string) string { return "ip:" + addr }

// RouteKey is the per-route, per-address key.
func RouteKey(route, addr string) string { return "rt:" + route + ":" + addr }

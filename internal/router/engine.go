package router

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/providers"
)

// Engine keeps the routes for each public alias and a circuit breaker per route.
type Engine struct {
	mu     sync.RWMutex
	routes map[string][]providers.Route
	state  map[string]*routeState

	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time
}

type routeState struct {
	consecutiveFailures int
	openUntil           time.Time
}

const (
	defaultFailureThreshold = 3
	defaultOpenDuration     = time.Minute
)

// NewEngine builds an engine whose breaker trips after cfg.FailureThreshold
// consecutive failures and stays open for cfg.Cooldown.
func NewEngine(cfg config.HealthConfig) *Engine {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	open := cfg.Cooldown
	if open <= 0 {
		open = defaultOpenDuration
	}
	return &Engine{
		routes:           make(map[string][]providers.Route),
		state:            make(map[string]*routeState),
		failureThreshold: threshold,
		openDuration:     open,
		now:              time.Now,
	}
}

func (e *Engine) Reload(ctx context.Context, factory *providers.Factory) error {
	routes, err := factory.Build(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	newState := make(map[string]*routeState, len(routes))
	for alias, rts := range routes {
		for _, route := range rts {
			key := routeKey(alias, route)
			if old, ok := e.state[key]; ok {
				newState[key] = old
			} else {
				newState[key] = &routeState{}
			}
		}
	}

	e.routes = routes
	e.state = newState
	return nil
}

// SelectRoutes returns the alias routes whose breaker is closed, with a
// weighted pick moved to the front.
func (e *Engine) SelectRoutes(alias string) []providers.Route {
	e.mu.RLock()
	defer e.mu.RUnlock()

	healthy := make([]providers.Route, 0)
	now := e.now()
	for _, route := range e.routes[alias] {
		st := e.state[routeKey(alias, route)]
		if st == nil || st.openUntil.Before(now) {
			healthy = append(healthy, route)
		}
	}

	if len(healthy) <= 1 {
		return healthy
	}

	idx := weightedSelect(healthy)
	if idx != 0 {
		healthy[0], healthy[idx] = healthy[idx], healthy[0]
	}
	return healthy
}

// DefaultAlias returns the first alias, in name order, that serves capability.
func (e *Engine) DefaultAlias(capability string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	aliases := make([]string, 0, len(e.routes))
	for alias, rts := range e.routes {
		for _, route := range rts {
			if route.Capability == capability {
				aliases = append(aliases, alias)
				break
			}
		}
	}
	if len(aliases) == 0 {
		return "", false
	}
	sort.Strings(aliases)
	return aliases[0], true
}

func (e *Engine) ReportSuccess(alias string, route providers.Route) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(alias, route)
	st.consecutiveFailures = 0
	st.openUntil = time.Time{}
}

func (e *Engine) ReportFailure(alias string, route providers.Route) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(alias, route)
	st.consecutiveFailures++
	if st.consecutiveFailures >= e.failureThreshold {
		st.openUntil = e.now().Add(e.openDuration)
	}
}

func (e *Engine) stateFor(alias string, route providers.Route) *routeState {
	key := routeKey(alias, route)
	st := e.state[key]
	if st == nil {
		st = &routeState{}
		e.state[key] = st
	}
	return st
}

// weightedSelect draws an index in proportion to route weight. Unweighted
// routes count as 1.
func weightedSelect(routes []providers.Route) int {
	total := 0
	for _, r := range routes {
		total += routeWeight(r)
	}
	draw := rand.IntN(total)
	for idx, r := range routes {
		draw -= routeWeight(r)
		if draw < 0 {
			return idx
		}
	}
	return 0
}

func routeWeight(r providers.Route) int {
	if r.Weight <= 0 {
		return 1
	}
	return r.Weight
}

// BreakerState is a point-in-time view of one route's breaker.
type BreakerState struct {
	Alias               string    `json:"alias"`
	Model               string    `json:"model"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Open                bool      `json:"open"`
	OpenUntil           time.Time `json:"open_until,omitzero"`
}

// Breakers lists breaker state for every route, ordered by alias then model.
func (e *Engine) Breakers() []BreakerState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	out := make([]BreakerState, 0, len(e.state))
	for alias, rts := range e.routes {
		for _, route := range rts {
			st := e.state[routeKey(alias, route)]
			view := BreakerState{Alias: alias, Model: route.ResolveDeployment()}
			if st != nil {
				view.ConsecutiveFailures = st.consecutiveFailures
				view.Open = st.openUntil.After(now)
				if view.Open {
					view.OpenUntil = st.openUntil
				}
			}
			out = append(out, view)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Alias != out[j].Alias {
			return out[i].Alias < out[j].Alias
		}
		return out[i].Model < out[j].Model
	})
	return out
}

func routeKey(alias string, route providers.Route) string {
	return alias + "::" + route.ResolveDeployment()
}

// ListAliases returns the set of configured aliases and their routes.
func (e *Engine) ListAliases() map[string][]providers.Route {
	e.mu.RLock()
	defer e.mu.RUnlock()

	copyMap := make(map[string][]providers.Route, len(e.routes))
	for alias, routes := range e.routes {
		out := make([]providers.Route, len(routes))
		copy(out, routes)
		copyMap[alias] = out
	}
	return copyMap
}

package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/providers"
	"github.com/ncecere/sophnet_gateway/internal/router"
)

// Reporter is the part of the router engine the monitor feeds.
type Reporter interface {
	ReportSuccess(alias string, route providers.Route)
	ReportFailure(alias string, route providers.Route)
}

var _ Reporter = (*router.Engine)(nil)

// Monitor periodically pings provider routes and updates the router engine health state.
type Monitor struct {
	engine    Reporter
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	observe   func(alias string, healthy bool)
	getRoutes func() map[string][]providers.Route
	startOnce sync.Once

	mu   sync.RWMutex
	last map[string]Result
	now  func() time.Time
}

// Result is the outcome of the latest probe of one route.
type Result struct {
	Alias     string    `json:"alias"`
	Model     string    `json:"model"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// NewMonitor constructs a monitor using the health configuration.
func NewMonitor(engine Reporter, cfg config.HealthConfig, logger *slog.Logger) *Monitor {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := 5 * time.Second
	if timeout > interval {
		timeout = interval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		engine:   engine,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		last:     make(map[string]Result),
		now:      time.Now,
	}
}

// OnResult registers a callback invoked after every probe.
func (m *Monitor) OnResult(fn func(alias string, healthy bool)) {
	m.observe = fn
}

// Start begins the monitoring loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context, getRoutes func() map[string][]providers.Route) {
	if getRoutes == nil || m.engine == nil {
		return
	}
	m.getRoutes = getRoutes

	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckRoutes(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckRoutes(ctx)
		}
	}
}

// CheckRoutes probes every route once and waits for the results.
func (m *Monitor) CheckRoutes(ctx context.Context) {
	if m.getRoutes == nil {
		return
	}
	routes := m.getRoutes()
	if len(routes) == 0 {
		return
	}

	var wg sync.WaitGroup
	for alias, rs := range routes {
		for _, route := range rs {
			if route.Health == nil {
				continue
			}

			wg.Add(1)
			go func(alias string, route providers.Route) {
				defer wg.Done()
				timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
				defer cancel()

				err := route.Health(timeoutCtx)
				m.record(alias, route, err)
				if m.observe != nil {
					m.observe(alias, err == nil)
				}
				if err != nil {
					m.logger.Warn("route health check failed", "alias", alias, "model", route.Model, "error", err)
					m.engine.ReportFailure(alias, route)
					return
				}
				m.engine.ReportSuccess(alias, route)
			}(alias, route)
		}
	}
	wg.Wait()
}

func (m *Monitor) record(alias string, route providers.Route, err error) {
	res := Result{Alias: alias, Model: route.Model, Healthy: err == nil, CheckedAt: m.now().UTC()}
	if err != nil {
		res.Error = err.Error()
	}
	m.mu.Lock()
	m.last[alias+"::"+route.Model] = res
	m.mu.Unlock()
}

// Snapshot returns the latest probe results ordered by alias and model.
func (m *Monitor) Snapshot() []Result {
	m.mu.RLock()
	out := make([]Result, 0, len(m.last))
	for _, res := range m.last {
		out = append(out, res)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Alias != out[j].Alias {
			return out[i].Alias < out[j].Alias
		}
		return out[i].Model < out[j].Model
	})
	return out
}

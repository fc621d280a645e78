package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/providers"
)

type recordingReporter struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (r *recordingReporter) ReportSuccess(alias string, _ providers.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, alias)
}

func (r *recordingReporter) ReportFailure(alias string, _ providers.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, alias)
}

func TestCheckRoutesReportsEachProbe(t *testing.T) {
	reporter := &recordingReporter{}
	monitor := NewMonitor(reporter, config.HealthConfig{}, nil)

	var observed sync.Map
	monitor.OnResult(func(alias string, healthy bool) { observed.Store(alias, healthy) })
	monitor.getRoutes = func() map[string][]providers.Route {
		return map[string][]providers.Route{
			"up":   {{Alias: "up", Health: func(context.Context) error { return nil }}},
			"down": {{Alias: "down", Health: func(context.Context) error { return errors.New("502") }}},
			"skip": {{Alias: "skip"}},
		}
	}

	monitor.CheckRoutes(context.Background())

	if len(reporter.successes) != 1 || reporter.successes[0] != "up" {
		t.Fatalf("unexpected successes %v", reporter.successes)
	}
	if len(reporter.failures) != 1 || reporter.failures[0] != "down" {
		t.Fatalf("unexpected failures %v", reporter.failures)
	}
	if v, _ := observed.Load("down"); v != false {
		t.Fatalf("expected down observed unhealthy")
	}
	if _, ok := observed.Load("skip"); ok {
		t.Fatalf("routes without a probe should be skipped")
	}
}

func TestSnapshotKeepsLatestResult(t *testing.T) {
	monitor := NewMonitor(&recordingReporter{}, config.HealthConfig{}, nil)
	healthy := true
	monitor.getRoutes = func() map[string][]providers.Route {
		return map[string][]providers.Route{
			"tts": {{Alias: "tts", Model: "easyllm-1", Health: func(context.Context) error {
				if healthy {
					return nil
				}
				return errors.New("status 503")
			}}},
		}
	}

	monitor.CheckRoutes(context.Background())
	healthy = false
	monitor.CheckRoutes(context.Background())

	snap := monitor.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one result, got %d", len(snap))
	}
	if snap[0].Healthy || snap[0].Error != "status 503" || snap[0].Model != "easyllm-1" {
		t.Fatalf("unexpected snapshot %+v", snap[0])
	}
}

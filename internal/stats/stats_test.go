package stats

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestNewStatsUpdaterSharesRegistry(t *testing.T) {
	// expvar names are process-global: constructing a second updater (or
	// re-registering a metric) must reuse the registry, not panic.
	first := NewStatsUpdater(http.NewServeMux())
	var second *StatsUpdater
	assert.NotPanics(t, func() { second = NewStatsUpdater(http.NewServeMux()) })
	assert.Same(t, first.vars, second.vars, "expected one shared expvar map per process")
	assert.NotPanics(t, func() {
		second.RegisterMetric(MetricEventsApplied)
		second.RegisterMetric(MetricEventsApplied)
	})
}

func TestIncrDecr(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(MetricEventsApplied)
	su.Run()
	defer su.Stop()

	su.Incr(MetricEventsApplied)
	su.Incr(MetricEventsApplied)
	su.Decr(MetricEventsApplied)

	assert.Eventually(t, func() bool {
		return su.vars.Get(MetricEventsApplied).String() == "1"
	}, time.Second, 5*time.Millisecond, "expected metric to settle at 1")
}

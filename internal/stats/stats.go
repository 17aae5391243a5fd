package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

// Engine metric names.
const (
	MetricEventsApplied   = "EventsApplied"
	MetricEventsBuffered  = "EventsBuffered"
	MetricEventsRejected  = "EventsRejected"
	MetricMessagesSynced  = "MessagesSynced"
	MetricSubscriptions   = "Subscriptions"
	MetricMessagesSent    = "MessagesSent"
	MetricSendFailures    = "SendFailures"
	MetricReadReconciles  = "ReadReconciles"
	MetricTypingUpserts   = "TypingUpserts"
	MetricReconnects      = "Reconnects"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

// expvar names are process-global and registering one twice panics, so
// the map is created once and shared by every updater in the process.
var (
	statsVarsOnce sync.Once
	statsVars     *expvar.Map
)

func sharedVars() *expvar.Map {
	statsVarsOnce.Do(func() {
		statsVars = expvar.NewMap("chatsync-stats")
	})
	return statsVars
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a new stats updater instance.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = sharedVars()
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric := su.vars.Get(req.name)
		if metric == nil {
			panic("metric not found: " + req.name)
		}

		metric.(*expvar.Int).Add(int64(req.value))
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: -1}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	// new(expvar.Int) rather than expvar.NewInt: the latter registers a
	// top-level exported name and panics on re-registration.
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}

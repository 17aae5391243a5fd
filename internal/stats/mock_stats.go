package stats

import "github.com/stretchr/testify/mock"

type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Run() {
	m.Called()
}

// NoopStats satisfies StatsProvider for tests that do not assert on metrics.
type NoopStats struct{}

func (NoopStats) Incr(name string)           {}
func (NoopStats) Decr(name string)           {}
func (NoopStats) RegisterMetric(name string) {}
func (NoopStats) Run()                       {}

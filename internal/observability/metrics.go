package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu                 sync.Mutex
	requestCount       map[string]int64
	errorCount         map[string]int64
	storeOps           map[string]int64
	storeErrors        map[string]int64
	backgroundFailures map[string]int64
	started            time.Time
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:       make(map[string]int64),
		errorCount:         make(map[string]int64),
		storeOps:           make(map[string]int64),
		storeErrors:        make(map[string]int64),
		backgroundFailures: make(map[string]int64),
		started:            time.Now(),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordStoreOp counts one store call, keyed by backend and operation.
func (m *Metrics) RecordStoreOp(backend, op string, err error) {
	if m == nil {
		return
	}
	key := backend + "|" + op
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeOps[key]++
	if err != nil {
		m.storeErrors[key]++
	}
}

// RecordBackgroundFailure counts a failed snapshot or deferred write.
func (m *Metrics) RecordBackgroundFailure(source string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backgroundFailures[source]++
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	UptimeSeconds      int64            `json:"uptime_seconds"`
	Requests           map[string]int64 `json:"requests"`
	Errors             map[string]int64 `json:"errors"`
	StoreOps           map[string]int64 `json:"store_ops"`
	StoreErrors        map[string]int64 `json:"store_errors"`
	BackgroundFailures map[string]int64 `json:"background_failures"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		UptimeSeconds:      int64(time.Since(m.started).Seconds()),
		Requests:           copyCounts(m.requestCount),
		Errors:             copyCounts(m.errorCount),
		StoreOps:           copyCounts(m.storeOps),
		StoreErrors:        copyCounts(m.storeErrors),
		BackgroundFailures: copyCounts(m.backgroundFailures),
	}
}

// BackgroundFailureSources lists sources with at least one failure.
func (s MetricsSnapshot) BackgroundFailureSources() []string {
	out := make([]string, 0, len(s.BackgroundFailures))
	for k := range s.BackgroundFailures {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}

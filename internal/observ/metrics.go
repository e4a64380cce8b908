package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += value
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration observation in milliseconds.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Observations returns the recorded values for a histogram and label set.
func Observations(name string, labels map[string]string) []float64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		return nil
	}
	vals := m[canonLabels(labels)]
	out := make([]float64, len(vals))
	copy(out, vals)
	return out
}

// CounterTotal sums a counter across all label sets.
func CounterTotal(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

// Basic text/JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus summarizes pipeline health for the control surface.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics holds the counters that drive the overall status.
type HealthMetrics struct {
	IngestionRuns        int64   `json:"ingestion_runs"`
	IngestionFailures    int64   `json:"ingestion_failures"`
	HygieneRuns          int64   `json:"hygiene_runs"`
	ModelCalls           int64   `json:"model_calls"`
	ModelFailures        int64   `json:"model_failures"`
	ModelSuccessRate     float64 `json:"model_success_rate"`
	GatewayRateLimited   int64   `json:"gateway_rate_limited"`
	GatewayFatalErrors   int64   `json:"gateway_fatal_errors"`
	SchedulerDegraded    bool    `json:"scheduler_degraded"`
	HeadlinesPersisted   int64   `json:"headlines_persisted"`
	DuplicatesFlagged    int64   `json:"duplicates_flagged"`
	OpportunitiesCreated int64   `json:"opportunities_created"`
}

var startTime = time.Now()

// HealthHandler reports pipeline health computed from raw telemetry.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		m := HealthMetrics{
			IngestionRuns:        sumLocked("ingestion_runs_total"),
			IngestionFailures:    sumLocked("ingestion_failures_total"),
			HygieneRuns:          sumLocked("hygiene_runs_total"),
			ModelCalls:           sumLocked("model_calls_total"),
			ModelFailures:        sumLocked("model_failures_total"),
			GatewayRateLimited:   sumLocked("gateway_rate_limited_total"),
			GatewayFatalErrors:   sumLocked("gateway_fatal_errors_total"),
			HeadlinesPersisted:   sumLocked("headlines_persisted_total"),
			DuplicatesFlagged:    sumLocked("headlines_duplicate_total"),
			OpportunitiesCreated: sumLocked("opportunities_created_total"),
		}
		if m.ModelCalls > 0 {
			m.ModelSuccessRate = float64(m.ModelCalls-m.ModelFailures) / float64(m.ModelCalls)
		}
		for _, v := range reg.gauges["scheduler_degraded"] {
			if v == 1 {
				m.SchedulerDegraded = true
			}
		}
		reg.mu.Unlock()

		health := HealthStatus{
			Status:    statusFor(m),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Metrics:   m,
		}
		code := http.StatusOK
		switch health.Status {
		case "degraded":
			code = http.StatusPartialContent
		case "failed":
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func sumLocked(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

func statusFor(m HealthMetrics) string {
	if m.GatewayFatalErrors > 0 && m.IngestionRuns == m.IngestionFailures && m.IngestionRuns > 0 {
		return "failed"
	}
	if m.SchedulerDegraded {
		return "degraded"
	}
	if m.ModelCalls > 20 && m.ModelSuccessRate < 0.5 {
		return "degraded"
	}
	return "healthy"
}

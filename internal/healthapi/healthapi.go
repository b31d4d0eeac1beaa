// Package healthapi exposes the internal diagnostics listener: /health,
// /health/live, /health/ready, /health/startup, /metrics, /config and
// /diagnostics, wiring internal/health and internal/metrics behind plain
// net/http handlers the way a monitor package exposes its own probe
// endpoints.
package healthapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nabbar/fenrir/internal/health"
	"github.com/nabbar/fenrir/internal/metrics"
	"github.com/nabbar/fenrir/internal/workerpool"
)

// Checks reports the components the combined /health endpoint aggregates
// over: the three probes plus the live worker-pool/connection counters
// that feed the JSON "details" block.
type Checks struct {
	Health      *health.Checker
	Pool        *workerpool.Pool
	ActiveConns func() int64
	StartedAt   time.Time
	Version     string
	Config      interface{}
}

type probeResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type statusDoc struct {
	Status  string                 `json:"status"`
	Checks  []probeResult          `json:"checks"`
	Details map[string]interface{} `json:"details"`
}

func (c Checks) details() map[string]interface{} {
	d := map[string]interface{}{
		"uptime_seconds": int64(time.Since(c.StartedAt).Seconds()),
	}
	if c.Pool != nil {
		d["workers"] = c.Pool.WorkerCount()
		d["queue_depth"] = c.Pool.PendingCount()
		d["queue_capacity"] = c.Pool.QueueCapacity()
	}
	if c.ActiveConns != nil {
		d["active_connections"] = c.ActiveConns()
	}
	if c.Version != "" {
		d["version"] = c.Version
	}
	return d
}

// readyStatus combines the process-level readiness probe with the worker
// pool's queue depth: a pool queued past 90% of its capacity means the
// server cannot absorb more work, so readiness fails even though startup
// completed successfully.
func (c Checks) readyStatus() health.Status {
	s := c.Health.Ready()
	if !s.Healthy || c.Pool == nil {
		return s
	}

	capacity := c.Pool.QueueCapacity()
	if capacity <= 0 {
		return s
	}
	if float64(c.Pool.PendingCount()) >= 0.9*float64(capacity) {
		return health.Status{Healthy: false, Detail: "queue saturated", Checked: time.Now()}
	}
	return s
}

func probeStatus(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

// Mux builds the internal listener's http.Handler: the combined /health
// document, the three individual probes, a prometheus /metrics handler
// when metricsEnabled, a /config dump of Checks.Config as given, and a
// /diagnostics endpoint that always answers 200 with only the "details"
// block of /health.
func Mux(c Checks, metricsEnabled bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		live := c.Health.Live()
		ready := c.readyStatus()
		startup := c.Health.Startup()

		overall := "healthy"
		code := http.StatusOK
		if !live.Healthy {
			overall = "unhealthy"
			code = http.StatusServiceUnavailable
		} else if !ready.Healthy {
			overall = "not_ready"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, statusDoc{
			Status: overall,
			Checks: []probeResult{
				{Name: "live", Status: probeStatus(live.Healthy)},
				{Name: "ready", Status: probeStatus(ready.Healthy)},
				{Name: "startup", Status: probeStatus(startup.Healthy)},
			},
			Details: c.details(),
		})
	})

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		s := c.Health.Live()
		writeProbe(w, s.Healthy, s.Detail)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		s := c.readyStatus()
		writeProbe(w, s.Healthy, s.Detail)
	})
	mux.HandleFunc("/health/startup", func(w http.ResponseWriter, r *http.Request) {
		s := c.Health.Startup()
		writeProbe(w, s.Healthy, s.Detail)
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"details": c.details(),
		})
	})

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Config)
	})

	if metricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}

	return mux
}

func writeProbe(w http.ResponseWriter, healthy bool, detail string) {
	code := http.StatusOK
	status := "pass"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "fail"
	}
	writeJSON(w, code, map[string]string{"status": status, "detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Package monitoring exposes the HTTP health and status surface for a
// running inference process.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-neox/internal/logger"
	"github.com/23skdu/longbow-neox/internal/metrics"
)

// EngineInfo is the static and slow-changing state reported by the
// status endpoints.
type EngineInfo struct {
	Model         string `json:"model"`
	Layers        int    `json:"layers"`
	Heads         int    `json:"heads"`
	ContextLength int    `json:"context_length"`
	ModelLoaded   bool   `json:"model_loaded"`
}

type healthResponse struct {
	Status        string     `json:"status"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	GoVersion     string     `json:"go_version"`
	NumCPU        int        `json:"num_cpu"`
	TokensTotal   int64      `json:"tokens_total"`
	Engine        EngineInfo `json:"engine"`
}

// HealthMonitor serves /health, /healthz, /status and /metrics.
type HealthMonitor struct {
	start time.Time

	mu   sync.RWMutex
	info EngineInfo

	server *http.Server
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{start: time.Now()}
}

// SetEngineInfo publishes the loaded model's identity to the status
// endpoints.
func (hm *HealthMonitor) SetEngineInfo(info EngineInfo) {
	hm.mu.Lock()
	hm.info = info
	hm.mu.Unlock()
}

// Handler returns the full monitoring mux, usable standalone in tests
// or mounted by Start.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealthz)
	mux.HandleFunc("/status", hm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	hm.mu.RLock()
	info := hm.info
	hm.mu.RUnlock()

	status := "ok"
	if !info.ModelLoaded {
		status = "loading"
	}
	resp := healthResponse{
		Status:        status,
		UptimeSeconds: time.Since(hm.start).Seconds(),
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		TokensTotal:   metrics.TotalTokens(),
		Engine:        info,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("health encode failed", "error", err)
	}
}

func (hm *HealthMonitor) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start serves the monitoring mux on addr in a background goroutine.
func (hm *HealthMonitor) Start(addr string) {
	hm.server = &http.Server{Addr: addr, Handler: hm.Handler()}
	go func() {
		logger.Info("monitoring listening", "addr", addr)
		if err := hm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitoring server failed", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (hm *HealthMonitor) Shutdown(ctx context.Context) error {
	if hm.server == nil {
		return nil
	}
	return hm.server.Shutdown(ctx)
}

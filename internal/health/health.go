// SPDX-License-Identifier: MIT

// Package health provides an HTTP health check endpoint for clipperd.
//
// The health check exposes service status at /healthz as JSON: per-worker
// state (camera/recorder/audio), restart counts and last error, plus the
// segment counter and free disk space on the clips filesystem.
//
// A Prometheus-compatible /metrics endpoint is also served.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ServiceInfo describes the health state of a single supervised worker
// (camera, recorder or audio).
type ServiceInfo struct {
	Name     string        `json:"name"`
	State    string        `json:"state"`
	Uptime   time.Duration `json:"uptime_ns"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Restarts int           `json:"restarts,omitempty"`
}

// SystemInfo contains system-level health data included in the health
// response: free disk space on the clips filesystem and how many segments
// have been recorded since startup.
type SystemInfo struct {
	DiskFreeBytes  uint64 `json:"disk_free_bytes"`
	DiskTotalBytes uint64 `json:"disk_total_bytes"`
	DiskLowWarning bool   `json:"disk_low_warning,omitempty"`
	SegmentCount   int    `json:"segment_count"`
}

// StatusProvider returns the current health status of all workers.
// The daemon implements this interface to supply live data.
type StatusProvider interface {
	Services() []ServiceInfo
}

// SystemInfoProvider returns system-level health data.
// The daemon implements this interface to supply disk space and the
// segment counter.
type SystemInfoProvider interface {
	SystemInfo() SystemInfo
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Services  []ServiceInfo `json:"services"`
	System    *SystemInfo   `json:"system,omitempty"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider    StatusProvider
	sysProvider SystemInfoProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// WithSystemInfo attaches an optional system info provider to the handler.
// When set, disk space and the segment counter are included in /healthz
// responses and /metrics output.
func (h *Handler) WithSystemInfo(p SystemInfoProvider) *Handler {
	h.sysProvider = p
	return h
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{
		Timestamp: time.Now(),
	}

	var services []ServiceInfo
	if h.provider != nil {
		services = h.provider.Services()
	}
	resp.Services = services

	healthy := len(services) > 0
	for _, svc := range services {
		if !svc.Healthy {
			healthy = false
			break
		}
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()
		resp.System = &si
		if si.DiskLowWarning {
			resp.Status = "degraded"
			healthy = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy && resp.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format metrics response. This
// implements a minimal subset of the exposition format without any
// external dependency — no prometheus/client_golang import required.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	var services []ServiceInfo
	if h.provider != nil {
		services = h.provider.Services()
	}

	if len(services) > 0 {
		fmt.Fprintln(&sb, "# HELP clipper_worker_healthy Is the worker currently healthy (1=healthy, 0=not).")
		fmt.Fprintln(&sb, "# TYPE clipper_worker_healthy gauge")
		for _, svc := range services {
			v := 0
			if svc.Healthy {
				v = 1
			}
			fmt.Fprintf(&sb, "clipper_worker_healthy{worker=%q} %d\n", svc.Name, v)
		}

		fmt.Fprintln(&sb, "# HELP clipper_worker_uptime_seconds Seconds since worker last started.")
		fmt.Fprintln(&sb, "# TYPE clipper_worker_uptime_seconds gauge")
		for _, svc := range services {
			fmt.Fprintf(&sb, "clipper_worker_uptime_seconds{worker=%q} %.3f\n", svc.Name, svc.Uptime.Seconds())
		}

		fmt.Fprintln(&sb, "# HELP clipper_worker_restarts_total Total supervisor restarts for worker.")
		fmt.Fprintln(&sb, "# TYPE clipper_worker_restarts_total counter")
		for _, svc := range services {
			fmt.Fprintf(&sb, "clipper_worker_restarts_total{worker=%q} %d\n", svc.Name, svc.Restarts)
		}
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()

		fmt.Fprintln(&sb, "# HELP clipper_disk_free_bytes Free bytes on the clips filesystem.")
		fmt.Fprintln(&sb, "# TYPE clipper_disk_free_bytes gauge")
		fmt.Fprintf(&sb, "clipper_disk_free_bytes %d\n", si.DiskFreeBytes)

		fmt.Fprintln(&sb, "# HELP clipper_disk_total_bytes Total bytes on the clips filesystem.")
		fmt.Fprintln(&sb, "# TYPE clipper_disk_total_bytes gauge")
		fmt.Fprintf(&sb, "clipper_disk_total_bytes %d\n", si.DiskTotalBytes)

		diskLow := 0
		if si.DiskLowWarning {
			diskLow = 1
		}
		fmt.Fprintln(&sb, "# HELP clipper_disk_low_warning 1 when free disk is below the configured threshold.")
		fmt.Fprintln(&sb, "# TYPE clipper_disk_low_warning gauge")
		fmt.Fprintf(&sb, "clipper_disk_low_warning %d\n", diskLow)

		fmt.Fprintln(&sb, "# HELP clipper_segments_recorded_total Total segments recorded since startup.")
		fmt.Fprintln(&sb, "# TYPE clipper_segments_recorded_total counter")
		fmt.Fprintf(&sb, "clipper_segments_recorded_total %d\n", si.SegmentCount)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health check HTTP server on the given address.
// It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness. The listener is bound synchronously so port-in-use errors are
// returned immediately rather than surfacing only after ctx is cancelled.
// Once bound, the ready channel is closed (if non-nil) to signal that the
// endpoint is available.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}

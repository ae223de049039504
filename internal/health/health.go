// Package health serves liveness and readiness probes with pluggable
// dependency checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// Handler serves /health and /readiness. Liveness always answers ok once
// the process is up; readiness runs every registered checker.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *zap.Logger
}

// NewHandler creates an empty health handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// Register adds a dependency check to the readiness probe.
func (h *Handler) Register(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// RegisterRoutes registers probe endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /readiness", h.handleReadiness)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.RUnlock()

	components := make(map[string]string, len(checkers))
	ready := true
	for _, c := range checkers {
		if err := c.Check(ctx); err != nil {
			h.logger.Warn("Readiness check failed",
				zap.String("component", c.Name()), zap.Error(err))
			components[c.Name()] = err.Error()
			ready = false
			continue
		}
		components[c.Name()] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeStatus(w, status, map[string]interface{}{
		"ready":      ready,
		"components": components,
		"timestamp":  time.Now(),
	})
}

func writeStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

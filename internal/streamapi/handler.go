// Package streamapi exposes the reactive engine's resource/instance layer
// as the HTTP surface described in spec §6: create/open/delete stream over
// SSE (with an optional WebSocket alternative), plus an admin subrouter for
// operational introspection.
package streamapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/r3e-network/reactive-streams/internal/reactive"
	"github.com/r3e-network/reactive-streams/internal/resource"
	"github.com/r3e-network/reactive-streams/pkg/config"
	"github.com/r3e-network/reactive-streams/pkg/logger"
	"github.com/r3e-network/reactive-streams/pkg/version"
)

const maxParamsBytes = int64(1 << 20) // 1 MiB cap on a create-stream request body

// Resources looks a registered resource up by name.
type Resources interface {
	Get(name string) (resource.Resource, bool)
}

// Handler bundles the streams API's dependencies.
type Handler struct {
	engine    *reactive.Engine
	resources Resources
	registry  *resource.InstanceRegistry
	log       *logger.Logger
	metrics   *Metrics
	cfg       config.ServerConfig
}

// New builds the composed gorilla/mux handler: the public streams API,
// an admin subrouter mounted with go-chi/chi, and a Prometheus /metrics
// endpoint.
func New(engine *reactive.Engine, resources Resources, registry *resource.InstanceRegistry, cfg config.Config, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("streamapi")
	}
	reg := prometheus.NewRegistry()
	h := &Handler{
		engine:    engine,
		resources: resources,
		registry:  registry,
		log:       log,
		metrics:   NewMetrics(reg),
		cfg:       cfg.Server,
	}

	router := mux.NewRouter()
	router.Use(loggingMiddleware(log))
	router.Use(rateLimitMiddleware(cfg.RateLimit, log))

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(authMiddleware(cfg.Auth, log))
	api.HandleFunc("/streams/{resource_name}", h.createStream).Methods(http.MethodPost)
	api.HandleFunc("/streams/{instance_id}", h.openStream).Methods(http.MethodGet)
	api.HandleFunc("/streams/{instance_id}", h.deleteStream).Methods(http.MethodDelete)

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.PathPrefix("/admin/").Handler(h.adminRouter())

	return router
}

// createStream implements spec §4.8 "Create stream".
func (h *Handler) createStream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["resource_name"]
	res, ok := h.resources.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, resource.ErrUnknownResource)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read params: %w", err))
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	params, err := res.Schema.Validate(body)
	if err != nil {
		err = &resource.ValidationError{Resource: name, Err: err}
		writeError(w, statusFor(err), err)
		return
	}

	if id, ok := h.registry.FindExisting(name, params); ok {
		h.metrics.StreamsReused.WithLabelValues(name).Inc()
		writeJSON(w, http.StatusOK, map[string]any{"instance_id": id, "reused": true})
		return
	}

	leaf, err := res.Factory(params)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	inst, reused := h.registry.Create(name, params, leaf)
	if reused {
		h.metrics.StreamsReused.WithLabelValues(name).Inc()
	} else {
		h.metrics.StreamsCreated.WithLabelValues(name).Inc()
	}
	h.log.WithFields(map[string]any{
		"resource": name, "instance_id": inst.ID, "subject": subjectFromContext(r.Context()),
	}).Debug("stream created")
	writeJSON(w, http.StatusOK, map[string]any{"instance_id": inst.ID, "reused": reused})
}

// openStream implements spec §4.8 "Open stream": SSE by default, or
// WebSocket when the client asks for a connection upgrade and the server
// has it enabled.
func (h *Handler) openStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["instance_id"]
	if _, ok := h.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, resource.ErrUnknownInstance)
		return
	}

	sub, err := h.registry.Subscribe(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer h.registry.Unsubscribe(id, sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.cfg.EnableWebsocket && isWebsocketUpgrade(r) {
		streamWebSocket(ctx, w, r, sub)
		return
	}
	streamSSE(ctx, w, sub)
}

func isWebsocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}

// deleteStream implements spec §4.8 "Delete stream".
func (h *Handler) deleteStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["instance_id"]
	if err := h.registry.Destroy(id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.log.WithFields(map[string]any{
		"instance_id": id, "subject": subjectFromContext(r.Context()),
	}).Debug("stream deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// adminRouter mounts a go-chi/chi subrouter for operational endpoints,
// deliberately a second router library from the public API's gorilla/mux
// (mirrors this codebase's existing admin/primary router split).
func (h *Handler) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/status", h.systemStatus)
	r.Get("/admin/instances", h.listInstances)
	return r
}

func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	percents, _ := cpu.Percent(0, false)
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	vm, _ := mem.VirtualMemory()
	status := map[string]any{
		"version":         version.Version,
		"instances_count": h.registry.Len(),
		"cpu_percent":     cpuPct,
		"uptime_checked":  time.Now().UTC(),
	}
	if vm != nil {
		status["memory_used_percent"] = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) listInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances_count": h.registry.Len()})
}

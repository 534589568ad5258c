package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/alerts"
	"github.com/relicwatch/relicwatch/server/internal/metrics"
	"github.com/relicwatch/relicwatch/server/internal/parser"
	"github.com/relicwatch/relicwatch/server/internal/store"
	"github.com/relicwatch/relicwatch/server/internal/threshold"
)

// maxIngestBytes caps the body of POST /api/v1/readings.
const maxIngestBytes = 1 << 20

// AlertService is the subset of alerts.Manager used by the API.
type AlertService interface {
	QueryAlerts(ctx context.Context, q types.AlertQuery) ([]types.Alert, error)
	CountAlerts(ctx context.Context, q types.AlertQuery) (int, error)
	UpdateAlertStatus(ctx context.Context, id string, status types.AlertStatus) (bool, error)
}

// Ingester accepts a raw payload received on topic.
type Ingester interface {
	Handle(ctx context.Context, topic string, payload []byte) error
}

// Deps are the collaborators served by the API. Auth, Gatherer and Stream
// are optional.
type Deps struct {
	Alerts   AlertService
	Rules    *threshold.Registry
	Readings *store.Readings
	Ingest   Ingester

	// Auth wraps the mutating routes.
	Auth func(http.Handler) http.Handler
	// Gatherer backs /metrics and /api/v1/stats. Defaults to
	// prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Stream is mounted at /ws/stream when set.
	Stream http.Handler
}

// Handler serves all /api/v1/* endpoints.
type Handler struct {
	deps Deps
	now  func() time.Time
}

// New creates the router with every route registered.
func New(d Deps) http.Handler {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Auth == nil {
		d.Auth = func(next http.Handler) http.Handler { return next }
	}
	h := &Handler{deps: d, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/alerts", h.listAlerts)
		r.Get("/thresholds", h.listThresholds)
		r.Get("/sensors", h.listSensors)
		r.Get("/sensors/{id}", h.getSensor)
		r.Get("/stats", h.stats)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth)
			r.Patch("/alerts/{id}", h.updateAlert)
			r.Put("/thresholds/{sensorType}", h.registerThreshold)
			r.Post("/readings", h.ingest)
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	if d.Stream != nil {
		r.Method(http.MethodGet, "/ws/stream", d.Stream)
	}
	return r
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	active, err := h.deps.Alerts.CountAlerts(r.Context(), types.AlertQuery{Status: types.AlertActive})
	if err != nil {
		slog.Error("api: count active alerts", "error", err)
		jsonErr(w, http.StatusServiceUnavailable, "alert store unavailable")
		return
	}

	entries := h.deps.Readings.List()
	resp := HealthResponse{
		SensorCount:      len(entries),
		ActiveAlertCount: active,
		ThresholdCount:   len(h.deps.Rules.Rules()),
	}
	for _, e := range entries {
		switch e.Reading.Status {
		case types.StatusNormal:
			resp.NormalCount++
		case types.StatusWarning:
			resp.WarningCount++
		default:
			resp.UnsetCount++
		}
	}

	switch {
	case resp.ActiveAlertCount > 0:
		resp.State = "alerting"
	case resp.SensorCount == 0:
		resp.State = "idle"
	default:
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listAlerts returns GET /api/v1/alerts filtered by the query string.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q, err := parseAlertQuery(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.deps.Alerts.QueryAlerts(r.Context(), q)
	if err != nil {
		slog.Error("api: query alerts", "error", err)
		jsonErr(w, http.StatusInternalServerError, "query failed")
		return
	}
	if out == nil {
		out = []types.Alert{}
	}
	jsonResp(w, http.StatusOK, out)
}

// updateAlert handles PATCH /api/v1/alerts/{id}.
func (h *Handler) updateAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StatusRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.deps.Alerts.UpdateAlertStatus(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, alerts.ErrInvalidStatus):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, alerts.ErrInvalidTransition):
		jsonErr(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		slog.Error("api: update alert", "id", id, "error", err)
		jsonErr(w, http.StatusInternalServerError, "update failed")
		return
	case !ok:
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	jsonResp(w, http.StatusOK, StatusResponse{ID: id, Status: req.Status})
}

// listThresholds returns GET /api/v1/thresholds sorted by sensor type.
func (h *Handler) listThresholds(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Rules.Rules())
}

// registerThreshold handles PUT /api/v1/thresholds/{sensorType}. Existing
// types are immutable and answer 409.
func (h *Handler) registerThreshold(w http.ResponseWriter, r *http.Request) {
	sensorType := chi.URLParam(r, "sensorType")

	var req ThresholdRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Min == nil || req.Max == nil {
		jsonErr(w, http.StatusBadRequest, "min and max are required")
		return
	}

	err := h.deps.Rules.Register(sensorType, *req.Min, *req.Max)
	switch {
	case errors.Is(err, threshold.ErrRuleExists):
		jsonErr(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("api: threshold registered", "sensor_type", sensorType, "min", *req.Min, "max", *req.Max)
	rule, _ := h.deps.Rules.Lookup(sensorType)
	jsonResp(w, http.StatusCreated, rule)
}

// listSensors returns GET /api/v1/sensors, one entry per live sensor.
func (h *Handler) listSensors(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	entries := h.deps.Readings.List()
	out := make([]SensorResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.toSensorResponse(e, now))
	}
	jsonResp(w, http.StatusOK, out)
}

// getSensor returns GET /api/v1/sensors/{id}. Stale sensors answer 404.
func (h *Handler) getSensor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := h.now()

	e, ok := h.deps.Readings.Get(id)
	if !ok || now.Sub(e.UpdatedAt) > h.deps.Readings.TTL() {
		jsonErr(w, http.StatusNotFound, "sensor not found")
		return
	}
	jsonResp(w, http.StatusOK, h.toSensorResponse(e, now))
}

// ingest handles POST /api/v1/readings?topic=. The body is passed to the
// parser pipeline unchanged.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		jsonErr(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	err = h.deps.Ingest.Handle(r.Context(), r.URL.Query().Get("topic"), payload)
	var pe *parser.ParseError
	switch {
	case errors.As(err, &pe):
		jsonErr(w, http.StatusBadRequest, pe.Error())
		return
	case err != nil:
		jsonResp(w, http.StatusAccepted, IngestResponse{Status: "accepted", Error: err.Error()})
		return
	}
	jsonResp(w, http.StatusAccepted, IngestResponse{Status: "accepted"})
}

// stats returns GET /api/v1/stats, one total per relicwatch metric family.
func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	sum, err := metrics.Summary(h.deps.Gatherer)
	if err != nil {
		slog.Error("api: stats", "error", err)
		jsonErr(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	jsonResp(w, http.StatusOK, StatsResponse{Metrics: sum, GeneratedAt: h.now().UTC()})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxIngestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

// parseAlertQuery maps sensor_id, alert_type, status, start, end and limit
// onto a types.AlertQuery. Times are RFC3339.
func parseAlertQuery(r *http.Request) (types.AlertQuery, error) {
	v := r.URL.Query()
	q := types.AlertQuery{
		SensorID:  v.Get("sensor_id"),
		AlertType: v.Get("alert_type"),
	}

	if s := v.Get("status"); s != "" {
		q.Status = types.AlertStatus(s)
		if !q.Status.Valid() {
			return q, fmt.Errorf("invalid status %q", s)
		}
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"start", &q.Start}, {"end", &q.End}} {
		s := v.Get(p.key)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid %s: %q is not RFC3339", p.key, s)
		}
		*p.dst = t
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return q, errors.New("end is before start")
	}
	// limit=0 means the configured default, as does no limit at all.
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.Limit = n
	}
	return q, nil
}

func (h *Handler) toSensorResponse(e store.Entry, now time.Time) SensorResponse {
	resp := SensorResponse{
		Reading:  e.Reading,
		Warnings: e.Warnings,
		Total:    e.Total,
		LastSeen: e.UpdatedAt.UTC().Format(time.RFC3339),
	}
	rule, ok := h.deps.Rules.Lookup(e.Reading.SensorType)
	if ok {
		resp.Threshold = &rule
	}
	resp.Diagnostics = computeDiagnostics(e, rule, ok, now)
	return resp
}

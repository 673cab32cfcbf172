package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/dashboard"
	"fleetwatch/core-go/internal/db"
	"fleetwatch/core-go/internal/metrics"
	"fleetwatch/core-go/internal/nms"
	"fleetwatch/core-go/internal/nodes"
	"fleetwatch/core-go/internal/notify"
	"fleetwatch/core-go/internal/uptime"
)

type AlertSyncer interface {
	SyncOnce(ctx context.Context) (int, error)
}

type TrendSource interface {
	Trend(ctx context.Context, days int, locationID *int64) (uptime.Trend, error)
}

type DashboardSource interface {
	Stats(ctx context.Context, locationID *int64, topDownWindow int) (dashboard.Stats, error)
	Traffic(ctx context.Context, locationID *int64) (dashboard.Traffic, error)
}

// Deps are the services behind the API. Any of them may be nil; the routes
// that need a missing one answer 503.
type Deps struct {
	Metrics   *metrics.Metrics
	Alerts    AlertSyncer
	Trends    TrendSource
	Dashboard DashboardSource
	Fanout    *notify.Fanout
	// Binder defaults to the pool's queries.
	Binder nodes.Binder
}

type Handler struct {
	log       zerolog.Logger
	pool      *db.Pool
	metrics   *metrics.Metrics
	binder    nodes.Binder
	alerts    AlertSyncer
	trends    TrendSource
	dashboard DashboardSource
	fanout    *notify.Fanout
	upgrader  websocket.Upgrader
}

func NewHandler(log zerolog.Logger, pool *db.Pool, deps Deps) *Handler {
	h := &Handler{
		log:       log,
		pool:      pool,
		metrics:   deps.Metrics,
		alerts:    deps.Alerts,
		trends:    deps.Trends,
		dashboard: deps.Dashboard,
		fanout:    deps.Fanout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from a different origin in development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if deps.Binder != nil {
		h.binder = deps.Binder
	} else if q := pool.Queries(); q != nil {
		h.binder = q
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			// Long-lived; must not inherit the request timeout.
			r.Get("/ws/status", h.handleStatusWebsocket)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))

				r.Post("/sync/alerts", h.handleSyncAlerts)

				r.Route("/dashboard", func(r chi.Router) {
					r.Get("/uptime-trend", h.handleUptimeTrend)
					r.Get("/stats", h.handleDashboardStats)
					r.Get("/traffic", h.handleDashboardTraffic)
				})

				r.Put("/nodes/{kind}/{id}/external-id", h.handleBindExternalID)

				r.Route("/notifications", func(r chi.Router) {
					r.Post("/push-tokens", h.handleRegisterPushToken)
					r.Delete("/push-tokens", h.handleUnregisterPushToken)
					r.Post("/emails", h.handleRegisterEmail)
					r.Delete("/emails", h.handleUnregisterEmail)
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) unavailable(w http.ResponseWriter, what string) {
	h.writeError(w, http.StatusServiceUnavailable, "unavailable", what+" not configured", nil)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

// optionalInt64Query parses a positive integer query parameter. A missing
// or empty parameter yields nil.
func optionalInt64Query(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, errors.New(name + " must be a positive integer")
	}
	return &v, nil
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) handleSyncAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		h.unavailable(w, "alert sync")
		return
	}

	n, err := h.alerts.SyncOnce(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, nms.ErrUpstreamUnavailable):
			h.log.Warn().Err(err).Msg("manual alert sync: upstream unavailable")
			h.writeError(w, http.StatusBadGateway, "upstream_unavailable", "monitoring system unavailable", map[string]any{"error": err.Error()})
		case errors.Is(err, db.ErrNotConfigured):
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		default:
			h.log.Error().Err(err).Msg("manual alert sync failed")
			h.writeError(w, http.StatusInternalServerError, "sync_failed", "alert sync failed", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"processed": n})
}

func (h *Handler) handleStatusWebsocket(w http.ResponseWriter, r *http.Request) {
	if h.fanout == nil {
		h.unavailable(w, "notifications")
		return
	}

	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.fanout.Hub().Serve(r.Context(), notify.NewWSConn(c))
}

func (h *Handler) handleUptimeTrend(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 7)
	if err == nil && (days < uptime.MinDays || days > uptime.MaxDays) {
		err = uptime.ErrInvalidDays
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"param": "days"})
		return
	}
	loc, err := optionalInt64Query(r, "location_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"param": "location_id"})
		return
	}
	if h.trends == nil {
		h.unavailable(w, "uptime trend")
		return
	}

	trend, err := h.trends.Trend(r.Context(), days, loc)
	if err != nil {
		h.log.Error().Err(err).Int("days", days).Msg("uptime trend failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to compute uptime trend", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, trend)
}

func (h *Handler) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	window, err := intQuery(r, "top_down_window", dashboard.DefaultTopDownWindow)
	if err == nil && (window < dashboard.MinTopDownWindow || window > dashboard.MaxTopDownWindow) {
		err = dashboard.ErrInvalidWindow
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"param": "top_down_window"})
		return
	}
	loc, err := optionalInt64Query(r, "location_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"param": "location_id"})
		return
	}
	if h.dashboard == nil {
		h.unavailable(w, "dashboard")
		return
	}

	st, err := h.dashboard.Stats(r.Context(), loc, window)
	if err != nil {
		h.log.Error().Err(err).Msg("dashboard stats failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to build dashboard stats", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleDashboardTraffic(w http.ResponseWriter, r *http.Request) {
	loc, err := optionalInt64Query(r, "location_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"param": "location_id"})
		return
	}
	if h.dashboard == nil {
		h.unavailable(w, "dashboard")
		return
	}

	tr, err := h.dashboard.Traffic(r.Context(), loc)
	if err != nil {
		h.log.Error().Err(err).Msg("dashboard traffic failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to build traffic summary", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, tr)
}

type externalIDUpdate struct {
	ExternalID *int64 `json:"external_id"`
}

type nodeResponse struct {
	Kind       string  `json:"kind"`
	ID         int64   `json:"id"`
	ExternalID *int64  `json:"external_id"`
	Name       string  `json:"name"`
	IPAddress  string  `json:"ip_address"`
	Status     *string `json:"status"`
}

func (h *Handler) handleBindExternalID(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	rawID := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "node id must be a positive integer", map[string]any{"id": rawID})
		return
	}
	if !nodes.ValidKind(kind) {
		h.writeError(w, http.StatusBadRequest, "invalid_kind", "kind must be device or switch", map[string]any{"kind": kind})
		return
	}

	var req externalIDUpdate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.ExternalID != nil && *req.ExternalID <= 0 {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "external_id must be a positive integer or null", nil)
		return
	}

	if h.binder == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	target := nodes.Target{Kind: kind, ID: id}
	n, err := nodes.Bind(r.Context(), h.binder, target, req.ExternalID)
	if err != nil {
		switch {
		case errors.Is(err, nodes.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "node not found", map[string]any{"kind": kind, "id": id})
		case errors.Is(err, nodes.ErrExternalIDConflict):
			h.writeError(w, http.StatusConflict, "external_id_conflict", "external id already bound to another node", map[string]any{"external_id": *req.ExternalID})
		default:
			h.log.Error().Err(err).Str("node", target.String()).Msg("bind external id failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to bind external id", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, nodeResponse{
		Kind:       n.Kind,
		ID:         n.ID,
		ExternalID: n.ExternalID,
		Name:       n.Name,
		IPAddress:  n.IPAddress,
		Status:     n.Status,
	})
}

// Package api je HTTP transport: dekóduje požadavky pro ingest a query engine
// a jejich výsledky vrací jako JSON (resp. CSV).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"lora-backend/internal/ingest"
	"lora-backend/internal/metrics"
	"lora-backend/internal/query"
	"lora-backend/internal/store"
	"lora-backend/internal/sysinfo"
)

// MaxBodyBytes omezuje velikost těla POST požadavků.
const MaxBodyBytes = 1 << 20

// Version se vrací v GET /api.
const Version = "2.0.0"

// HealthSource dodává poslední snímek stavu hostitele (typicky *sysinfo.Monitor).
type HealthSource interface {
	Latest() *sysinfo.Snapshot
}

// Handler sdružuje obsluhu všech endpointů.
type Handler struct {
	ingest  *ingest.Engine
	query   *query.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
	health  HealthSource
	now     func() time.Time
	started time.Time
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }

func WithHealth(s HealthSource) Option { return func(h *Handler) { h.health = s } }

func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// NewHandler vytváří novou instanci handleru.
func NewHandler(ing *ingest.Engine, q *query.Engine, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		ingest: ing,
		query:  q,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	h.started = h.now()
	return h
}

// RegisterRoutes mapuje URL cesty na handlery (Go 1.22 pattern routing).
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Zápis (gateway)
	mux.HandleFunc("POST /api/sensor-data", h.handleSensorData)
	mux.HandleFunc("POST /api/gateway-status", h.handleGatewayStatus)

	// Čtení
	mux.HandleFunc("GET /api/readings", h.handleReadings)
	mux.HandleFunc("GET /api/devices", h.handleDevices)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	mux.HandleFunc("GET /api/node/{node_id}/readings", h.handleNodeReadings)
	mux.HandleFunc("GET /api/export.csv", h.handleExportCSV)
	mux.HandleFunc("GET /api/gateway-status", h.handleListStatuses)
	mux.HandleFunc("GET /api/links", h.handleLinks)

	mux.HandleFunc("GET /api", h.handleInfo)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", h.metrics.Handler())
}

// handleSensorData: POST /api/sensor-data
func (h *Handler) handleSensorData(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	reading, err := h.ingest.IngestReading(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "Data přijata",
		"id":      reading.ID,
	})
}

// handleGatewayStatus: POST /api/gateway-status
func (h *Handler) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	if _, err := h.ingest.IngestStatus(r.Context(), body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReadings: GET /api/readings?node_id=S1&gateway_id=GW1&limit=100
func (h *Handler) handleReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	readings, err := h.query.ListReadings(r.Context(), query.Filter{
		NodeID:    q.Get("node_id"),
		GatewayID: q.Get("gateway_id"),
		Limit:     parseLimit(q.Get("limit"), query.DefaultReadingsLimit),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"count": len(readings), "readings": readings})
}

// handleDevices: GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.query.ListDevices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"count": len(devices), "devices": devices})
}

// handleStats: GET /api/stats
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.ComputeStats(r.Context(), h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// handleNodeReadings: GET /api/node/{node_id}/readings?limit=50
func (h *Handler) handleNodeReadings(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node_id")
	limit := parseLimit(r.URL.Query().Get("limit"), query.DefaultNodeLimit)

	res, err := h.query.NodeReadings(r.Context(), nodeID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// handleExportCSV: GET /api/export.csv?node_id=S1
// Export se sestaví celý v paměti, aby chyba úložiště nevrátila useknutý soubor.
func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	text, err := h.query.ExportCSVString(r.Context(), nodeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filename := "export.csv"
	if nodeID != "" {
		filename = "export_" + sanitizeFilename(nodeID) + ".csv"
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	io.WriteString(w, text)
}

// handleListStatuses: GET /api/gateway-status?gateway_id=GW1&limit=100
func (h *Handler) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statuses, err := h.query.ListStatuses(r.Context(), q.Get("gateway_id"), parseLimit(q.Get("limit"), query.DefaultStatusLimit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"count": len(statuses), "statuses": statuses})
}

// handleLinks: GET /api/links
func (h *Handler) handleLinks(w http.ResponseWriter, r *http.Request) {
	summary, err := h.query.LinkSummary(r.Context(), h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// endpoints je přehled pro GET /api.
var endpoints = map[string]string{
	"POST /api/sensor-data":            "Příjem dat ze senzorů",
	"POST /api/gateway-status":         "Příjem stavu gatewaye",
	"GET /api/readings":                "Výpis readingů (node_id, gateway_id, limit)",
	"GET /api/devices":                 "Registr zařízení",
	"GET /api/stats":                   "Souhrnné statistiky",
	"GET /api/node/{node_id}/readings": "Readingy jednoho nodu (limit)",
	"GET /api/export.csv":              "CSV export (node_id)",
	"GET /api/gateway-status":          "Historie stavů gatewayí (gateway_id, limit)",
	"GET /api/links":                   "Kvalita rádiových spojů",
	"GET /health":                      "Healthcheck",
	"GET /metrics":                     "Prometheus metriky",
}

// handleInfo: GET /api
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"service":   "LoRa Gateway Backend",
		"version":   Version,
		"endpoints": endpoints,
	})
}

// handleHealth: GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := map[string]any{
		"status":    "healthy",
		"timestamp": now.UTC().Format(time.RFC3339Nano),
		"uptime_s":  int64(now.Sub(h.started).Seconds()),
	}
	if h.health != nil {
		if s := h.health.Latest(); s != nil {
			resp["system"] = s
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Tělo požadavku je příliš velké"})
			return nil, false
		}
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Nelze přečíst tělo požadavku"})
		return nil, false
	}
	return body, true
}

// writeError převede chybu jádra na HTTP odpověď: validace -> 400, úložiště -> 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ingest.ValidationError
	var se *store.Error

	switch {
	case errors.As(err, &ve):
		h.logger.Warn("Odmítnutý požadavek", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error()})
	case errors.As(err, &se):
		h.logger.Error("Chyba úložiště", "path", r.URL.Path, "op", se.Op, "request_id", RequestID(r.Context()), "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Chyba úložiště"})
	default:
		h.logger.Error("Interní chyba", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Interní chyba serveru"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Chyba při zápisu JSON odpovědi", "error", err)
	}
}

// parseLimit: chybějící nebo nečíselný limit -> default. Záporný limit se
// předá dál (engine vrátí prázdný výsledek).
func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

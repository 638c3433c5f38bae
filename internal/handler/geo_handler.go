package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/evyataryagoni/geolookup/internal/service"
	"github.com/go-chi/chi/v5"
)

// GeoLookup is the part of the service layer the handler calls
type GeoLookup interface {
	Lookup(ip string) (*models.GeoRecord, error)
	Status() []models.DatabaseStatus
}

// GeoHandler handles HTTP requests for geolocation lookups
// It deals with HTTP concerns only
//
// Responsibilities:
//   - Pick the address (path, query or caller)
//   - Call service methods
//   - Map service errors to status codes
//   - Format HTTP responses (JSON)
type GeoHandler struct {
	service GeoLookup
	started time.Time
	logger  *logger.Logger
}

// NewGeoHandler creates a new handler with the given service
func NewGeoHandler(svc GeoLookup, log *logger.Logger) *GeoHandler {
	if log == nil {
		log = logger.NewDefault()
	}
	return &GeoHandler{
		service: svc,
		started: time.Now(),
		logger:  log.WithComponent("GeoHandler"),
	}
}

// Lookup handles GET /api/lookup and GET /api/lookup/{ip}
// Without an address in the path or ?ip= the caller's own address is used
func (h *GeoHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		ip = r.URL.Query().Get("ip")
	}
	if ip == "" {
		ip = clientIP(r)
	}

	record, err := h.service.Lookup(ip)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidIP):
			h.respondError(w, http.StatusBadRequest, "Invalid IPv4 address")
		case errors.Is(err, service.ErrUnavailable):
			h.respondError(w, http.StatusServiceUnavailable, "Geolocation database not loaded yet")
		default:
			h.logger.Error().Err(err).Str("ip", ip).Msg("Unexpected lookup error")
			h.respondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, record)
}

// Status handles GET /api/status
func (h *GeoHandler) Status(w http.ResponseWriter, r *http.Request) {
	details := h.service.Status()
	resp := models.StatusResponse{
		Databases: make(map[models.DatabaseType]string, len(details)),
		Details:   details,
	}
	for _, st := range details {
		if st.Loaded {
			resp.Databases[st.Type] = "Loaded"
		} else {
			resp.Databases[st.Type] = "Not loaded"
		}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (h *GeoHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, models.HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Seconds(),
	})
}

// clientIP strips the port from RemoteAddr; RealIP may already have
// replaced it with a bare address
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// respondJSON writes a JSON response with the given status code
func (h *GeoHandler) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers are already sent
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError writes an error response with consistent formatting
func (h *GeoHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, models.ErrorResponse{Error: message})
}

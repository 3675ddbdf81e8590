package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/netident/netident/internal/cache"
	"github.com/netident/netident/internal/lookup"
	"github.com/netident/netident/internal/types"
)

// ReportBuilder builds the aggregated network identity report.
type ReportBuilder interface {
	Build(ctx context.Context) *types.NetworkReport
}

// APIHandler handles HTTP requests
type APIHandler struct {
	builder  ReportBuilder
	detailer lookup.DetailerInterface
	cache    *cache.DetailCache
	logger   *logrus.Logger
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
}

// NewAPIHandler creates a new API handler. The cache may be nil when
// caching is disabled.
func NewAPIHandler(builder ReportBuilder, detailer lookup.DetailerInterface, detailCache *cache.DetailCache, logger *logrus.Logger) *APIHandler {
	return &APIHandler{
		builder:  builder,
		detailer: detailer,
		cache:    detailCache,
		logger:   logger,
	}
}

// sendJSONError sends a standardized JSON error response
func (h *APIHandler) sendJSONError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   errorMsg,
		Timestamp: time.Now().Format(time.RFC3339),
		Status:    statusCode,
	}

	json.NewEncoder(w).Encode(errorResponse)
}

// getClientIP extracts the client IP from the request
func (h *APIHandler) getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the list
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to remote address
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// logStructuredRequest logs the request with structured data
func (h *APIHandler) logStructuredRequest(r *http.Request, status int, duration time.Duration, ip string, responseSize int64) {
	h.logger.WithFields(logrus.Fields{
		"method":        r.Method,
		"path":          r.URL.Path,
		"query":         r.URL.RawQuery,
		"status":        status,
		"duration_ms":   duration.Milliseconds(),
		"client_ip":     ip,
		"user_agent":    r.UserAgent(),
		"referer":       r.Referer(),
		"response_size": responseSize,
		"remote_addr":   r.RemoteAddr,
		"host":          r.Host,
	}).Info("request_processed")
}

// middleware wraps handlers with logging and security headers
func (h *APIHandler) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Add security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// CORS headers for cross-origin requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Create a response writer wrapper to capture status and size
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(wrapped, r)

		clientIP := h.getClientIP(r)
		duration := time.Since(startTime)
		h.logStructuredRequest(r, wrapped.statusCode, duration, clientIP, wrapped.size)
	}
}

// responseWriter wraps http.ResponseWriter to capture status and body size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

// ReportHandler runs the fan-out lookup and returns the aggregated report.
// Individual source failures are reported inside the body, not as an HTTP
// error; only a report with no successful source at all is an error.
func (h *APIHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	rep := h.builder.Build(r.Context())

	if !rep.Geo.OK() && !rep.IPv4.OK() && !rep.IPv6.OK() && !rep.Trace.OK() {
		h.sendJSONError(w, http.StatusBadGateway, "all lookup sources failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		h.sendJSONError(w, http.StatusInternalServerError, "Failed to encode JSON response")
		return
	}
}

// DetailHandler returns the full detail record for one IP, including the
// composite abuse score. Wildcards in the IP are sanitized before lookup.
func (h *APIHandler) DetailHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ip := lookup.SanitizeIP(vars["ip"])

	if net.ParseIP(ip) == nil {
		h.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid IP address: %s", vars["ip"]))
		return
	}

	if h.cache != nil {
		if detail, ok := h.cache.Get(ip); ok {
			h.writeDetail(w, detail)
			return
		}
	}

	detail, err := h.detailer.Detail(r.Context(), ip)
	if err != nil {
		h.sendJSONError(w, http.StatusBadGateway, fmt.Sprintf("Failed to get IP detail: %v", err))
		return
	}

	if h.cache != nil {
		h.cache.Set(ip, detail)
	}
	h.writeDetail(w, detail)
}

func (h *APIHandler) writeDetail(w http.ResponseWriter, detail *types.IPDetail) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(detail); err != nil {
		h.sendJSONError(w, http.StatusInternalServerError, "Failed to encode JSON response")
	}
}

// HealthHandler handles health check requests
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// StatsHandler handles cache statistics requests
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{"enabled": false}
	if h.cache != nil {
		stats = h.cache.Stats()
		stats["enabled"] = true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}

// SetupRoutes configures all HTTP routes
func (h *APIHandler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Aggregated report endpoints
	router.HandleFunc("/", h.middleware(h.ReportHandler)).Methods("GET")
	router.HandleFunc("/json", h.middleware(h.ReportHandler)).Methods("GET")
	router.HandleFunc("/json/", h.middleware(h.ReportHandler)).Methods("GET")

	// On-demand detail endpoint
	router.HandleFunc("/detail/{ip}", h.middleware(h.DetailHandler)).Methods("GET")

	// Health check and stats
	router.HandleFunc("/health", h.middleware(h.HealthHandler)).Methods("GET")
	router.HandleFunc("/stats", h.middleware(h.StatsHandler)).Methods("GET")

	// OPTIONS method for CORS
	router.HandleFunc("/{path:.*}", h.middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods("OPTIONS")

	return router
}

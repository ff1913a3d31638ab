package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/peoplecore/flagguard/internal/monitor"
	"github.com/peoplecore/flagguard/internal/rollback"
	"github.com/peoplecore/flagguard/internal/telemetry"
)

// Server exposes the flag health engine over HTTP: a public health report
// and outcome-ingest endpoint, plus admin-protected rollback, restore and
// history operations.
type Server struct {
	monitor     *monitor.Monitor
	adminAPIKey string
}

func NewServer(m *monitor.Monitor, adminKey string) *Server {
	return &Server{monitor: m, adminAPIKey: adminKey}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Timeout(5 * time.Second))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// public: flag health report
	r.Get("/v1/flags/health", s.handleHealthStatus)

	// public: outcome ingest for out-of-process handler layers
	r.Post("/v1/outcomes", s.handleRecordOutcome)

	// admin (protected)
	r.Post("/v1/flags/{key}/rollback", s.authAdmin(s.handleManualRollback))
	r.Post("/v1/flags/{key}/restore", s.authAdmin(s.handleRestore))
	r.Get("/v1/rollbacks", s.authAdmin(s.handleHistory))

	return r
}

// ---- handlers ----

func (s *Server) handleHealthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetHealthStatus())
}

type outcomeRequest struct {
	Flag    string `json:"flag"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Flag) == "" {
		BadRequestError(w, r, ErrCodeMissingField, "flag is required")
		return
	}

	s.monitor.RecordOutcome(req.Flag, req.Success, req.Error)
	w.WriteHeader(http.StatusAccepted)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleManualRollback(w http.ResponseWriter, r *http.Request) {
	flag := chi.URLParam(r, "key")

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		BadRequestError(w, r, ErrCodeMissingField, "reason is required")
		return
	}

	event, err := s.monitor.ManualRollback(r.Context(), flag, req.Reason)
	if err != nil {
		if errors.Is(err, rollback.ErrCooldownActive) {
			ConflictError(w, r, ErrCodeCooldownActive, err.Error())
			return
		}
		writeErrorResponse(w, r, http.StatusInternalServerError,
			NewErrorResponse(http.StatusInternalServerError, ErrCodeRollbackFailed, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, event)
}

type restoreResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Enabled     bool   `json:"enabled"`
	RemainingMs int64  `json:"remainingMs,omitempty"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	flag := chi.URLParam(r, "key")
	force := r.URL.Query().Get("force") == "true"

	res := s.monitor.Restore(r.Context(), flag, force)
	resp := restoreResponse{
		Success:     res.Success,
		Message:     res.Message,
		Enabled:     res.Enabled,
		RemainingMs: res.Remaining.Milliseconds(),
	}
	if !res.Success && res.Remaining > 0 {
		// Active cooldown without force: a refusal, not an error.
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		} else {
			BadRequestError(w, r, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rollbacks": s.monitor.History(limit),
	})
}

// ---- middleware & helpers ----

func (s *Server) authAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if got == "" {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		// constant-time compare
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminAPIKey)) != 1 {
			ForbiddenError(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, errors.New("not positive")
	}
	return n, nil
}

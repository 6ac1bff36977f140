package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gws "github.com/gorilla/websocket"

	"github.com/realm-tycoon/economy-server/internal/auth"
	"github.com/realm-tycoon/economy-server/internal/domain"
	"github.com/realm-tycoon/economy-server/internal/service"
	"github.com/realm-tycoon/economy-server/internal/websocket"
)

const maxBodyBytes = 64 << 10

// ReadinessCheck reports whether backing stores are reachable
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the economy API
type Handler struct {
	service  *service.EconomyService
	signer   *auth.Signer
	hub      *websocket.Hub
	upgrader *gws.Upgrader
	ready    ReadinessCheck
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. hub may be nil when live
// notifications are disabled.
func NewHandler(
	svc *service.EconomyService,
	signer *auth.Signer,
	hub *websocket.Hub,
	upgrader *gws.Upgrader,
	ready ReadinessCheck,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service:  svc,
		signer:   signer,
		hub:      hub,
		upgrader: upgrader,
		ready:    ready,
		logger:   logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(stripQueryToken)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/leaderboard/{category}", h.GetLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware)

			r.Post("/trades", h.CreateTrade)
			r.Post("/trades/accept", h.AcceptTrade)
			r.Get("/trades/pending", h.PendingTrades)

			r.Post("/leaderboard/scores", h.SubmitLeaderboardScore)

			r.Post("/reports", h.ReportSuspiciousActivity)
			r.Post("/players/me/validate", h.ValidatePlayerData)
			r.Get("/inbox", h.GetInbox)
		})

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware binds the request to the player named by its bearer token
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID, err := h.authenticate(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPlayer(r.Context(), playerID)))
	})
}

func (h *Handler) authenticate(r *http.Request) (string, error) {
	return h.verify(auth.BearerToken(r.Header.Get("Authorization")))
}

func (h *Handler) verify(token string) (string, error) {
	if token == "" {
		return "", domain.ErrUnauthenticated
	}
	playerID, err := h.signer.Verify(token)
	if err != nil {
		return "", err
	}
	return playerID, nil
}

type queryTokenKey struct{}

// stripQueryToken moves a ?token= parameter into the request context so it
// never reaches the access log. Only HandleWebSocket reads it back, since
// browsers cannot set headers on a websocket handshake.
func stripQueryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		token := q.Get("token")
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		q.Del("token")
		r = r.Clone(context.WithValue(r.Context(), queryTokenKey{}, token))
		r.URL.RawQuery = q.Encode()
		r.RequestURI = r.URL.RequestURI()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps service errors onto status codes. Unexpected errors
// are reported without detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidCategory):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrFailedPrecondition):
		h.writeError(w, http.StatusPreconditionFailed, err)
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decode reads a size-limited JSON body
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidArgument)
		return false
	}
	return true
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, errors.New("not ready"))
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateTrade handles createTrade
func (h *Handler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTradeRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.CreateTrade(r.Context(), auth.PlayerFromContext(r.Context()), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, resp)
}

// AcceptTrade handles acceptTrade
func (h *Handler) AcceptTrade(w http.ResponseWriter, r *http.Request) {
	var req domain.AcceptTradeRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.AcceptTrade(r.Context(), auth.PlayerFromContext(r.Context()), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, resp)
}

// PendingTrades lists offers addressed to the caller
func (h *Handler) PendingTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.service.PendingTrades(r.Context(), auth.PlayerFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, trades)
}

// SubmitLeaderboardScore handles submitLeaderboardScore
func (h *Handler) SubmitLeaderboardScore(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.SubmitLeaderboardScore(r.Context(), auth.PlayerFromContext(r.Context()), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, resp)
}

// GetLeaderboard returns a category list
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.GetLeaderboard(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, entries)
}

// ReportSuspiciousActivity handles reportSuspiciousActivity
func (h *Handler) ReportSuspiciousActivity(w http.ResponseWriter, r *http.Request) {
	var req domain.ReportRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.ReportSuspiciousActivity(r.Context(), auth.PlayerFromContext(r.Context()), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, resp)
}

// ValidatePlayerData handles validatePlayerData for the caller
func (h *Handler) ValidatePlayerData(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ValidatePlayerData(r.Context(), auth.PlayerFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, resp)
}

// GetInbox returns the caller's inbox
func (h *Handler) GetInbox(w http.ResponseWriter, r *http.Request) {
	inbox, err := h.service.GetInbox(r.Context(), auth.PlayerFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, inbox)
}

// HandleWebSocket authenticates and upgrades a live notification connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token, _ = r.Context().Value(queryTokenKey{}).(string)
	}
	playerID, err := h.verify(token)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}
	websocket.ServeWs(h.hub, h.upgrader, playerID, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"pointsarena/server/internal/ledger"
	"pointsarena/server/internal/logging"
)

// StatusProvider exposes server state required for readiness and stats.
type StatusProvider interface {
	SnapshotCounts() (sessions, rooms int)
	StartupError() error
	Uptime() time.Duration
}

// StatsFunc returns cumulative match and transfer statistics.
type StatsFunc func() (matchesSettled, pointsMoved int64)

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger          *logging.Logger
	Status          StatusProvider
	Stats           StatsFunc
	Ledger          ledger.Store
	AdminToken      string
	RateLimiter     RateLimiter
	StartingBalance int64
	TimeSource      func() time.Time
}

// HandlerSet bundles the arena operational handlers.
type HandlerSet struct {
	logger          *logging.Logger
	status          StatusProvider
	stats           StatsFunc
	ledger          ledger.Store
	adminToken      string
	rateLimiter     RateLimiter
	startingBalance int64
	now             func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:          logger,
		status:          opts.Status,
		stats:           opts.Stats,
		ledger:          opts.Ledger,
		adminToken:      strings.TrimSpace(opts.AdminToken),
		rateLimiter:     opts.RateLimiter,
		startingBalance: opts.StartingBalance,
		now:             now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/stats", h.StatsHandler())
	mux.HandleFunc("/accounts/provision", h.ProvisionHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including session counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
		Rooms         int     `json:"rooms"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.status != nil {
			sessions, rooms := h.status.SnapshotCounts()
			resp.Sessions = sessions
			resp.Rooms = rooms
			resp.UptimeSeconds = h.status.Uptime().Seconds()
			if err := h.status.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// StatsHandler emits cumulative gameplay counters as JSON.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	type response struct {
		Sessions       int   `json:"sessions"`
		Rooms          int   `json:"rooms"`
		MatchesSettled int64 `json:"matches_settled"`
		PointsMoved    int64 `json:"points_moved"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{}
		if h.status != nil {
			resp.Sessions, resp.Rooms = h.status.SnapshotCounts()
		}
		if h.stats != nil {
			resp.MatchesSettled, resp.PointsMoved = h.stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ProvisionHandler creates or tops up an account balance in the ledger. The
// operation is admin-only and rate limited.
func (h *HandlerSet) ProvisionHandler() http.HandlerFunc {
	type request struct {
		AccountID string `json:"account_id"`
		Balance   *int64 `json:"balance,omitempty"`
	}
	type response struct {
		AccountID string `json:"account_id"`
		Balance   int64  `json:"balance"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "provision"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("provision denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("provision denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("provision denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.ledger == nil {
			http.Error(w, "ledger is unavailable", http.StatusServiceUnavailable)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		accountID := strings.TrimSpace(req.AccountID)
		if accountID == "" {
			http.Error(w, "account_id is required", http.StatusBadRequest)
			return
		}

		balance, err := h.ledger.Ensure(r.Context(), accountID, h.startingBalance)
		if err != nil {
			reqLogger.Error("provision failed", logging.Error(err))
			http.Error(w, "ledger error", http.StatusInternalServerError)
			return
		}
		if req.Balance != nil {
			if *req.Balance < 0 {
				http.Error(w, "balance must be non-negative", http.StatusBadRequest)
				return
			}
			if err := h.ledger.SetBalance(r.Context(), accountID, *req.Balance); err != nil {
				reqLogger.Error("provision failed", logging.Error(err))
				http.Error(w, "ledger error", http.StatusInternalServerError)
				return
			}
			balance = *req.Balance
		}
		reqLogger.Info("account provisioned",
			logging.String("account_id", accountID),
			logging.Int64("balance", balance),
		)
		writeJSON(w, http.StatusOK, response{AccountID: accountID, Balance: balance})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimSpace(token)
	if token == "" || h.adminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

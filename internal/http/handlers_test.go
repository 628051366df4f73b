package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pointsarena/server/internal/ledger"
	"pointsarena/server/internal/logging"
)

type fakeStatus struct {
	sessions int
	rooms    int
	err      error
	uptime   time.Duration
}

func (f *fakeStatus) SnapshotCounts() (int, int) { return f.sessions, f.rooms }
func (f *fakeStatus) StartupError() error        { return f.err }
func (f *fakeStatus) Uptime() time.Duration      { return f.uptime }

func TestLivenessHandler(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger()})
	recorder := httptest.NewRecorder()
	handlers.LivenessHandler()(recorder, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["status"] != "alive" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
}

func TestReadinessHandlerReportsCounts(t *testing.T) {
	status := &fakeStatus{sessions: 3, rooms: 2, uptime: 90 * time.Second}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Status: status})
	recorder := httptest.NewRecorder()
	handlers.ReadinessHandler()(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		Sessions int `json:"sessions"`
		Rooms    int `json:"rooms"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body.Sessions != 3 || body.Rooms != 2 {
		t.Fatalf("unexpected counts: %+v", body)
	}
}

func TestStatsHandler(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger: logging.NewTestLogger(),
		Status: &fakeStatus{sessions: 1, rooms: 1},
		Stats:  func() (int64, int64) { return 4, 700 },
	})
	recorder := httptest.NewRecorder()
	handlers.StatsHandler()(recorder, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var body struct {
		MatchesSettled int64 `json:"matches_settled"`
		PointsMoved    int64 `json:"points_moved"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body.MatchesSettled != 4 || body.PointsMoved != 700 {
		t.Fatalf("unexpected stats: %+v", body)
	}
}

func TestProvisionHandlerAuthorisation(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:          logging.NewTestLogger(),
		Ledger:          ledger.NewMemoryStore(),
		AdminToken:      "top-secret",
		StartingBalance: 1000,
	})
	handler := handlers.ProvisionHandler()

	recorder := httptest.NewRecorder()
	handler(recorder, httptest.NewRequest(http.MethodGet, "/accounts/provision", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/accounts/provision", strings.NewReader(`{"account_id":"alice"}`))
	handler(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/accounts/provision", strings.NewReader(`{"account_id":"alice"}`))
	request.Header.Set("Authorization", "Bearer wrong")
	handler(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", recorder.Code)
	}
}

func TestProvisionHandlerCreatesAndOverridesBalance(t *testing.T) {
	store := ledger.NewMemoryStore()
	handlers := NewHandlerSet(Options{
		Logger:          logging.NewTestLogger(),
		Ledger:          store,
		AdminToken:      "top-secret",
		StartingBalance: 1000,
	})
	handler := handlers.ProvisionHandler()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/accounts/provision", strings.NewReader(`{"account_id":"alice","balance":2500}`))
	request.Header.Set("Authorization", "Bearer top-secret")
	handler(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	balance, err := store.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if balance != 2500 {
		t.Fatalf("expected provisioned balance 2500, got %d", balance)
	}
}

func TestProvisionHandlerRateLimit(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := NewSlidingWindowLimiter(time.Minute, 1, func() time.Time { return now })
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Ledger:      ledger.NewMemoryStore(),
		AdminToken:  "top-secret",
		RateLimiter: limiter,
	})
	handler := handlers.ProvisionHandler()

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodPost, "/accounts/provision", strings.NewReader(`{"account_id":"alice"}`))
		request.Header.Set("Authorization", "Bearer top-secret")
		handler(recorder, request)
		if recorder.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, recorder.Code)
		}
	}
}

func TestSlidingWindowLimiterRecovers(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	if !limiter.Allow() || !limiter.Allow() {
		t.Fatalf("first two events must pass")
	}
	if limiter.Allow() {
		t.Fatalf("third event within the window must be rejected")
	}
	now = now.Add(2 * time.Minute)
	if !limiter.Allow() {
		t.Fatalf("event after the window must pass")
	}
}

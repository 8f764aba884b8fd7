package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/deskbot/internal/booking"
	"github.com/example/deskbot/internal/persistence"
	"github.com/example/deskbot/internal/testfixtures"
	"github.com/example/deskbot/internal/worker"
)

type fakeController struct {
	mu        sync.Mutex
	startErr  error
	stopErr   error
	resumeErr error
	snaps     map[string]worker.Snapshot
	started   []string
	stopped   []string
	resumed   []string
}

func (c *fakeController) Start(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, userID)
	return c.startErr
}

func (c *fakeController) Stop(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, userID)
	return c.stopErr
}

func (c *fakeController) Resume(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumed = append(c.resumed, userID)
	return c.resumeErr
}

func (c *fakeController) Status(userID string) (worker.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[userID]
	return snap, ok
}

func (c *fakeController) StatusAll() []worker.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]worker.Snapshot, 0, len(c.snaps))
	for _, snap := range c.snaps {
		out = append(out, snap)
	}
	return out
}

type fakeVault struct {
	mu     sync.Mutex
	err    error
	stored map[string][]byte
}

func (v *fakeVault) Store(_ context.Context, userID string, plaintext []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	if v.stored == nil {
		v.stored = make(map[string][]byte)
	}
	v.stored[userID] = append([]byte(nil), plaintext...)
	return nil
}

type testEnv struct {
	handler    http.Handler
	controller *fakeController
	store      *testfixtures.MemoryStore
	vault      *fakeVault
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	controller := &fakeController{snaps: make(map[string]worker.Snapshot)}
	store := testfixtures.NewMemoryStore()
	vault := &fakeVault{}
	now := func() time.Time { return testfixtures.ReferenceTime() }

	handler := NewRouter(RouterConfig{
		Workers:     NewWorkerHandler(controller, store, nil),
		Configs:     NewConfigHandler(store, nil, now),
		Credentials: NewCredentialHandler(vault, controller, nil),
	})
	return &testEnv{handler: handler, controller: controller, store: store, vault: vault}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return out
}

func validConfig() booking.Config {
	cfg := booking.Config{
		Building:   "LC",
		Floor:      "2",
		DeskPrefix: "2.24",
		Weekdays:   []time.Weekday{time.Wednesday},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestWorkerStart(t *testing.T) {
	t.Parallel()

	t.Run("accepts a start request", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/workers/user-1/start", nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}

		resp := decodeBody[workerActionResponse](t, rec)
		if resp.UserID != "user-1" || resp.Status != "starting" {
			t.Fatalf("response = %+v", resp)
		}
		if len(env.controller.started) != 1 || env.controller.started[0] != "user-1" {
			t.Fatalf("started = %v, want [user-1]", env.controller.started)
		}
	})

	t.Run("reports a running campaign as a conflict", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.controller.startErr = worker.ErrAlreadyRunning

		rec := env.do(t, http.MethodPost, "/workers/user-1/start", nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.ErrorCode != "WORKER_ALREADY_RUNNING" {
			t.Fatalf("error_code = %q, want WORKER_ALREADY_RUNNING", resp.ErrorCode)
		}
	})

	t.Run("rejects a non-POST method", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodGet, "/workers/user-1/start", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
		if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
			t.Fatalf("Allow = %q, want POST", allow)
		}
	})
}

func TestWorkerStop(t *testing.T) {
	t.Parallel()

	t.Run("stops a running campaign", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/workers/user-1/stop", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if len(env.controller.stopped) != 1 || env.controller.stopped[0] != "user-1" {
			t.Fatalf("stopped = %v, want [user-1]", env.controller.stopped)
		}
	})

	t.Run("reports an unknown campaign as not found", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.controller.stopErr = worker.ErrNotRunning

		rec := env.do(t, http.MethodPost, "/workers/ghost/stop", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestWorkerResume(t *testing.T) {
	t.Parallel()

	t.Run("resumes a paused campaign", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/workers/user-1/resume", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if len(env.controller.resumed) != 1 {
			t.Fatalf("resumed = %v, want one entry", env.controller.resumed)
		}
	})

	t.Run("reports a campaign that is not paused as a conflict", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.controller.resumeErr = worker.ErrNotPaused

		rec := env.do(t, http.MethodPost, "/workers/user-1/resume", nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})
}

func TestWorkerStatus(t *testing.T) {
	t.Parallel()

	t.Run("returns the worker snapshot", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.controller.snaps["user-1"] = worker.Snapshot{
			UserID: "user-1",
			Status: worker.StatusRunning,
		}

		rec := env.do(t, http.MethodGet, "/workers/user-1/status", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		snap := decodeBody[worker.Snapshot](t, rec)
		if snap.UserID != "user-1" || snap.Status != worker.StatusRunning {
			t.Fatalf("snapshot = %+v", snap)
		}
	})

	t.Run("reports an unregistered worker as not found", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodGet, "/workers/ghost/status", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestWorkerList(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.controller.snaps["user-1"] = worker.Snapshot{UserID: "user-1", Status: worker.StatusRunning}
	env.controller.snaps["user-2"] = worker.Snapshot{UserID: "user-2", Status: worker.StatusPausedSessionExpired}

	rec := env.do(t, http.MethodGet, "/workers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeBody[listWorkersResponse](t, rec)
	if len(resp.Workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(resp.Workers))
	}
}

func TestWorkerHistory(t *testing.T) {
	t.Parallel()

	t.Run("lists attempts newest first", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		older := testfixtures.NewBookingAttempt(func(a *persistence.BookingAttempt) {
			a.Date = "2025-11-12"
			a.Outcome = persistence.OutcomeFailed
			a.Message = "no candidate could be verified"
		})
		newer := testfixtures.NewBookingAttempt(func(a *persistence.BookingAttempt) {
			a.Date = "2025-11-19"
			a.At = testfixtures.ReferenceTime().Add(time.Hour)
		})
		for _, attempt := range []persistence.BookingAttempt{older, newer} {
			if err := env.store.AppendAttempt(context.Background(), attempt); err != nil {
				t.Fatalf("AppendAttempt: %v", err)
			}
		}

		rec := env.do(t, http.MethodGet, "/workers/user-1/history", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		resp := decodeBody[historyResponse](t, rec)
		if len(resp.Attempts) != 2 {
			t.Fatalf("attempts = %d, want 2", len(resp.Attempts))
		}
		if resp.Attempts[0].Date != "2025-11-19" {
			t.Fatalf("first attempt date = %s, want the newest", resp.Attempts[0].Date)
		}
		if resp.Attempts[1].Outcome != string(persistence.OutcomeFailed) {
			t.Fatalf("second attempt outcome = %s, want failed", resp.Attempts[1].Outcome)
		}
	})

	t.Run("honors the limit query", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		for i := 0; i < 3; i++ {
			attempt := testfixtures.NewBookingAttempt(func(a *persistence.BookingAttempt) {
				a.At = testfixtures.ReferenceTime().Add(time.Duration(i) * time.Minute)
			})
			if err := env.store.AppendAttempt(context.Background(), attempt); err != nil {
				t.Fatalf("AppendAttempt: %v", err)
			}
		}

		rec := env.do(t, http.MethodGet, "/workers/user-1/history?limit=2", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		resp := decodeBody[historyResponse](t, rec)
		if len(resp.Attempts) != 2 {
			t.Fatalf("attempts = %d, want 2", len(resp.Attempts))
		}
	})

	t.Run("rejects a non-positive limit", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodGet, "/workers/user-1/history?limit=0", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestConfigPut(t *testing.T) {
	t.Parallel()

	t.Run("stores a valid config", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPut, "/users/user-1/config", validConfig())
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
		}

		resp := decodeBody[configResponse](t, rec)
		if resp.Config.Building != "LC" {
			t.Fatalf("building = %q, want LC", resp.Config.Building)
		}
		if resp.Config.WaitTimes.Rounds1To5 != 60 {
			t.Fatalf("defaults were not applied: %+v", resp.Config.WaitTimes)
		}

		stored, err := env.store.GetConfig(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("GetConfig: %v", err)
		}
		if !stored.UpdatedAt.Equal(testfixtures.ReferenceTime()) {
			t.Fatalf("updated_at = %v, want the fixed clock", stored.UpdatedAt)
		}
	})

	t.Run("reports validation failures with field errors", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		cfg := validConfig()
		cfg.Building = ""

		rec := env.do(t, http.MethodPut, "/users/user-1/config", cfg)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if _, ok := resp.Errors["building"]; !ok {
			t.Fatalf("errors = %v, want a building entry", resp.Errors)
		}
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPut, "/users/user-1/config", "{not json")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestConfigGet(t *testing.T) {
	t.Parallel()

	t.Run("round-trips a stored config", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		put := env.do(t, http.MethodPut, "/users/user-1/config", validConfig())
		if put.Code != http.StatusOK {
			t.Fatalf("put status = %d, want 200", put.Code)
		}

		rec := env.do(t, http.MethodGet, "/users/user-1/config", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		resp := decodeBody[configResponse](t, rec)
		if resp.Config.DeskPrefix != "2.24" {
			t.Fatalf("desk_prefix = %q, want 2.24", resp.Config.DeskPrefix)
		}
		if len(resp.Config.Weekdays) != 1 || resp.Config.Weekdays[0] != time.Wednesday {
			t.Fatalf("weekdays = %v, want [Wednesday]", resp.Config.Weekdays)
		}
	})

	t.Run("reports a missing config as not found", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodGet, "/users/ghost/config", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestCredentialUpdate(t *testing.T) {
	t.Parallel()

	t.Run("stores the session state and resumes the worker", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		body := map[string]any{
			"session_state": map[string]any{"cookies": []any{}},
		}
		rec := env.do(t, http.MethodPut, "/users/user-1/credential", body)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204; body %s", rec.Code, rec.Body.String())
		}
		if _, ok := env.vault.stored["user-1"]; !ok {
			t.Fatal("the session state was not stored")
		}
		if len(env.controller.resumed) != 1 || env.controller.resumed[0] != "user-1" {
			t.Fatalf("resumed = %v, want [user-1]", env.controller.resumed)
		}
	})

	t.Run("succeeds when no worker is waiting", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.controller.resumeErr = worker.ErrNotRunning

		body := map[string]any{"session_state": map[string]any{"cookies": []any{}}}
		rec := env.do(t, http.MethodPut, "/users/user-1/credential", body)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("rejects an empty payload", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPut, "/users/user-1/credential", map[string]any{})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if !strings.Contains(resp.Message, "session state") {
			t.Fatalf("message = %q, want a session state hint", resp.Message)
		}
	})
}

func TestRouterUnknownPaths(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, path := range []string{"/workers/user-1/unknown", "/users/user-1/unknown", "/users/"} {
		rec := env.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

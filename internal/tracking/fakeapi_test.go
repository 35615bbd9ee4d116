package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/watchtrack/internal/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   []byte
	Auth   string
}

// fakeAPI is a scripted tracking backend.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu              sync.Mutex
	requests        []recordedRequest
	createStatus    int
	heartbeat       models.HeartbeatResult
	heartbeatStatus int
	watchStatus     int
	updateStatus    int
	watch           *models.WatchSession

	// When set, each PATCH /watch-sessions signals entered and waits for gate.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		t:            t,
		createStatus: http.StatusCreated,
		heartbeat:    models.HeartbeatResult{Status: models.HeartbeatActive},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", f.handleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/heartbeat", f.handleHeartbeat)
	mux.HandleFunc("PATCH /sessions/{id}/content-engaged", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeEnvelope(w, http.StatusOK, map[string]bool{"engaged": true})
	})
	mux.HandleFunc("POST /watch-sessions", f.handleCreateWatch)
	mux.HandleFunc("PATCH /watch-sessions/{id}", f.handleUpdateWatch)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) client() *Client {
	return NewClient(f.server.URL, 5*time.Second, nil).
		WithHTTPClient(&http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}})
}

func (f *fakeAPI) record(r *http.Request) []byte {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   body,
		Auth:   r.Header.Get("Authorization"),
	})
	f.mu.Unlock()
	return body
}

func (f *fakeAPI) requestsTo(method, prefix string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Method == method && len(r.Path) >= len(prefix) && r.Path[:len(prefix)] == prefix {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	f.mu.Lock()
	status := f.createStatus
	f.mu.Unlock()
	if status >= 300 {
		writeError(w, status, "create failed")
		return
	}
	writeEnvelope(w, status, map[string]string{"status": "ok"})
}

func (f *fakeAPI) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	f.mu.Lock()
	status, res := f.heartbeatStatus, f.heartbeat
	f.mu.Unlock()
	if status >= 300 {
		writeError(w, status, "heartbeat failed")
		return
	}
	writeEnvelope(w, http.StatusOK, res)
}

func (f *fakeAPI) handleCreateWatch(w http.ResponseWriter, r *http.Request) {
	body := f.record(r)
	f.mu.Lock()
	status := f.watchStatus
	f.mu.Unlock()
	if status >= 300 {
		writeError(w, status, "create watch session failed")
		return
	}
	var req CreateWatchSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec := &models.WatchSession{
		ID:                  uuid.New(),
		VideoID:             req.VideoID,
		IsGuestWatchSession: req.IsGuestWatchSession,
		StartTime:           req.StartTime,
		UserMetadata:        req.UserMetadata,
	}
	f.mu.Lock()
	f.watch = rec
	out := *rec
	f.mu.Unlock()
	writeEnvelope(w, http.StatusCreated, out)
}

func (f *fakeAPI) handleUpdateWatch(w http.ResponseWriter, r *http.Request) {
	body := f.record(r)
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateStatus >= 300 {
		writeError(w, f.updateStatus, "update failed")
		return
	}
	if f.watch == nil || f.watch.ID.String() != r.PathValue("id") {
		writeError(w, http.StatusNotFound, "watch session not found")
		return
	}
	var p models.WatchProgress
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.ActualTimeWatched != nil {
		f.watch.ActualTimeWatched = *p.ActualTimeWatched
	}
	if p.PercentageWatched != nil {
		f.watch.PercentageWatched = *p.PercentageWatched
	}
	if p.EndTime != nil {
		end := *p.EndTime
		f.watch.EndTime = &end
	}
	f.watch.UserEvents = append(f.watch.UserEvents, p.UserEvents...)
	writeEnvelope(w, http.StatusOK, *f.watch)
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// fakeAuth is a scripted AuthState.
type fakeAuth struct {
	mu            sync.Mutex
	has           bool
	authenticated bool
	signOuts      int
	onSignOut     func()
}

func (a *fakeAuth) HasCredentials(context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.has
}

func (a *fakeAuth) Authenticated(context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

func (a *fakeAuth) SignOut(context.Context) error {
	a.mu.Lock()
	a.signOuts++
	a.has, a.authenticated = false, false
	fn := a.onSignOut
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (a *fakeAuth) SignOuts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signOuts
}

type staticSession string

func (s staticSession) SessionID(context.Context) string { return string(s) }

package watchsessions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/watchtrack/internal/auth"
	"github.com/aura-webinar/watchtrack/internal/middleware"
	"github.com/aura-webinar/watchtrack/internal/models"
	"github.com/aura-webinar/watchtrack/pkg/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.WatchSession
	fail    error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uuid.UUID]*models.WatchSession)}
}

func (m *memStore) Create(_ context.Context, w *models.WatchSession) (*models.WatchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	c := *w
	c.ID = uuid.New()
	c.UserEvents = []models.UserEvent{}
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	m.records[c.ID] = &c
	out := c
	return &out, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.WatchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	c := *w
	return &c, nil
}

func (m *memStore) ApplyProgress(_ context.Context, id uuid.UUID, p models.WatchProgress) (*models.WatchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if w.Finalized() {
		return nil, ErrFinalized
	}
	Merge(w, p)
	c := *w
	c.UserEvents = append([]models.UserEvent(nil), w.UserEvents...)
	return &c, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.EngagementPayload
}

func (q *recordingQueue) EnqueueEngagement(_ context.Context, p queue.EngagementPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, p)
	return nil
}

type fixture struct {
	store  *memStore
	jobs   *recordingQueue
	jwt    *auth.JWTService
	router *gin.Engine
}

func newFixture() *fixture {
	f := &fixture{store: newMemStore(), jobs: &recordingQueue{}, jwt: auth.NewJWTService("secret", 1)}
	f.router = gin.New()
	NewHandler(f.store, f.jobs, nil).Register(f.router, middleware.OptionalJWT(f.jwt))
	return f
}

func (f *fixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) models.WatchSession {
	t.Helper()
	var env struct {
		Success bool                `json:"success"`
		Data    models.WatchSession `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.True(t, env.Success, w.Body.String())
	return env.Data
}

const createBody = `{"videoId":"video-1","startTime":"2026-05-01T10:00:00Z","actualTimeWatched":0,
	"percentageWatched":0,"isGuestWatchSession":true,"userMetadata":{"deviceType":"desktop"}}`

func (f *fixture) create(t *testing.T) models.WatchSession {
	t.Helper()
	w := f.do(http.MethodPost, "/watch-sessions", createBody, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)
}

func TestCreate(t *testing.T) {
	f := newFixture()
	ws := f.create(t)
	assert.NotEqual(t, uuid.Nil, ws.ID)
	assert.Equal(t, "video-1", ws.VideoID)
	assert.True(t, ws.IsGuestWatchSession)
	assert.Nil(t, ws.UserID)
	assert.Equal(t, "desktop", ws.UserMetadata.DeviceType)
}

func TestCreate_WithUserAndSession(t *testing.T) {
	f := newFixture()
	uid := uuid.New()
	tok, err := f.jwt.Generate(uid, "v@example.com", models.RoleViewer)
	require.NoError(t, err)
	sid := uuid.New()

	body := `{"videoId":"video-1","startTime":"2026-05-01T10:00:00Z","userSessionId":"` + sid.String() + `"}`
	w := f.do(http.MethodPost, "/watch-sessions", body, tok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ws := decode(t, w)
	require.NotNil(t, ws.UserID)
	assert.Equal(t, uid, *ws.UserID)
	require.NotNil(t, ws.UserSessionID)
	assert.Equal(t, sid, *ws.UserSessionID)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	bodies := []string{
		`{"startTime":"2026-05-01T10:00:00Z"}`,
		`{"videoId":"v"}`,
		`{"videoId":"v","startTime":"2026-05-01T10:00:00Z","percentageWatched":101}`,
		`{"videoId":"v","startTime":"2026-05-01T10:00:00Z","actualTimeWatched":-1}`,
		`{"videoId":"v","startTime":"2026-05-01T10:00:00Z","userSessionId":"nope"}`,
	}
	for _, b := range bodies {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/watch-sessions", b, "").Code, b)
	}
}

func TestCreate_StoreFailure(t *testing.T) {
	f := newFixture()
	f.store.fail = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/watch-sessions", createBody, "").Code)
}

func TestUpdate_AppendsEventsAndOverwritesProgress(t *testing.T) {
	f := newFixture()
	ws := f.create(t)
	path := "/watch-sessions/" + ws.ID.String()

	w := f.do(http.MethodPatch, path, `{"actualTimeWatched":10,"percentageWatched":5,
		"userEvent":[{"event":"play","eventTime":"2026-05-01T10:00:01Z","videoTime":0}]}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPatch, path, `{"actualTimeWatched":20,
		"userEvent":[{"event":"pause","eventTime":"2026-05-01T10:00:21Z","videoTime":20},
		             {"event":"seek","eventTime":"2026-05-01T10:00:22Z","videoTime":90}]}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)

	assert.Equal(t, 20.0, out.ActualTimeWatched)
	assert.Equal(t, 5.0, out.PercentageWatched)
	require.Len(t, out.UserEvents, 3)
	assert.Equal(t, []models.EventType{models.EventPlay, models.EventPause, models.EventSeek},
		[]models.EventType{out.UserEvents[0].Event, out.UserEvents[1].Event, out.UserEvents[2].Event})
	assert.Nil(t, out.EndTime)
	assert.Empty(t, f.jobs.jobs)
}

func TestUpdate_Validation(t *testing.T) {
	f := newFixture()
	ws := f.create(t)
	path := "/watch-sessions/" + ws.ID.String()

	bodies := []string{
		`{"percentageWatched":100.5}`,
		`{"actualTimeWatched":-3}`,
		`{"userEvent":[{"event":"rewind","eventTime":"2026-05-01T10:00:01Z","videoTime":0}]}`,
		`{"userEvent":[{"event":"play","videoTime":0}]}`,
		`not json`,
	}
	for _, b := range bodies {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPatch, path, b, "").Code, b)
	}
	assert.Equal(t, http.StatusOK, f.do(http.MethodPatch, path, `{}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPatch, "/watch-sessions/x", `{}`, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPatch, "/watch-sessions/"+uuid.NewString(), `{}`, "").Code)
}

func TestUpdate_FinalizeEnqueuesAndLocks(t *testing.T) {
	f := newFixture()
	ws := f.create(t)
	path := "/watch-sessions/" + ws.ID.String()

	w := f.do(http.MethodPatch, path, `{"endTime":"2026-05-01T10:30:00Z","actualTimeWatched":1800,"percentageWatched":95}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	require.NotNil(t, out.EndTime)

	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, ws.ID, f.jobs.jobs[0].WatchSessionID)
	assert.Equal(t, "video-1", f.jobs.jobs[0].VideoID)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPatch, path, `{"actualTimeWatched":1900}`, "").Code)
	assert.Len(t, f.jobs.jobs, 1)
}

func TestGet(t *testing.T) {
	f := newFixture()
	ws := f.create(t)

	w := f.do(http.MethodGet, "/watch-sessions/"+ws.ID.String(), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ws.ID, decode(t, w).ID)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/watch-sessions/"+uuid.NewString(), "", "").Code)
}

func TestMerge(t *testing.T) {
	w := &models.WatchSession{ActualTimeWatched: 3, PercentageWatched: 1}
	pct := 50.0
	Merge(w, models.WatchProgress{PercentageWatched: &pct, UserEvents: []models.UserEvent{{Event: models.EventPlay}}})
	assert.Equal(t, 3.0, w.ActualTimeWatched)
	assert.Equal(t, 50.0, w.PercentageWatched)
	assert.Len(t, w.UserEvents, 1)
	assert.Nil(t, w.EndTime)
}

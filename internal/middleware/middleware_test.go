package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-webinar/watchtrack/internal/auth"
	"github.com/aura-webinar/watchtrack/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/whoami", func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.String(http.StatusOK, "guest")
			return
		}
		c.String(http.StatusOK, id.String()+":"+string(Role(c)))
	})
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	id := uuid.New()
	tok, err := svc.Generate(id, "a@example.com", models.RoleViewer)
	require.NoError(t, err)
	r := newRouter(JWT(svc))

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "garbage").Code)

	w := get(r, tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String()+":viewer", w.Body.String())
}

func TestOptionalJWT(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	id := uuid.New()
	tok, err := svc.Generate(id, "a@example.com", models.RoleAdmin)
	require.NoError(t, err)
	r := newRouter(OptionalJWT(svc))

	assert.Equal(t, "guest", get(r, "").Body.String())
	assert.Equal(t, "guest", get(r, "stale").Body.String())
	assert.Equal(t, id.String()+":admin", get(r, tok).Body.String())
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	admin, _ := svc.Generate(uuid.New(), "admin@example.com", models.RoleAdmin)
	viewer, _ := svc.Generate(uuid.New(), "viewer@example.com", models.RoleViewer)

	r := newRouter(OptionalJWT(svc), RequireRole(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusForbidden, get(r, viewer).Code)
	assert.Equal(t, http.StatusOK, get(r, admin).Code)
}

func TestCORS(t *testing.T) {
	r := newRouter(CORS("http://player.example"))

	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "http://player.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://player.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORS_Wildcard(t *testing.T) {
	r := newRouter(CORS(" * "))

	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "http://any.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Empty(t, w.Header().Get("Vary"))
}

func TestParseOrigins(t *testing.T) {
	set := parseOrigins("http://a.example/, http://b.example,,")
	assert.Len(t, set, 2)
	assert.Equal(t, "http://a.example", set.match("http://a.example"))
	assert.Equal(t, "", set.match(""))
	assert.Equal(t, "", set.match("http://c.example"))
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := newRouter(Logger(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	get(r, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "/boom", entries[1].ContextMap()["route"])
}

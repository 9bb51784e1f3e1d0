package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	midsec "PRelay/middleware/security"
	"PRelay/tools/errs"
)

func init() { gin.SetMode(gin.TestMode) }

func do(h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestOriginAllowList(t *testing.T) {
	l := NewOriginAllowList([]string{"https://App.example/", " ", "http://localhost:8081"})
	assert.True(t, l.Allowed("https://app.example"))
	assert.True(t, l.Allowed("http://localhost:8081/"))
	assert.False(t, l.Allowed("https://evil.example"))

	r := httptest.NewRequest(http.MethodGet, "/socket", nil)
	assert.True(t, l.CheckOrigin(r), "no Origin header")
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, l.CheckOrigin(r))

	l.Set([]string{"*"})
	assert.True(t, l.CheckOrigin(r))
}

func TestOriginMiddleware(t *testing.T) {
	e := gin.New()
	e.Use(Origin(NewOriginAllowList([]string{"https://app.example"})))
	e.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	e.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := do(e, http.MethodGet, "/x", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = do(e, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(e, http.MethodOptions, "/x", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")

	w = do(e, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginWildcardOmitsCredentials(t *testing.T) {
	l := NewOriginAllowList([]string{"*"})
	assert.True(t, l.AllowsAny())
	e := gin.New()
	e.Use(Origin(l))
	e.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(e, http.MethodGet, "/x", map[string]string{"Origin": "https://anyone.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://anyone.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestManagerStopsAtAbort(t *testing.T) {
	m := NewManager()
	var order []string
	m.Add(func(c *gin.Context) { order = append(order, "a") })
	m.Add(func(c *gin.Context) { order = append(order, "b"); c.AbortWithStatus(http.StatusTeapot) })
	m.Add(func(c *gin.Context) { order = append(order, "c") })

	e := gin.New()
	e.Use(m.Use())
	e.GET("/x", func(c *gin.Context) { order = append(order, "handler") })

	w := do(e, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"a", "b"}, order)

	m.Clear()
	order = nil
	w = do(e, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"handler"}, order)
}

func TestRecovery(t *testing.T) {
	e := gin.New()
	e.Use(Recovery(zap.NewNop()))
	e.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(e, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouteAuth(t *testing.T) {
	auth := midsec.DefaultOptions(func(tok string) (string, error) {
		if tok == "good" {
			return "alice", nil
		}
		return "", errs.ErrTokenInvalid.Wrap()
	})
	e := gin.New()
	GET(e, "/open", func(c *gin.Context) { c.Status(http.StatusOK) }, RouteOpt{})
	GET(e, "/closed", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(midsec.CtxUserKey)) }, RouteOpt{IsAuth: true, Auth: auth})
	POST(e, "/closed", func(c *gin.Context) { c.Status(http.StatusCreated) }, RouteOpt{IsAuth: true, Auth: auth})

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/open", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/closed", nil).Code)

	w := do(e, http.MethodGet, "/closed", map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/closed", map[string]string{"X-Relay-Token": "good"}).Code)
}

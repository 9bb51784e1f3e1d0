package security

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PRelay/tools/errs"
)

func TestBearerToken(t *testing.T) {
	opts := DefaultOptions(nil)
	tests := []struct {
		name string
		hdr  map[string]string
		want string
	}{
		{name: "none", want: ""},
		{name: "custom header", hdr: map[string]string{"X-Relay-Token": " t1 "}, want: "t1"},
		{name: "bearer", hdr: map[string]string{"Authorization": "Bearer t2"}, want: "t2"},
		{name: "bearer lower case", hdr: map[string]string{"Authorization": "bearer t3"}, want: "t3"},
		{name: "basic ignored", hdr: map[string]string{"Authorization": "Basic abc"}, want: ""},
		{name: "header wins", hdr: map[string]string{"X-Relay-Token": "a", "Authorization": "Bearer b"}, want: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.hdr {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, BearerToken(r, opts))
		})
	}

	opts.EnableAuthorizationBearer = false
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer t2")
	assert.Empty(t, BearerToken(r, opts))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verify := func(tok string) (string, error) {
		if tok == "good" {
			return "alice", nil
		}
		return "", errors.New("bad")
	}
	run := func(opts *Options, hdr string) (*httptest.ResponseRecorder, string) {
		var sub string
		e := gin.New()
		e.GET("/", Middleware(opts), func(c *gin.Context) { sub = c.GetString(CtxUserKey) })
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			r.Header.Set("Authorization", "Bearer "+hdr)
		}
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)
		return w, sub
	}

	w, sub := run(DefaultOptions(verify), "good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", sub)

	w, _ = run(DefaultOptions(verify), "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body errs.CodeError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errs.ErrTokenMissing.Code, body.Code)

	w, _ = run(DefaultOptions(verify), "bad")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errs.ErrTokenInvalid.Code, body.Code)

	w, _ = run(nil, "good")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

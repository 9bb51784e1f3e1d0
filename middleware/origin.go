package middleware

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// OriginAllowList holds the browser origins allowed to reach the relay. The
// list can be swapped at runtime when remote config changes.
type OriginAllowList struct {
	v atomic.Pointer[originSet]
}

type originSet struct {
	any  bool
	list map[string]struct{}
}

func NewOriginAllowList(origins []string) *OriginAllowList {
	l := &OriginAllowList{}
	l.Set(origins)
	return l
}

// Set replaces the list. "*" allows every origin.
func (l *OriginAllowList) Set(origins []string) {
	s := &originSet{list: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			s.any = true
		}
		s.list[strings.ToLower(o)] = struct{}{}
	}
	l.v.Store(s)
}

// AllowsAny reports whether the list holds "*".
func (l *OriginAllowList) AllowsAny() bool { return l.v.Load().any }

func (l *OriginAllowList) Allowed(origin string) bool {
	s := l.v.Load()
	if s.any {
		return true
	}
	_, ok := s.list[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

// CheckOrigin fits websocket.Upgrader. Non-browser clients send no Origin
// and are let through.
func (l *OriginAllowList) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return l.Allowed(origin)
}

// Origin answers CORS for allowed origins and rejects the rest with 403.
func Origin(l *OriginAllowList) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !l.Allowed(origin) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		if !l.AllowsAny() {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-Id")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

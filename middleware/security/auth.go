package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"PRelay/tools/errs"
)

// CtxUserKey holds the verified subject for handlers behind Middleware.
const CtxUserKey = "userId"

type Options struct {
	HeaderToken               string // checked before Authorization
	EnableAuthorizationBearer bool
	// Verify returns the token subject or an error.
	Verify func(token string) (string, error)
}

func DefaultOptions(verify func(string) (string, error)) *Options {
	return &Options{
		HeaderToken:               "X-Relay-Token",
		EnableAuthorizationBearer: true,
		Verify:                    verify,
	}
}

// BearerToken reads the token from opts.HeaderToken or "Authorization: Bearer".
func BearerToken(r *http.Request, opts *Options) string {
	token := strings.TrimSpace(r.Header.Get(opts.HeaderToken))
	if token == "" && opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(r.Header.Get("Authorization")); len(authz) > 7 &&
			strings.EqualFold(authz[:7], "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	return token
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil || opts.Verify == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuth)
		}
	}
	return func(c *gin.Context) {
		token := BearerToken(c.Request, opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenMissing)
			return
		}
		sub, err := opts.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}
		c.Set(CtxUserKey, sub)
		c.Next()
	}
}

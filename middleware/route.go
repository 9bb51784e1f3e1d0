package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "PRelay/middleware/security"
)

type RouteOpt struct {
	IsAuth bool
	Auth   *midsec.Options
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.GET(path, midsec.Middleware(opt.Auth), handler)
		return
	}
	r.GET(path, handler)
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.POST(path, midsec.Middleware(opt.Auth), handler)
		return
	}
	r.POST(path, handler)
}

package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"PRelay/middleware"
	midsec "PRelay/middleware/security"
	"PRelay/tools/errs"
	"PRelay/tools/ids"
)

type Options struct {
	Port       int
	SocketPath string
	Client     ClientConf
	Relay      Relay
	Identifier Identifier // nil trusts handshake metadata
	Origins    *middleware.OriginAllowList
	// StatsAuth protects /stats when set.
	StatsAuth *midsec.Options
	Gatherer  prometheus.Gatherer
	IDs       *ids.Generator
	Logger    *zap.Logger
}

// Server is the HTTP front of the relay: the WebSocket endpoint plus the
// health, stats and metrics routes.
type Server struct {
	relay      Relay
	ident      Identifier
	origins    *middleware.OriginAllowList
	upgrader   websocket.Upgrader
	clientConf ClientConf
	ids        *ids.Generator
	mids       *middleware.MiddlewareManager
	log        *zap.Logger

	engine *gin.Engine
	http   *http.Server
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Identifier == nil {
		opts.Identifier = QueryIdentifier{}
	}
	if opts.Origins == nil {
		opts.Origins = middleware.NewOriginAllowList([]string{"*"})
	}
	if opts.IDs == nil {
		opts.IDs = ids.NewGenerator(1)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.SocketPath == "" {
		opts.SocketPath = "/socket"
	}

	s := &Server{
		relay:      opts.Relay,
		ident:      opts.Identifier,
		origins:    opts.Origins,
		upgrader:   newUpgrader(opts.Origins.CheckOrigin),
		clientConf: opts.Client,
		ids:        opts.IDs,
		mids:       middleware.NewManager(),
		log:        opts.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.RequestLog(s.log), s.mids.Use())

	r.GET(opts.SocketPath, s.HandleWS)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := r.Group("/", middleware.Origin(s.origins))
	middleware.GET(api, "/stats", s.handleStats, middleware.RouteOpt{
		IsAuth: opts.StatsAuth != nil,
		Auth:   opts.StatsAuth,
	})
	// preflight carries no credentials; Origin answers it
	api.OPTIONS("/stats", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	s.engine = r
	s.http = &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(opts.Port)),
		Handler: r,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Middlewares lets callers add handlers after construction.
func (s *Server) Middlewares() *middleware.MiddlewareManager { return s.mids }

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Stats())
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info("http listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errs.ErrTransport.WrapMsg("http listen", "addr", s.http.Addr, "err", err)
	}
	return nil
}

// Shutdown stops accepting connections. Upgraded sockets are hijacked and are
// closed by the hub, not here.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

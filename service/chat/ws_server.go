package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"PRelay/tools/errs"
	"PRelay/tools/safe"
)

func newUpgrader(checkOrigin func(*http.Request) bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}
}

// HandleWS identifies the caller, upgrades, hands the connection to the relay
// and runs the read loop until the socket closes.
func (s *Server) HandleWS(c *gin.Context) {
	userID, err := s.ident.Identify(c.Request)
	if err != nil {
		s.log.Info("handshake rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errs.NewCodeError(errs.Code(err), "unauthorized"))
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.log.Info("upgrade failed", zap.String("remote", c.ClientIP()),
			zap.String("origin", c.GetHeader("Origin")), zap.Error(err))
		return
	}

	cl := NewClient(s.ids.NextString(), userID, ws, s.clientConf, s.log)
	if err := s.relay.Connect(cl, userID); err != nil {
		s.log.Warn("relay refused connection", zap.String("connectionId", cl.ConnID), zap.Error(err))
		_ = ws.Close()
		return
	}
	safe.Go("ws-write", cl.writePump)
	cl.readPump(s.relay)
}

// Package admin serves the daemon's HTTP surface: health, live connections, prometheus
// metrics and the WebSocket ingress into the listener.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/binlink/internal/auth"
	"github.com/danmuck/binlink/internal/link"
	"github.com/danmuck/binlink/internal/listener"
	logs "github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/transport"
)

const version = "0.1.0"

// Server is the admin router bound to one listener.
type Server struct {
	node     string
	listener *listener.Listener
	router   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time
	// OpenFiles reports in-progress file transfers, if the daemon stores them.
	OpenFiles func() int
	// Tokens guards the ping and close routes. Nil leaves them open.
	Tokens auth.Validator
}

func New(node string, l *listener.Listener) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logs.Named("admin")))
	r.Use(observability.RequestMetricsMiddleware(node))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		node:     node,
		listener: l,
		router:   r,
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.node,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		addr := s.listener.Addr()
		if addr == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true, "addr": addr.String()})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/connections", func(c *gin.Context) {
		conns := s.listener.Conns()
		stats := make([]link.Stats, 0, len(conns))
		for _, conn := range conns {
			stats = append(stats, conn.Stats())
		}
		body := gin.H{"connections": stats, "count": len(stats)}
		if s.OpenFiles != nil {
			body["open_files"] = s.OpenFiles()
		}
		c.JSON(http.StatusOK, body)
	})

	s.router.GET("/connections/:id", func(c *gin.Context) {
		conn, ok := s.lookup(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, conn.Stats())
	})

	s.router.POST("/connections/:id/ping", s.authorize, func(c *gin.Context) {
		conn, ok := s.lookup(c)
		if !ok {
			return
		}
		if err := conn.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent", "last_rtt": conn.LastRTT().String()})
	})

	s.router.DELETE("/connections/:id", s.authorize, func(c *gin.Context) {
		conn, ok := s.lookup(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := conn.Shutdown(ctx); err != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "closed", "conn": conn.Name()})
	})

	s.router.GET("/ws", s.serveWebSocket)
}

func (s *Server) authorize(c *gin.Context) {
	auth.Middleware(s.Tokens)(c)
}

func (s *Server) lookup(c *gin.Context) (*link.Conn, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return nil, false
	}
	conn, ok := s.listener.Conn(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return nil, false
	}
	return conn, true
}

// serveWebSocket upgrades and hands the socket to the listener; the link owns it from then on.
func (s *Server) serveWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Warnf("admin.serveWebSocket upgrade remote=%q err=%v", c.ClientIP(), err)
		return
	}
	conn, err := s.listener.ServeConn(transport.NewWebSocketConn(ws))
	if err != nil {
		logs.Warnf("admin.serveWebSocket serve remote=%q err=%v", c.ClientIP(), err)
		_ = ws.Close()
		return
	}
	logs.Debugf("admin.serveWebSocket conn=%q remote=%q", conn.Name(), c.ClientIP())
}

// Run serves on addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	logs.Infof("admin.Run listening addr=%q", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

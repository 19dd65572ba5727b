// Package relay is the broadcast relay: a topic-keyed WebSocket fan-out with
// no knowledge of sessions, participants or message contents.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/1ureka/meshcall/internal/util"
)

// DefaultTopic is the topic POST /sessions publishes to.
const DefaultTopic = "session_channel"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by originFilter.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options configures a relay Server.
type Options struct {
	Addr string

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string

	// Bridge is optional; without it fan-out is local to this process.
	Bridge *RedisBridge
}

// Server is the relay. Start must be called before serving Handler.
type Server struct {
	opts   Options
	hub    *hub
	router *gin.Engine
	done   chan struct{}
	ctx    context.Context
}

// NewServer builds the router:
//
//	GET  /health       liveness and hub counters
//	GET  /ws/:topic    subscribe and publish on topic
//	POST /sessions     publish the request body on DefaultTopic
func NewServer(opts Options) *Server {
	s := &Server{
		opts: opts,
		hub:  newHub(),
		done: make(chan struct{}),
		ctx:  context.Background(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(originFilter(opts.AllowedOrigins))

	router.GET("/health", s.handleHealth)
	router.GET("/ws/:topic", s.handleWS)
	router.POST("/sessions", s.handleSessions)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub (and the redis bridge, if any) until ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.ctx = ctx
	go func() {
		<-ctx.Done()
		close(s.done)
	}()
	go s.hub.run(s.done)

	if s.opts.Bridge != nil {
		go func() {
			if err := s.opts.Bridge.run(ctx, s.fanOut); err != nil {
				util.LogError("redis bridge stopped: %v", err)
			}
		}()
	}
}

// Run starts the hub and serves HTTP on opts.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

	srv := &http.Server{Addr: s.opts.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	util.LogSuccess("relay listening on %s", s.opts.Addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Stats returns the hub counters, or zero once the hub has stopped.
func (s *Server) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case s.hub.stats <- reply:
	case <-s.done:
		return Stats{}
	}
	select {
	case st := <-reply:
		return st
	case <-s.done:
		return Stats{}
	}
}

// publish routes a message through redis when bridged, else straight to the
// local hub.
func (s *Server) publish(topic string, data []byte) {
	if s.opts.Bridge != nil {
		if err := s.opts.Bridge.publish(s.ctx, topic, data); err != nil {
			util.LogWarning("redis publish on %s failed: %v", topic, err)
		}
		return
	}
	s.fanOut(topic, data)
}

func (s *Server) fanOut(topic string, data []byte) {
	select {
	case s.hub.broadcast <- publication{topic: topic, data: data}:
	case <-s.done:
	}
}

func (s *Server) join(c *client) bool {
	select {
	case s.hub.register <- c:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) leave(c *client) {
	select {
	case s.hub.unregister <- c:
	case <-s.done:
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(c *gin.Context) {
	st := s.Stats()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "topics": st.Topics, "clients": st.Clients})
}

func (s *Server) handleWS(c *gin.Context) {
	topic := c.Param("topic")
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarning("failed to upgrade connection: %v", err)
		return
	}

	cl := &client{
		server: s,
		topic:  topic,
		remote: conn.RemoteAddr().String(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
	if !s.join(cl) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump()
}

func (s *Server) handleSessions(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > maxMessageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "message too large"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be JSON"})
		return
	}

	s.publish(DefaultTopic, body)
	c.Status(http.StatusNoContent)
}

// originFilter rejects browser requests from origins not in allowed. An
// empty list allows everything; requests without an Origin always pass.
func originFilter(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		ok := slices.Contains(allowed, origin)

		if !ok && origin != "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
			return
		}

		if ok {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// Native clients send no Origin; access is decided by the token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter exposes the hub over HTTP: /health and the /ws signaling socket.
func NewRouter(h *Hub, secret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(h.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", Authenticate(secret), h.serveWS)
	return r
}

func (h *Hub) serveWS(c *gin.Context) {
	id := c.GetString(participantKey)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "participant", id, "error", err)
		return
	}

	client := newClient(h, id, conn)
	if !h.join(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func requestLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Serve runs the relay on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, secret string, logger *slog.Logger) error {
	hub := NewHub(logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(hub, secret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	hub.log.Info("relay listening", "addr", addr, "auth", secret != "")

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopHub()
	return srv.Shutdown(shutdownCtx)
}

package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/external/transport/ws"
	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/broadcomms/brainstormx-transcribe/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const adminKeyHeader = "X-Admin-Key"

// SessionLister is the part of the session registry the admin API reads.
type SessionLister interface {
	Snapshot() []session.SessionInfo
}

// Options carries everything the router serves. Tokens, Rooms and
// Transcripts are optional; their endpoints answer 503 when unset.
type Options struct {
	Development bool
	AdminAPIKey string
	Gateway     http.Handler
	Sessions    SessionLister
	Gatherer    prometheus.Gatherer
	Tokens      *ws.Tokens
	Rooms       room.Controller
	Transcripts repository.TranscriptReader
}

// NewRouter builds the gin engine serving the websocket gateway, health,
// metrics and the admin API.
func NewRouter(opts Options) *gin.Engine {
	if opts.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", adminKeyHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	if opts.Gateway != nil {
		engine.GET("/ws", gin.WrapH(opts.Gateway))
	}

	h := &adminHandler{
		sessions:    opts.Sessions,
		tokens:      opts.Tokens,
		rooms:       opts.Rooms,
		transcripts: opts.Transcripts,
	}
	admin := engine.Group("/admin")
	admin.Use(adminKeyMiddleware(opts.AdminAPIKey))
	admin.GET("/sessions", h.listSessions)
	admin.POST("/tokens", h.issueToken)
	admin.PUT("/rooms/:room/narration", h.setNarration)
	admin.PUT("/rooms/:room/participants/:participant", h.addParticipant)
	admin.DELETE("/rooms/:room/participants/:participant", h.removeParticipant)
	admin.GET("/rooms/:room/utterances", h.listUtterances)

	return engine
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			return
		}
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// adminKeyMiddleware is a no-op when no key is configured.
func adminKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key != "" && c.GetHeader(adminKeyHeader) != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		c.Next()
	}
}

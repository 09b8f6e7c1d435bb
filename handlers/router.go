package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"portfolio-agent/logger"
	"portfolio-agent/metrics"
)

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	Turns        Processor
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
	CORSOrigins  []string
	MaxBodyBytes int64
	Greeting     string
}

// SetupRouter builds the gin engine with every route mounted
func SetupRouter(rc RouterConfig) *gin.Engine {
	log := rc.Logger
	if log == nil {
		log = logger.Nop()
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("recovered from panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}))
	router.Use(log.Middleware())
	if rc.Metrics != nil {
		router.Use(rc.Metrics.Middleware())
	}
	router.Use(cors.New(corsConfig(rc.CORSOrigins)))
	if rc.MaxBodyBytes > 0 {
		router.Use(limitBody(rc.MaxBodyBytes))
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if rc.Metrics != nil {
		router.GET("/metrics", gin.WrapH(rc.Metrics.Handler()))
	}

	chat := NewChatHandler(rc.Turns, log)
	ws := NewWSHandler(rc.Turns, rc.CORSOrigins, rc.MaxBodyBytes, log)
	ws.Greeting = rc.Greeting

	api := router.Group("/api")
	{
		api.POST("/chat/text", chat.TextChat)
		api.POST("/chat/audio", chat.AudioChat)
		api.POST("/chat/reset", chat.Reset)
		api.GET("/chat/transcript", chat.Transcript)
		api.GET("/chat/ws", ws.Serve)

		// Widget endpoint
		api.POST("/agno_chat", chat.AgentChat)
	}

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", SessionHeader},
		ExposeHeaders: []string{"Content-Length", SessionHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

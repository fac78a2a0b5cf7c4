package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	p := opts.Provider

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := router.Group("/api")
	api.GET("/status", handleStatus(p))
	api.POST("/connect", handleConnect(p))
	api.POST("/disconnect", handleDisconnect(p))
	api.GET("/events", handleSSE(p))

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
}

func handleStatus(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"time":  time.Now().UTC().Format(time.RFC3339),
			"state": p.Snapshot(),
		})
	}
}

func handleConnect(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		p.Connect()
		c.JSON(http.StatusAccepted, gin.H{"requested": "connect"})
	}
}

func handleDisconnect(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		p.Disconnect()
		c.JSON(http.StatusOK, gin.H{"requested": "disconnect"})
	}
}

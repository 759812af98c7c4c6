package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/council/internal/http/handler"
	"basegraph.app/council/internal/service"
)

type RouterConfig struct {
	Deliberations   service.DeliberationService
	Metrics         http.Handler
	TraceHeaderName string
	StreamPoll      time.Duration
}

func SetupRoutes(router *gin.Engine, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	deliberationHandler := handler.NewDeliberationHandler(cfg.Deliberations, cfg.TraceHeaderName)
	streamHandler := handler.NewStatusStreamHandler(cfg.Deliberations, cfg.StreamPoll)
	DeliberationRouter(router.Group("/deliberations"), deliberationHandler, streamHandler)
}

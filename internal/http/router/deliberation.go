package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/council/internal/http/handler"
)

func DeliberationRouter(rg *gin.RouterGroup, h *handler.DeliberationHandler, stream *handler.StatusStreamHandler) {
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
	rg.GET("/:id/events", stream.Stream)
}

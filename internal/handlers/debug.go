package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classchat-service/internal/presence"
	"classchat-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, tracker *presence.Tracker, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/typing/:group_id", func(c *gin.Context) {
		if tracker == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence tracker not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"typing": tracker.Active(c.Param("group_id"))})
	})
}

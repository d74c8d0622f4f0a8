package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mailriver/mailriver/interfaces"
)

var startedAt = time.Now().UTC()

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status reports process uptime and the global kill switch position.
func Status(control interfaces.SyncControlRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		killSwitch, err := control.GetKillSwitch(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "control store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"uptimeSeconds": int64(time.Since(startedAt).Seconds()),
			"killSwitch":    killSwitch,
		})
	}
}

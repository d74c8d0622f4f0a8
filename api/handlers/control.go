package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/tracing"
	syncsvc "github.com/mailriver/mailriver/services/sync"
)

type killSwitchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetKillSwitch flips the global sync kill switch. Running cycles observe it
// at their next page boundary.
func SetKillSwitch(control interfaces.SyncControlRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SetKillSwitch", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req killSwitchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := control.SetKillSwitch(ctx, *req.Enabled); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "kill switch updated", "enabled": *req.Enabled})
	}
}

// GetKillSwitch reports the current switch state.
func GetKillSwitch(control interfaces.SyncControlRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetKillSwitch", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		enabled, err := control.GetKillSwitch(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": enabled})
	}
}

// EmergencyStop throws the kill switch and disables every account.
func EmergencyStop(guard *syncsvc.QuotaGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "EmergencyStop", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		disabled, err := guard.EmergencyStop(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "emergency stop executed", "accountsDisabled": disabled})
	}
}

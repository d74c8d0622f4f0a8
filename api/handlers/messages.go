package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/enum"
	"github.com/mailriver/mailriver/internal/tracing"
	"github.com/mailriver/mailriver/services/cache"
	"github.com/mailriver/mailriver/services/provider"
)

// ListMessages pages through an account's index entries.
func ListMessages(index interfaces.MessageIndexRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListMessages", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		accountID := c.Param("id")
		filter := interfaces.MessageFilter{
			Folder: c.Query("folder"),
		}
		if direction := c.Query("direction"); direction != "" {
			filter.Direction = enum.MessageDirection(direction)
		}
		if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
			filter.Limit = limit
		}
		if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
			filter.Offset = offset
		}

		entries, total, err := index.List(ctx, accountID, filter)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"messages": entries,
			"total":    total,
			"limit":    filter.Limit,
			"offset":   filter.Offset,
		})
	}
}

// GetMessage returns one index entry by its internal id.
func GetMessage(index interfaces.MessageIndexRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetMessage", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		entry, err := index.GetByID(ctx, c.Param("messageId"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entry == nil || entry.AccountID != c.Param("id") {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

// GetMessageBody serves the full body, filling the content cache on a miss.
func GetMessageBody(index interfaces.MessageIndexRepository, contentCache *cache.ContentCacheService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetMessageBody", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		entry, err := index.GetByID(ctx, c.Param("messageId"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entry == nil || entry.AccountID != c.Param("id") {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}

		body, err := contentCache.GetBody(ctx, entry.AccountID, entry.ProviderMessageID)
		if err != nil {
			tracing.TraceErr(span, err)
			if provider.IsNotFound(err) {
				c.JSON(http.StatusGone, gin.H{"error": "message no longer exists at the provider"})
				return
			}
			if retryAfter, ok := provider.IsRateLimited(err); ok {
				c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "provider rate limited"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"messageId": entry.ID,
			"text":      body.Text,
			"html":      body.HTML,
			"size":      body.Size,
		})
	}
}

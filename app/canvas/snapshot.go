// Package canvas contains the read endpoints for canvas state
package canvas

import (
	"bitwise74/canvas-api/internal"
	"bitwise74/canvas-api/internal/snapshot"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Snapshot serves the binary canvas state. ?since= is the action-log
// cursor from a previous snapshot header; zero, missing or garbage
// falls back to a full snapshot.
func Snapshot(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	since, err := strconv.ParseInt(c.Query("since"), 10, 64)
	if err != nil {
		since = 0
	}

	snap, err := d.Builder.Build(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to build snapshot", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	buf, err := snapshot.Encode(snap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to encode snapshot", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/octet-stream", buf)
}

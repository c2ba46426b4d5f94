package canvas

import (
	"bitwise74/canvas-api/internal"
	"bitwise74/canvas-api/internal/model"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Status reports aggregate counters for dashboards.
func Status(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	totalActions, err := d.Store.ActionCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to count actions", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	var totalUsers int64
	if err := d.DB.Model(model.UserSession{}).Count(&totalUsers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to count sessions", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	online, err := d.Presence.Count(c.Request.Context())
	if err != nil {
		// Registry down, report this instance only
		online = d.Hub.LocalCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"status": true,
		"data": gin.H{
			"totalActions":  totalActions,
			"totalUsers":    totalUsers,
			"onlineClients": online,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		},
	})
}

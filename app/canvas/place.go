package canvas

import (
	"bitwise74/canvas-api/internal"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Place is the JSON fallback for clients that can't parse the binary
// snapshot. Same data, bigger body.
func Place(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	snap, err := d.Builder.Build(0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to build canvas state", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": true,
		"data": gin.H{
			"points":      snap.Points,
			"colors":      snap.Palette,
			"delay":       snap.Delay,
			"actionCount": snap.ActionCount,
		},
	})
}

// Config exposes the runtime values clients need before connecting.
func Config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"canvasWidth":  viper.GetInt("canvas.width"),
		"canvasHeight": viper.GetInt("canvas.height"),
		"maxPoints":    viper.GetInt("draw.max_points"),
		"delayMs":      viper.GetInt("draw.delay_ms"),
	})
}

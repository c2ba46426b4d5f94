// Package session contains the token exchange endpoint
package session

import (
	"bitwise74/canvas-api/internal"
	s "bitwise74/canvas-api/internal/session"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type exchangeBody struct {
	// Token is the identity provider's token, called externalToken on
	// older clients
	Token         string `json:"token"`
	ExternalToken string `json:"externalToken"`
}

// Exchange trades an external identity token for a draw token. The
// identity check itself happens at the provider, this endpoint only
// persists the resulting session.
func Exchange(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	var data exchangeBody
	if err := c.ShouldBind(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		})
		return
	}

	external := data.Token
	if external == "" {
		external = data.ExternalToken
	}
	if external == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Token is required",
			"requestID": requestID,
		})
		return
	}

	identity, err := d.Resolver.ResolveIdentity(c.Request.Context(), external)
	if err != nil {
		if errors.Is(err, s.ErrExternalToken) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":     "Invalid identity token",
				"requestID": requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Identity resolution failed", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	token, retryAfter, err := d.Sessions.Exchange(c.Request.Context(), identity)
	if err != nil {
		if errors.Is(err, s.ErrReissueTooSoon) {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Token creation too frequent. Please wait before trying again.",
				"retryAfter": retryAfter,
				"requestID":  requestID,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Session exchange failed", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

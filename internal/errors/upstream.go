package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithUpstream mirrors a failed upstream status to the client and aborts the request.
// Statuses outside the 4xx/5xx range are reported as 502 Bad Gateway.
func AbortWithUpstream(c *gin.Context, status int, message string, details map[string]interface{}) {
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusBadGateway
	}
	c.AbortWithStatusJSON(status, NewAPIError(message, details))
}

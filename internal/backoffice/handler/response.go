package handler

import (
	apihandler "github.com/evetabi/managedwealth/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard admin response helpers (mirrors internal/api/handler/response.go)
// ──────────────────────────────────────────────────────────────────────────────

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondServiceError uses the public API's error translation so both
// surfaces share codes.
func respondServiceError(c *gin.Context, err error) {
	apihandler.RespondServiceError(c, err)
}

// adminLimit reads ?limit= with a default of 50 and a cap of 500.
func adminLimit(c *gin.Context) int {
	return apihandler.ParseLimit(c, 50, 500)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/picshare/internal/health"
)

// HealthHandler returns the handler for GET /healthz. A nil checker always
// reports healthy.
func HealthHandler(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		r := checker.Report()
		status, code := "ok", http.StatusOK
		if !r.Healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "components": r.Components})
	}
}

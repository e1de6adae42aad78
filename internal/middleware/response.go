package middleware

import "github.com/gin-gonic/gin"

// abort stops the chain with the bilingual error body used by every handler.
func abort(c *gin.Context, status int, code, message, messageAr string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":    message,
		"error_ar": messageAr,
		"code":     code,
	})
}

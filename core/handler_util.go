package core

import "github.com/gin-gonic/gin"

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondErrorDetails is respondError with an extra "details" member when details is non-empty.
func respondErrorDetails(c *gin.Context, status int, code, message string, details any) {
	body := gin.H{"code": code, "message": message}
	switch d := details.(type) {
	case nil:
	case map[string]string:
		if len(d) > 0 {
			body["details"] = d
		}
	case []string:
		if len(d) > 0 {
			body["details"] = d
		}
	default:
		body["details"] = d
	}
	c.JSON(status, gin.H{"error": body})
}

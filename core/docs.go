package core

import (
	"embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed docs/index.html docs/openapi.yaml
var apiDocs embed.FS

func registerDocs(r *gin.Engine) {
	serve := func(name, contentType string) gin.HandlerFunc {
		return func(c *gin.Context) {
			data, err := apiDocs.ReadFile(name)
			if err != nil {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "document not found")
				return
			}
			c.Data(http.StatusOK, contentType, data)
		}
	}
	r.GET("/swagger", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
	r.GET("/swagger/index.html", serve("docs/index.html", "text/html; charset=utf-8"))
	r.GET("/swagger/openapi.yaml", serve("docs/openapi.yaml", "application/yaml"))
}

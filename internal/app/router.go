package app

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"docgen.io/pipeline/internal/api/handlers"
	"docgen.io/pipeline/internal/api/middleware"
	"docgen.io/pipeline/internal/config"
)

// newRouter builds the §6 HTTP edge. There is no JWT layer or OpenAPI
// request validator here: golang-jwt/jwt and kin-openapi are dropped
// dependencies (DESIGN.md) since this module has no multi-tenant auth
// surface to protect, only the regeneration/render/demo endpoints.
func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())
	router.Use(cors.New(buildCORSConfig(cfg)))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/regenerate/sections", server.RegenerateSections)
		v1.POST("/regenerate/full", server.RegenerateFull)
		v1.POST("/regenerate/template-update", server.RegenerateTemplateUpdate)
		v1.GET("/regeneration-history", server.RegenerationHistory)
		v1.POST("/render", server.Render)
		v1.POST("/demo/seed", server.DemoSeed)
		v1.GET("/demo/ids", server.DemoIDs)
		v1.POST("/demo/validate", server.DemoValidate)
	}

	return router
}

func buildCORSConfig(cfg *config.Config) cors.Config {
	allowAllOrigins := cfg.Server.UnsafeAllowAllOrigins
	allowedOrigins := sanitizeAllowedOrigins(cfg.Server.AllowedOrigins)

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "X-Correlation-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if allowAllOrigins {
		corsCfg.AllowAllOrigins = true
		// gin-contrib/cors docs: AllowAllOrigins cannot be used with credentials.
		corsCfg.AllowCredentials = false
		return corsCfg
	}

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	corsCfg.AllowOrigins = allowedOrigins
	return corsCfg
}

func sanitizeAllowedOrigins(origins []string) []string {
	cleaned := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		cleaned = append(cleaned, origin)
	}
	return slices.Compact(cleaned)
}

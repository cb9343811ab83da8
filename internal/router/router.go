package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"customstream/internal/catalog"
	"customstream/internal/config"
	"customstream/internal/database"
	"customstream/internal/handlers"
	"customstream/internal/middleware"
	"customstream/internal/mirror"
	"customstream/internal/publisher"
	"customstream/internal/upstream"
)

// Deps bundles everything the router wires into handlers, assembled once at
// startup in cmd/server/main.go.
type Deps struct {
	DB             *database.DB
	Store          *catalog.Store
	Intake         *mirror.Intake
	UpstreamClient *upstream.Client
	Publisher      *publisher.Publisher
	StorageRoot    string
	AdminAPIKey    string
}

// Setup creates and configures the Gin router.
func Setup(deps Deps) *gin.Engine {
	mirrorHandler := handlers.NewMirrorHandler(deps.Intake, deps.Store)
	imageHandler := handlers.NewImageHandler(deps.Store, deps.Publisher, deps.StorageRoot)
	uploadHandler := handlers.NewUploadHandler(deps.Store, deps.Publisher, deps.StorageRoot)
	upstreamHandler := handlers.NewUpstreamHandler(deps.UpstreamClient)

	router := setupBaseRouter()

	router.GET("/health", healthCheck(deps.DB))
	router.GET("/api", apiDocumentation())

	v1 := router.Group("/api/v1")
	v1.Use(handlers.RequireAdminKey(deps.AdminAPIKey))
	{
		v1.POST("/mirror", mirrorHandler.Submit)
		v1.GET("/mirror/jobs", mirrorHandler.ListJobs)
		v1.GET("/mirror/jobs/:id", mirrorHandler.GetJob)

		v1.GET("/images", imageHandler.List)
		v1.GET("/images/:id", imageHandler.Get)
		v1.DELETE("/images/:id", imageHandler.Delete)
		v1.POST("/images/custom", uploadHandler.Upload)

		v1.GET("/upstream/streams", upstreamHandler.ListStreams)
		v1.GET("/upstream/streams/:stream_id/products", upstreamHandler.ListProducts)
	}

	return router
}

func setupBaseRouter() *gin.Engine {
	router := gin.New()

	router.Use(otelgin.Middleware("customstream-api"))
	router.Use(middleware.Observability())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RateLimit())

	// In production, set this to the specific IP ranges of your load
	// balancers or reverse proxies. nil means no proxy headers are trusted,
	// preventing IP spoofing when not behind a configured proxy.
	router.SetTrustedProxies(nil)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.GetAllowedOrigins()
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Authorization",
		"Accept",
		"User-Agent",
		"X-Admin-Api-Key",
	}
	corsConfig.AllowMethods = []string{
		"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS",
	}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	return router
}

func healthCheck(db *database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"database":  "postgresql",
				"timestamp": time.Now().Unix(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"version":   "1.0",
			"database":  "postgresql",
			"timestamp": time.Now().Unix(),
		})
	}
}

func apiDocumentation() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":        "Customstream API",
			"version":     "1.0",
			"description": "Simplestream mirror and publishing service",
			"endpoints": map[string]interface{}{
				"health": "GET /health",
				"mirror": map[string]string{
					"submit": "POST /api/v1/mirror",
					"jobs":   "GET /api/v1/mirror/jobs",
					"job":    "GET /api/v1/mirror/jobs/:id",
				},
				"images": map[string]string{
					"list":   "GET /api/v1/images",
					"get":    "GET /api/v1/images/:id",
					"delete": "DELETE /api/v1/images/:id",
					"upload": "POST /api/v1/images/custom",
				},
				"upstream": map[string]string{
					"streams":  "GET /api/v1/upstream/streams?index_url=...",
					"products": "GET /api/v1/upstream/streams/:stream_id/products?index_url=...",
				},
			},
		})
	}
}

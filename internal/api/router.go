package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/admatch/internal/api/handlers"
	"github.com/your-org/admatch/internal/api/ws"
	"github.com/your-org/admatch/internal/auth"
	"github.com/your-org/admatch/internal/queue"
	"github.com/your-org/admatch/internal/storage"
)

type RouterConfig struct {
	APIKey          string
	RateLimitRPS    float64
	RateLimitBurst  int
	DB              *storage.PostgresStore
	MinIO           *storage.MinIOStore
	Producer        *queue.Producer
	RPC             *queue.RPCClient
	Hub             *ws.Hub
	DefaultTimezone string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/api/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))
	v1.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Organizations
	orgH := handlers.NewOrgHandler(cfg.DB)
	v1.POST("/orgs", orgH.Create)
	v1.GET("/orgs", orgH.List)
	v1.GET("/orgs/:id", orgH.Get)
	v1.DELETE("/orgs/:id", orgH.Delete)

	// Cameras
	camH := handlers.NewCameraHandler(cfg.DB)
	v1.POST("/cameras", camH.Create)
	v1.GET("/cameras", camH.List)
	v1.DELETE("/cameras/:id", camH.Delete)

	// Explicit enrollment and one-shot recognition
	faceH := handlers.NewFaceHandler(cfg.DB, cfg.MinIO, cfg.RPC)
	v1.POST("/faces/register", faceH.Register)
	v1.POST("/faces/recognize", faceH.Recognize)

	// Camera capture ingestion
	capH := handlers.NewCaptureHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	v1.POST("/captures/viewer", capH.Viewer)
	v1.POST("/captures/visit", capH.Visit)

	// Identities
	idH := handlers.NewIdentityHandler(cfg.DB, cfg.MinIO, cfg.RPC)
	v1.GET("/identities", idH.List)
	v1.GET("/identities/:id", idH.Get)
	v1.GET("/identities/:id/faces/:faceId/image", idH.FaceImage)
	v1.DELETE("/identities/:id/faces/:faceId", idH.DeleteFace)
	v1.DELETE("/identities/:id/faces", idH.DeleteFaces)

	// Event history
	eventH := handlers.NewEventHandler(cfg.DB)
	v1.GET("/events", eventH.List)
	v1.GET("/events/:id", eventH.Get)
	v1.GET("/conversions", eventH.ListConversions)

	// Aggregated attribution analytics
	analyticsH := handlers.NewAnalyticsHandler(cfg.DB, cfg.DefaultTimezone)
	v1.GET("/analytics", analyticsH.Get)

	return r
}

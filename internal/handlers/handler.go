package handlers

import (
	"net/http"
	"slices"
	"time"

	"machine_control/internal/logger"
	"machine_control/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Options tunes the transport endpoint.
type Options struct {
	AllowedOrigins   []string // "*" allows any origin
	MaxMessageBytes  int64
	UpdatesPerSecond float64
	UpdateBurst      int
	PingPeriod       time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
}

// DefaultOptions mirrors the defaults in configs/config.yml.
func DefaultOptions() Options {
	return Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		MaxMessageBytes:  1 << 12, // 4 KB
		UpdatesPerSecond: 10,
		UpdateBurst:      20,
		PingPeriod:       54 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
	}
}

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger, opts Options) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{services: services, log: log, opts: opts}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.corsMiddleware)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health endpoint
	router.GET("/health", h.health)

	h.registerAPIRoutes(router)

	// State sync channel (HTTP upgrade), same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/state", h.getState)
	}
}

// originAllowed reports whether a browser origin may talk to the API.
func (h *Handler) originAllowed(origin string) bool {
	return slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin)
}

// checkOrigin admits non-browser clients, which send no Origin header.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.originAllowed(origin)
}

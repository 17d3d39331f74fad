package restapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures SetupRouter.
type RouterOptions struct {
	// AllowedOrigins lists CORS origins; empty allows all.
	AllowedOrigins []string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// SetupRouter builds the read-only gin engine.
func SetupRouter(handler *ReserveHandler, opts RouterOptions) *gin.Engine {
	router := gin.New()

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	if opts.Logger != nil {
		router.Use(zapMiddleware(opts.Logger))
	}
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/reserves", handler.GetHoldings)
		v1.GET("/reserves/grouped", handler.GetGrouped)
		v1.GET("/reserves/composition", handler.GetComposition)
		v1.GET("/reserves/collateralization", handler.GetCollateralization)
		v1.GET("/reserves/:chain", handler.GetChainHoldings)
		v1.GET("/stablecoins/adjustments", handler.GetAdjustments)
		v1.GET("/status", handler.GetStatus)
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	return router
}

// zapMiddleware logs one line per request.
func zapMiddleware(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

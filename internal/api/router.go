// Package api provides the REST API of the stackform server.
//
// The HTTP layer is a thin adapter: routing, middleware and handlers call
// into the service layer, the upgrade orchestrator and the job service,
// which own every rule about the topology.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/api/handlers"
	"github.com/yaroslav/stackform/internal/api/middleware"
	"github.com/yaroslav/stackform/internal/job"
	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/ratelimit"
	"github.com/yaroslav/stackform/internal/service"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/internal/upgrade"
)

// RouterConfig holds configuration for setting up the HTTP router.
type RouterConfig struct {
	// Store is the entity store.
	Store *store.Store

	// Logger is the Zap logger for request logging.
	Logger *zap.Logger

	// InstanceID is this server instance's UUID.
	InstanceID string

	// Executor hands action tasks to the job runner.
	// Defaults to a job.LogExecutor that only logs submissions.
	Executor job.Executor

	// RateLimit holds the per-operation budgets.
	// The zero value selects ratelimit.DefaultConfig.
	RateLimit ratelimit.Config

	// GlobalRPS and GlobalBurst bound the request rate per client IP.
	// Zero values default to 100 req/s with a burst of 200.
	GlobalRPS   float64
	GlobalBurst int
}

// SetupRouter creates and configures the Gin HTTP router with all routes and middleware.
//
// This function sets up:
// - Global middleware (recovery, metrics, logging, rate limiting)
// - Health check and metrics endpoints
// - Bundle, cluster, provider and host endpoints
// - Kind-generic object endpoints (config, state, affected sets, concerns)
// - Upgrade and job task endpoints
//
// Parameters:
//   - config: Router configuration
//
// Returns:
//   - Configured Gin engine ready to serve requests
//   - A stop function releasing the rate limiter's background cleanup
func SetupRouter(config *RouterConfig) (*gin.Engine, func()) {
	router := gin.New()

	router.Use(gin.Recovery())

	// Metrics first so every request is counted.
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(config.Logger))

	rps, burst := config.GlobalRPS, config.GlobalBurst
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 200
	}
	router.Use(middleware.RateLimitByIP(rps, burst))

	budgets := config.RateLimit
	if budgets == (ratelimit.Config{}) {
		budgets = ratelimit.DefaultConfig()
	}
	throttle := middleware.NewThrottle(budgets)

	executor := config.Executor
	if executor == nil {
		executor = &job.LogExecutor{Logger: config.Logger}
	}

	// Services
	bundleService := service.NewBundleService(config.Store, config.Logger)
	clusterService := service.NewClusterService(config.Store, config.Logger)
	providerService := service.NewProviderService(config.Store, config.Logger)
	objectService := service.NewObjectService(config.Store, config.Logger)
	jobService := job.NewService(config.Store, executor, config.Logger)
	orchestrator := upgrade.New(config.Store, jobService, config.Logger)

	// Handlers
	healthHandler := handlers.NewHealthHandler(config.Store, config.InstanceID)
	bundleHandler := handlers.NewBundleHandler(bundleService)
	clusterHandler := handlers.NewClusterHandler(clusterService, objectService)
	providerHandler := handlers.NewProviderHandler(providerService, objectService)
	objectHandler := handlers.NewObjectHandler(objectService)
	upgradeHandler := handlers.NewUpgradeHandler(orchestrator)
	taskHandler := handlers.NewTaskHandler(jobService, orchestrator)

	if err := metrics.RegisterDB(config.Store.DB()); err != nil {
		config.Logger.Warn("database pool metrics unavailable", zap.Error(err))
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry,
		promhttp.HandlerOpts{},
	)))

	health := router.Group("/health")
	health.Use(throttle.HealthChecks())
	{
		health.GET("/live", healthHandler.Liveness)
		health.GET("/ready", healthHandler.Readiness)
	}

	v1 := router.Group("/api/v1")
	v1.Use(throttle.Mutations())

	bundles := v1.Group("/bundles")
	{
		bundles.POST("", throttle.BundleUploads(), bundleHandler.Upload)
		bundles.GET("", bundleHandler.List)
		bundles.GET("/:id", bundleHandler.Get)
		bundles.GET("/:id/prototypes", bundleHandler.Prototypes)
		bundles.GET("/:id/upgrades", bundleHandler.Upgrades)
		bundles.GET("/:id/archive", bundleHandler.Download)
		bundles.DELETE("/:id", bundleHandler.Delete)
	}

	clusters := v1.Group("/clusters")
	{
		clusters.POST("", clusterHandler.Create)
		clusters.GET("", clusterHandler.List)
		clusters.DELETE("/:id", clusterHandler.Delete)

		clusters.GET("/:id/services", clusterHandler.Services)
		clusters.POST("/:id/services", clusterHandler.AddService)

		clusters.GET("/:id/hostcomponent", clusterHandler.HostComponents)
		clusters.PUT("/:id/hostcomponent", clusterHandler.SetHostComponents)

		clusters.GET("/:id/binds", clusterHandler.Binds)
		clusters.POST("/:id/binds", clusterHandler.Bind)
		clusters.DELETE("/:id/binds/:bind_id", clusterHandler.Unbind)

		clusters.POST("/:id/hosts", providerHandler.AddToCluster)
		clusters.DELETE("/:id/hosts/:host_id", providerHandler.RemoveFromCluster)
	}

	services := v1.Group("/services")
	{
		services.DELETE("/:id", clusterHandler.DeleteService)
		services.GET("/:id/components", clusterHandler.Components)
		services.POST("/:id/components", clusterHandler.AddComponent)
	}

	providers := v1.Group("/providers")
	{
		providers.POST("", providerHandler.Create)
		providers.GET("", providerHandler.List)
		providers.DELETE("/:id", providerHandler.Delete)
		providers.GET("/:id/hosts", providerHandler.Hosts)
		providers.POST("/:id/hosts", providerHandler.CreateHost)
	}

	hosts := v1.Group("/hosts")
	{
		hosts.DELETE("/:id", providerHandler.DeleteHost)
		hosts.PUT("/:id/maintenance-mode", providerHandler.SetMaintenanceMode)
	}

	objects := v1.Group("/objects")
	{
		objects.GET("/:kind", objectHandler.List)
		objects.GET("/:kind/:id", objectHandler.Get)
		objects.GET("/:kind/:id/config", objectHandler.Config)
		objects.POST("/:kind/:id/config", objectHandler.UpdateConfig)
		objects.PUT("/:kind/:id/state", objectHandler.SetState)
		objects.GET("/:kind/:id/affected", objectHandler.Affected)
		objects.GET("/:kind/:id/concerns", objectHandler.Concerns)
		objects.GET("/:kind/:id/tasks", taskHandler.List)

		objects.GET("/:kind/:id/upgrades", upgradeHandler.List)
		objects.POST("/:kind/:id/upgrades/:upgrade_id/check", upgradeHandler.Check)
		objects.POST("/:kind/:id/upgrades/:upgrade_id/do", throttle.Upgrades(), upgradeHandler.Do)
		objects.POST("/:kind/:id/revert", throttle.Upgrades(), upgradeHandler.Revert)
	}

	tasks := v1.Group("/tasks")
	{
		tasks.GET("/:id", taskHandler.Get)
		tasks.POST("/:id/finish", taskHandler.Finish)
		tasks.POST("/:id/apply-switch", taskHandler.ApplySwitch)
	}

	return router, throttle.Stop
}

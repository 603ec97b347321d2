package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docfolder-gateway/internal/config"
	"docfolder-gateway/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, gw *GatewayHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	auth := e.Group("/auth")
	auth.POST("/login", gw.Login)
	auth.POST("/register", gw.Register)
	auth.POST("/change-password", gw.ChangePassword)
	auth.POST("/logout", gw.Logout)

	// Upload and download share one wildcard node; Upload expects exactly
	// <user_id>/<filename> below it.
	e.GET("/documents/metadata/:user_id", gw.Metadata)
	e.PUT("/documents/doc/*", gw.Upload)
	e.GET("/documents/doc/*", gw.Download)
	e.DELETE("/documents/:userid/:filename", gw.Delete)
	e.POST("/document/certify", gw.Certify)

	e.POST("/transfers/share_doc", gw.Share)
	e.POST("/transfers/outgoing", gw.TransferOutgoing)
	e.GET("/operators", gw.Operators)
}

// RegisterMetrics serves the Prometheus registry at cfg.Metrics.Path when
// metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

// RegisterStatic serves the browser bundle from cfg.Server.StaticDir, if set.
// API routes take precedence over files.
func RegisterStatic(e *echo.Echo, cfg *config.Config) {
	if cfg.Server.StaticDir == "" {
		return
	}
	e.Static("/", cfg.Server.StaticDir)
}

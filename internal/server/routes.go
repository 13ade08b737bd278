package server

import (
	"github.com/OFFIS-RIT/batchgraph/internal/metrics"
	"github.com/OFFIS-RIT/batchgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/batchgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, m *metrics.Metrics) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)
	view := middleware.RequirePermission("graph.view")

	// Batch level graph
	apiRoutes.GET("/resources", routes.GetResourcesHandler, view)
	apiRoutes.GET("/resources/:id/batches", routes.GetBatchesHandler, view)
	apiRoutes.GET("/resources/:id/batch-edges", routes.GetBatchEdgesHandler, view)
	apiRoutes.GET("/batches/:id/kit-edges", routes.GetKitEdgesHandler, view)

	// High level graph
	apiRoutes.GET("/resources/:id/high-level-batches", routes.GetHighLevelBatchesHandler, view)
	apiRoutes.GET("/resources/:id/high-level-edges", routes.GetHighLevelEdgesHandler, view)

	// Runs and exports
	apiRoutes.POST("/runs", routes.PostRunHandler, middleware.RequirePermission("run.create"))
	apiRoutes.POST("/resources/:id/snapshots", routes.PostSnapshotHandler, middleware.RequirePermission("snapshot.create"))
}

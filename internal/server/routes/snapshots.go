package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/batchgraph/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// PostSnapshotHandler exports the graph of a resource to object storage.
func PostSnapshotHandler(c echo.Context) error {
	resourceID, date, err := bindResourceQuery(c)
	if err != nil {
		return badRequest(c)
	}

	app := c.(*middleware.AppContext).App
	if app.Exporter == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Snapshot export is not configured"})
	}

	key, err := app.Exporter.Export(c.Request().Context(), app.Repo, resourceID, date)
	if err != nil {
		return internalError(c, "snapshot", err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"resource_id": resourceID, "key": key})
}

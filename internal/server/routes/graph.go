package routes

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/batchgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"
)

// resourceListing coalesces concurrent resource listings into one repository
// call.
var resourceListing singleflight.Group

type resourceQuery struct {
	ResourceID string `validate:"required"`
	Date       string
}

// bindResourceQuery reads the resource id and the optional yyyy-mm-dd date.
func bindResourceQuery(c echo.Context) (string, time.Time, error) {
	q := &resourceQuery{ResourceID: c.Param("id"), Date: c.QueryParam("date")}
	if err := c.Validate(q); err != nil {
		return "", time.Time{}, err
	}
	if q.Date == "" {
		return q.ResourceID, time.Time{}, nil
	}
	date, err := time.Parse(time.DateOnly, q.Date)
	if err != nil {
		return "", time.Time{}, err
	}
	return q.ResourceID, date, nil
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request parameters"})
}

func internalError(c echo.Context, what string, err error) error {
	logger.Error("Request failed", "path", c.Path(), "what", what, "err", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

func GetResourcesHandler(c echo.Context) error {
	repo := c.(*middleware.AppContext).App.Repo
	ctx := c.Request().Context()

	res, err, _ := resourceListing.Do("resources", func() (any, error) {
		return repo.ListResources(context.WithoutCancel(ctx))
	})
	if err != nil {
		return internalError(c, "resources", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"resources": res})
}

func GetBatchesHandler(c echo.Context) error {
	resourceID, date, err := bindResourceQuery(c)
	if err != nil {
		return badRequest(c)
	}

	repo := c.(*middleware.AppContext).App.Repo
	batches, err := repo.ListBatches(c.Request().Context(), store.BatchFilter{ResourceID: resourceID, Date: date})
	if err != nil {
		return internalError(c, "batches", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"resource_id": resourceID, "batches": batches})
}

func GetBatchEdgesHandler(c echo.Context) error {
	resourceID, date, err := bindResourceQuery(c)
	if err != nil {
		return badRequest(c)
	}

	repo := c.(*middleware.AppContext).App.Repo
	edges, err := repo.ListResourceEdges(c.Request().Context(), store.ResourceEdgeFilter{ResourceID: resourceID, Date: date})
	if err != nil {
		return internalError(c, "batch edges", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"resource_id": resourceID, "edges": edges})
}

func GetKitEdgesHandler(c echo.Context) error {
	batchID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || batchID <= 0 {
		return badRequest(c)
	}

	repo := c.(*middleware.AppContext).App.Repo
	edges, err := repo.ListKitEdges(c.Request().Context(), batchID)
	if err != nil {
		return internalError(c, "kit edges", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"batch_id": batchID, "edges": edges})
}

func GetHighLevelBatchesHandler(c echo.Context) error {
	resourceID, date, err := bindResourceQuery(c)
	if err != nil {
		return badRequest(c)
	}

	repo := c.(*middleware.AppContext).App.Repo
	nodes, err := repo.ListHighLevelBatches(c.Request().Context(), store.HighLevelFilter{ResourceID: resourceID, Date: date})
	if err != nil {
		return internalError(c, "high level batches", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"resource_id": resourceID, "high_level_batches": nodes})
}

func GetHighLevelEdgesHandler(c echo.Context) error {
	resourceID, date, err := bindResourceQuery(c)
	if err != nil {
		return badRequest(c)
	}

	repo := c.(*middleware.AppContext).App.Repo
	edges, err := repo.ListHighLevelEdges(c.Request().Context(), store.HighLevelFilter{ResourceID: resourceID, Date: date})
	if err != nil {
		return internalError(c, "high level edges", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"resource_id": resourceID, "edges": edges})
}

package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/batchgraph/internal/queue"
	"github.com/OFFIS-RIT/batchgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// PostRunHandler starts a pipeline run. Without a phase the run starts at
// co-batching and, when queued, the worker chains the remaining phases.
// Inline runs execute in the request and return the phase summaries.
func PostRunHandler(c echo.Context) error {
	type postRunBody struct {
		Phase  string `json:"phase" validate:"omitempty,oneof=cobatch aggregate edges consolidate"`
		Inline bool   `json:"inline"`
	}

	type postRunResponse struct {
		Message   string             `json:"message"`
		RunID     string             `json:"run_id,omitempty"`
		Summaries []pipeline.Summary `json:"summaries,omitempty"`
	}

	data := new(postRunBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, postRunResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, postRunResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	runID := pipeline.NewRunID()
	ctx := c.Request().Context()

	if data.Inline || app.Queue == nil {
		if app.Runner == nil {
			return c.JSON(http.StatusServiceUnavailable, postRunResponse{Message: "No runner configured"})
		}

		var summaries []pipeline.Summary
		var err error
		if data.Phase == "" {
			summaries, err = app.Runner.RunAll(ctx, runID)
		} else {
			var s pipeline.Summary
			s, err = app.Runner.RunPhase(ctx, runID, pipeline.Phase(data.Phase))
			summaries = []pipeline.Summary{s}
		}
		if err != nil {
			logger.Error("Inline run failed", "run", runID, "err", err)
			return c.JSON(http.StatusInternalServerError, postRunResponse{
				Message:   "Run failed: " + err.Error(),
				RunID:     runID,
				Summaries: summaries,
			})
		}
		return c.JSON(http.StatusOK, postRunResponse{Message: "Run finished", RunID: runID, Summaries: summaries})
	}

	phase := pipeline.PhaseCoBatch
	if data.Phase != "" {
		phase = pipeline.Phase(data.Phase)
	}
	msg := queue.PhaseMsg{Message: "Run requested", RunID: runID, Phase: phase}
	if err := queue.Publish(ctx, app.Queue, msg); err != nil {
		logger.Error("Failed to enqueue run", "run", runID, "err", err)
		return c.JSON(http.StatusInternalServerError, postRunResponse{Message: "Failed to enqueue run"})
	}
	return c.JSON(http.StatusAccepted, postRunResponse{Message: "Run queued", RunID: runID})
}

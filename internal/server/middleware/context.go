package middleware

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/batchgraph/internal/queue"
	"github.com/OFFIS-RIT/batchgraph/internal/storage"
	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
	"github.com/OFFIS-RIT/batchgraph/pkg/store"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

// App holds the dependencies shared by every request. Queue, Runner and
// Exporter are optional; routes that need a missing one answer 503.
type App struct {
	Repo     store.GraphRepository
	Queue    queue.Publisher
	Runner   *pipeline.Runner
	Exporter *storage.Exporter
	Keyfunc  jwt.Keyfunc

	MasterAPIKey   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}

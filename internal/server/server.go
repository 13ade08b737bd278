package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/batchgraph/internal/metrics"
	"github.com/OFFIS-RIT/batchgraph/internal/queue"
	mid "github.com/OFFIS-RIT/batchgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/batchgraph/internal/storage"
	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/batchgraph/pkg/logger"
	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
	pgxstore "github.com/OFFIS-RIT/batchgraph/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving app.
func New(app *mid.App, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	if m != nil {
		e.Use(m.Middleware())
	}

	RegisterRoutes(e, m)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := pipeline.ConfigFromEnv()
	if err != nil {
		logger.Fatal("Invalid pipeline configuration", "err", err)
	}

	conn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	repo, err := pgxstore.NewGraphDBStorageWithConnection(ctx, conn,
		pgxstore.WithChunkSize(cfg.WriteChunkSize),
	)
	if err != nil {
		logger.Fatal("Failed to create graph storage", "err", err)
	}

	m := metrics.New()
	runner, err := pipeline.NewRunner(pipeline.Params{
		Repo:     repo,
		Locker:   leaselock.New(conn),
		Config:   cfg,
		Recorder: m,
	})
	if err != nil {
		logger.Fatal("Failed to create pipeline runner", "err", err)
	}

	app := &mid.App{
		Repo:           repo,
		Runner:         runner,
		MasterAPIKey:   util.GetEnvString("MASTER_API_KEY", ""),
		MasterUserRole: util.GetEnvString("MASTER_USER_ROLE", "admin"),
	}

	if authURL := util.GetEnvString("AUTH_URL", ""); authURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	}

	if util.GetEnvBool("QUEUE_ENABLED", true) {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		app.Queue = ch
	}

	if util.GetEnvString("AWS_BUCKET", "") != "" {
		exp, err := storage.NewExporterFromEnv(ctx)
		if err != nil {
			logger.Fatal("Failed to create snapshot exporter", "err", err)
		}
		app.Exporter = exp
	}

	e := New(app, m)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

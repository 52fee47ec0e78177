package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearbook/clearbook/internal/auth/domain"
	httpapi "github.com/clearbook/clearbook/internal/auth/http"
	"github.com/clearbook/clearbook/internal/auth/revocation"
	"github.com/clearbook/clearbook/internal/auth/service"
	"github.com/clearbook/clearbook/internal/auth/store"
	"github.com/clearbook/clearbook/internal/auth/store/drivers/sqlite"
	"github.com/clearbook/clearbook/pkg/cryptox"
	"github.com/clearbook/clearbook/pkg/jwtx"
	"github.com/clearbook/clearbook/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db          store.Store
	revocations revocation.Store
	redisClient *redis.Client

	tokenService        *service.TokenService
	activityService     *service.ActivityService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if cfg.Secret == "" {
		return nil, errors.New("AUTH_SECRET is required")
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "clearbook-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initRevocations(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	if err := app.seedAdmin(context.Background()); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.activityService.Start()
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()
	app.activityService.Stop()

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase opens the database and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initRevocations selects the revocation registry backend. Single-instance
// deployments run fine on the in-process registry; a shared redis registry is
// needed once more than one instance validates tokens.
func (app *Application) initRevocations() error {
	markerTTL := app.cfg.AccessTTL

	switch app.cfg.RevocationBackend {
	case "", "memory":
		app.revocations = revocation.NewMemory(markerTTL)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
		}

		app.redisClient = client
		app.revocations = revocation.NewRedis(client, markerTTL)
		app.logger.Info("using redis revocation registry", "addr", app.cfg.RedisAddr)
	default:
		return fmt.Errorf("unknown revocation backend %q", app.cfg.RevocationBackend)
	}

	return nil
}

// initServices initializes the business logic services.
func (app *Application) initServices() {
	app.activityService = service.NewActivityService(app.db, app.logger)

	app.tokenService = &service.TokenService{
		Codec: jwtx.Codec{
			Secret:   []byte(app.cfg.Secret),
			Issuer:   app.cfg.Issuer,
			Audience: app.cfg.Audience,
		},
		Store:            app.db,
		Revocations:      app.revocations,
		Activity:         app.activityService,
		AccessTTL:        app.cfg.AccessTTL,
		RefreshTTL:       app.cfg.RefreshTTL,
		SessionTTL:       app.cfg.SessionTTL,
		RotateRefresh:    app.cfg.RotateRefresh,
		ReuseGraceWindow: app.cfg.ReuseGraceWindow,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.revocations,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.ActivityRetention,
	)
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.revocations, app.logger)
	router.TokenService = app.tokenService
	router.SecureCookies = app.cfg.SecureCookies
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// seedAdmin creates the initial admin account on a fresh database so the
// first deploy has someone who can log in. A no-op when any principal exists
// or the admin credentials are not configured.
func (app *Application) seedAdmin(ctx context.Context) error {
	if app.cfg.AdminEmail == "" || app.cfg.AdminPassword == "" {
		return nil
	}

	empty, err := app.db.Principals().IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("failed to check principal table: %w", err)
	}
	if !empty {
		return nil
	}

	hash, err := cryptox.HashPassword(app.cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	id, err := app.db.Principals().Create(ctx, domain.Principal{
		Name:         app.cfg.AdminName,
		Email:        app.cfg.AdminEmail,
		Role:         "admin",
		Status:       domain.StatusActive,
		PasswordHash: hash,
	})
	if err != nil {
		return fmt.Errorf("failed to seed admin principal: %w", err)
	}

	app.logger.Info("seeded initial admin principal", "user_id", id, "email", app.cfg.AdminEmail)
	return nil
}

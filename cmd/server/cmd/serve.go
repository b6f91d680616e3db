package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/arisu-i18n/arisu/internal/api"
	"github.com/arisu-i18n/arisu/internal/api/handlers"
	"github.com/arisu-i18n/arisu/internal/audit"
	"github.com/arisu-i18n/arisu/internal/auth"
	"github.com/arisu-i18n/arisu/internal/config"
	"github.com/arisu-i18n/arisu/internal/domain/ids"
	"github.com/arisu-i18n/arisu/internal/domain/users"
	"github.com/arisu-i18n/arisu/internal/jobs"
	"github.com/arisu-i18n/arisu/internal/metrics"
	"github.com/arisu-i18n/arisu/internal/session"
	"github.com/arisu-i18n/arisu/internal/storage/memory"
	"github.com/arisu-i18n/arisu/internal/storage/postgres"
	"github.com/arisu-i18n/arisu/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	host    string
	port    int
	migrate bool
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Arisu HTTP server",
		Long: `Start the Arisu HTTP server and begin accepting API requests.

The server will:
- Load configuration from the --config file and environment variables
- Connect to PostgreSQL when DATABASE_URL is set (and optionally migrate it)
- Open the session backend selected by SESSION_BACKEND
- Start the session sweep job when JOBS_ENABLED is set
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with configuration from environment variables
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Apply migrations before serving
  server serve --migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if opts.host != "" {
				cfg.Server.Host = opts.host
			}
			if opts.port != 0 {
				cfg.Server.Port = opts.port
			}
			return runServer(cfg, opts.migrate)
		},
	}

	serveCmd.Flags().StringVar(&opts.host, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&opts.port, "port", 0, "server port (default: 8080)")
	serveCmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply database migrations before serving")
	return serveCmd
}

// application holds everything runServer starts and must stop.
type application struct {
	handler  http.Handler
	sessions *session.Manager
	pool     *pgxpool.Pool
	river    *river.Client[pgx.Tx]
	closers  []func()
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApplication wires storage, services and the router from cfg.
func newApplication(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*application, error) {
	app := &application{}
	fail := func(err error) (*application, error) {
		app.Close()
		return nil, err
	}

	var repo *postgres.Repository
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			URL:            cfg.Database.URL,
			MaxConnections: cfg.Database.MaxConnections,
			MinIdle:        cfg.Database.MaxIdle,
		})
		if err != nil {
			return fail(fmt.Errorf("database connection failed: %w", err))
		}
		app.pool = pool
		app.closers = append(app.closers, pool.Close)

		repo, err = postgres.NewRepository(pool, cfg.Database.QueryTimeout)
		if err != nil {
			return fail(err)
		}
	}

	store, err := newSessionStore(cfg, repo, app)
	if err != nil {
		return fail(err)
	}
	app.sessions = session.NewManager(store, ids.NewGenerator(), logger, session.WithStoreTimeout(cfg.Session.StoreTimeout))

	signer, err := session.NewSigner(cfg.Session.Secret)
	if err != nil {
		return fail(err)
	}

	var userRepo users.Repository
	if repo != nil {
		userRepo = repo.Users()
	} else {
		logger.Warn().Msg("DATABASE_URL not set, users are kept in memory")
		userRepo = memory.NewUserRepository()
	}
	if cfg.Auth.Salt == "" {
		logger.Warn().Msg("SALT not set, token routes will report a configuration error")
	}

	service := users.NewService(
		userRepo,
		auth.NewTokenIssuer(cfg.Auth.JWTExpiry, cfg.Auth.Issuer),
		ids.NewGenerator(),
		users.Options{Salt: cfg.Auth.Salt, BcryptCost: cfg.Auth.BcryptCost},
		audit.NewLogger(logger),
		logger,
	)

	checks := map[string]handlers.Pinger{"sessions": app.sessions}
	if repo != nil {
		checks["database"] = repo
	}

	handler, stop, err := api.NewRouter(api.Deps{
		Config:    cfg,
		Logger:    logger,
		Users:     service,
		Sessions:  app.sessions,
		Signer:    signer,
		Checks:    checks,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	})
	if err != nil {
		return fail(err)
	}
	app.handler = handler
	app.closers = append(app.closers, stop)

	if cfg.Jobs.Enabled && app.pool != nil {
		if err := jobs.Migrate(ctx, app.pool); err != nil {
			return fail(err)
		}
		slogger := config.NewSlogLogger(cfg.Logging)
		client, err := jobs.NewClient(
			app.pool,
			jobs.NewWorkers(app.sessions, slogger),
			slogger,
			[]rivertype.Hook{metrics.NewRiverMetricsHook()},
			jobs.NewPeriodicJobs(cfg.Jobs.SweepInterval),
		)
		if err != nil {
			return fail(fmt.Errorf("create river client: %w", err))
		}
		app.river = client
	}
	return app, nil
}

func newSessionStore(cfg config.Config, repo *postgres.Repository, app *application) (session.Store, error) {
	switch cfg.Session.Backend {
	case config.SessionBackendMemory:
		return session.NewMemoryStore(), nil
	case config.SessionBackendPostgres:
		if repo == nil {
			return nil, errors.New("postgres session backend requires DATABASE_URL")
		}
		return repo.Sessions(), nil
	case config.SessionBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.closers = append(app.closers, func() { _ = client.Close() })
		return session.NewRedisStore(client, session.DefaultTTL), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

func runServer(cfg config.Config, migrate bool) error {
	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Str("environment", cfg.Environment).Msg("starting arisu server")
	metrics.Init(Version, GitCommit, BuildDate)

	if migrate {
		if cfg.Database.URL == "" {
			return errors.New("--migrate requires DATABASE_URL")
		}
		if err := postgres.MigrateUp(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info().Msg("database migrations applied")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing setup failed: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	setupCtx, setupCancel := context.WithTimeout(ctx, 15*time.Second)
	app, err := newApplication(setupCtx, cfg, logger)
	setupCancel()
	if err != nil {
		return err
	}
	defer app.Close()

	if app.pool != nil {
		unregister, err := metrics.RegisterPool(app.pool)
		if err != nil {
			return fmt.Errorf("register pool metrics: %w", err)
		}
		defer unregister()
	}

	switch {
	case app.river != nil:
		// River stops hard when its start context ends, so it gets its own.
		riverCtx, riverCancel := context.WithCancel(context.Background())
		defer riverCancel()
		if err := app.river.Start(riverCtx); err != nil {
			return fmt.Errorf("river workers failed to start: %w", err)
		}
		logger.Info().Dur("interval", cfg.Jobs.SweepInterval).Msg("session sweep job scheduled")
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := app.river.Stop(stopCtx); err != nil {
				logger.Error().Err(err).Msg("river workers shutdown error")
			}
		}()
	case cfg.Jobs.Enabled:
		go jobs.RunSweeper(ctx, app.sessions, cfg.Jobs.SweepInterval, logger.With().Str("component", "sweeper").Logger())
		logger.Info().Msg("session sweep running in process")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/pms/internal/auth"
	"github.com/mtlprog/pms/internal/broker"
	"github.com/mtlprog/pms/internal/cache"
	"github.com/mtlprog/pms/internal/config"
	"github.com/mtlprog/pms/internal/database"
	"github.com/mtlprog/pms/internal/handler"
	"github.com/mtlprog/pms/internal/logger"
	"github.com/mtlprog/pms/internal/messaging"
	"github.com/mtlprog/pms/internal/telemetry"
)

// setupLogging installs the process logger; tests replace it.
var setupLogging = logger.Setup

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logCloser io.Closer

	return &cli.App{
		Name:  config.AppName,
		Usage: "Project and task management service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "Also write logs to this file, rotated by size",
				EnvVars: []string{"LOG_FILE"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Aliases: []string{"d"},
				Value:   config.DefaultDatabaseURL,
				Usage:   "PostgreSQL database URL",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
		Before: func(c *cli.Context) error {
			logCloser = setupLogging(logger.ParseLevel(c.String("log-level")), c.String("log-file"))
			return nil
		},
		After: func(*cli.Context) error {
			if logCloser == nil {
				return nil
			}
			return logCloser.Close()
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the web server",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
					&cli.StringFlag{
						Name:     "jwt-secret",
						Usage:    "HMAC secret used to verify bearer tokens",
						EnvVars:  []string{"JWT_SECRET"},
						Required: true,
					},
					&cli.StringFlag{
						Name:    "redis-url",
						Usage:   "Redis URL for the query cache; in-process cache when empty",
						EnvVars: []string{"REDIS_URL"},
					},
					&cli.DurationFlag{
						Name:    "cache-ttl",
						Value:   config.DefaultCacheTTL,
						Usage:   "Lifetime of cached query results",
						EnvVars: []string{"CACHE_TTL"},
					},
					&cli.DurationFlag{
						Name:    "publish-timeout",
						Value:   messaging.DefaultPublishTimeout,
						Usage:   "How long a request waits on the broker when publishing",
						EnvVars: []string{"PUBLISH_TIMEOUT"},
					},
					&cli.BoolFlag{
						Name:    "with-consumer",
						Usage:   "Run the notification consumer inside the server process",
						EnvVars: []string{"WITH_CONSUMER"},
					},
				}, brokerFlags()...),
				Action: runServe,
			},
			{
				Name:   "consume",
				Usage:  "Consume task notifications until interrupted",
				Flags:  brokerFlags(),
				Action: runConsume,
			},
			{
				Name:  "migrate",
				Usage: "Manage database schema",
				Subcommands: []*cli.Command{
					{Name: "up", Usage: "Apply all pending migrations", Action: runMigrate(database.RunMigrations)},
					{Name: "down", Usage: "Roll back the latest migration", Action: runMigrate(database.RollbackMigration)},
					{Name: "status", Usage: "Print migration status", Action: runMigrate(database.MigrationStatus)},
				},
			},
			{
				Name:  "issue-token",
				Usage: "Mint a bearer token for local use",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "jwt-secret", EnvVars: []string{"JWT_SECRET"}, Required: true},
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
					&cli.StringFlag{Name: "subject", Usage: "Token subject; defaults to username"},
					&cli.StringSliceFlag{Name: "role", Value: cli.NewStringSlice(auth.RoleUser), Usage: "Role to grant (repeatable)"},
					&cli.DurationFlag{Name: "ttl", Value: config.DefaultJWTTTL},
				},
				Action: runIssueToken,
			},
		},
	}
}

func brokerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "broker",
			Value:   config.BrokerPostgres,
			Usage:   "Notification broker backend (postgres, memory)",
			EnvVars: []string{"BROKER"},
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Value:   broker.DefaultRetryPolicy.MaxAttempts,
			Usage:   "Deliveries before a message is dead-lettered",
			EnvVars: []string{"BROKER_MAX_ATTEMPTS"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Value:   messaging.DefaultPollInterval,
			Usage:   "Idle wait between consumer receive calls",
			EnvVars: []string{"POLL_INTERVAL"},
		},
	}
}

func connect(c *cli.Context) (*database.DB, error) {
	databaseURL := c.String("database-url")
	if databaseURL == "" {
		return nil, errors.New("database url is required (--database-url or DATABASE_URL)")
	}
	db, err := database.New(c.Context, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func newBroker(c *cli.Context, pool *pgxpool.Pool) (broker.Broker, error) {
	policy := broker.DefaultRetryPolicy
	policy.MaxAttempts = c.Int("max-attempts")

	switch kind := strings.ToLower(c.String("broker")); kind {
	case config.BrokerPostgres:
		return broker.NewPostgres(pool, policy), nil
	case config.BrokerMemory:
		return broker.NewMemory(policy), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", kind)
	}
}

func newCache(c *cli.Context) (cache.Cache, error) {
	redisURL := c.String("redis-url")
	if redisURL == "" {
		slog.Info("using in-process query cache")
		return cache.NewMemory(), nil
	}

	rc := cache.NewRedis(cache.NewRedisPool(redisURL), config.AppName)
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	slog.Info("using redis query cache")
	return rc, nil
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, config.AppName, config.AppVersion)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}()

	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	verifier, err := auth.NewVerifier(c.String("jwt-secret"))
	if err != nil {
		return fmt.Errorf("failed to configure authentication: %w", err)
	}
	queryCache, err := newCache(c)
	if err != nil {
		return err
	}
	b, err := newBroker(c, db.Pool())
	if err != nil {
		return err
	}

	h := handler.New(db.Pool(), handler.Options{
		Cache:          queryCache,
		CacheTTL:       c.Duration("cache-ttl"),
		Broker:         b,
		PublishTimeout: c.Duration("publish-timeout"),
		Verifier:       verifier,
		AppVersion:     config.AppVersion,
	})

	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           h.Routes(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "server_addr", "http://localhost:"+port, "broker", c.String("broker"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), config.DefaultShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	if c.Bool("with-consumer") {
		consumer := messaging.NewConsumer(b, messaging.WithPollInterval(c.Duration("poll-interval")))
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func runConsume(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	b, err := newBroker(c, db.Pool())
	if err != nil {
		return err
	}
	if c.String("broker") == config.BrokerMemory {
		slog.Warn("memory broker in a standalone consumer never receives messages from the server")
	}

	return messaging.NewConsumer(b, messaging.WithPollInterval(c.Duration("poll-interval"))).Run(ctx)
}

func runMigrate(fn func(context.Context, *pgxpool.Pool) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		db, err := connect(c)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := fn(c.Context, db.Pool()); err != nil {
			return fmt.Errorf("migrate %s: %w", c.Command.Name, err)
		}
		return nil
	}
}

func runIssueToken(c *cli.Context) error {
	issuer, err := auth.NewIssuer(c.String("jwt-secret"), c.Duration("ttl"))
	if err != nil {
		return err
	}

	subject := c.String("subject")
	if subject == "" {
		subject = c.String("username")
	}
	token, err := issuer.Issue(auth.Principal{
		Subject:  subject,
		Username: c.String("username"),
		Roles:    c.StringSlice("role"),
	})
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(c.App.Writer, token)
	return nil
}

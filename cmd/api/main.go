package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/todo-service/internal/api/http"
	"github.com/spec-kit/todo-service/internal/api/http/handlers"
	"github.com/spec-kit/todo-service/internal/auth"
	"github.com/spec-kit/todo-service/internal/config"
	"github.com/spec-kit/todo-service/internal/events"
	"github.com/spec-kit/todo-service/internal/observability"
	"github.com/spec-kit/todo-service/internal/persistence"
	"github.com/spec-kit/todo-service/internal/repository"
	"github.com/spec-kit/todo-service/internal/service"
	"github.com/spec-kit/todo-service/internal/worker"
)

type stores struct {
	accounts     repository.AccountRepository
	tasks        repository.TaskRepository
	dependencies map[string]handlers.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL())
	if err != nil {
		logger.Fatal("invalid AUTH_JWT_SECRET", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	redis := &persistence.Redis{}
	if cfg.Store.Driver == config.StoreDriverRedis {
		redis = persistence.NewRedis(cfg.Redis, logger)
	}
	defer redis.Close()

	st, err := buildStores(ctx, cfg, pg, redis, logger)
	if err != nil {
		logger.Fatal("failed to prepare store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	authService, err := service.NewAuthService(service.AuthDependencies{
		Accounts:   st.accounts,
		Hasher:     auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Codec:      codec,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("failed to init auth service", zap.Error(err))
	}
	if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		logger.Fatal("failed to seed admin account", zap.Error(err))
	}
	taskService := service.NewTaskService(st.tasks, dispatcher, logger)

	carrier, err := auth.NewTokenCarrier(cfg.Auth.TokenTransport, cfg.Auth.CookieName, cfg.Auth.CookieSecure)
	if err != nil {
		logger.Fatal("invalid token transport", zap.Error(err))
	}
	binder := auth.NewIdentityBinder(codec, carrier, st.accounts, logger)

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{AppName: cfg.App.Name, Immutable: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, st.dependencies, logger),
		Auth:   handlers.NewAuthHandler(authService, carrier),
		Tasks:  handlers.NewTasksHandler(taskService),
		Admin:  handlers.NewAdminHandler(authService, metrics),
		Binder: binder,
	})

	logger.Info("starting server",
		zap.String("addr", cfg.App.Addr()),
		zap.String("store", cfg.Store.Driver),
		zap.String("token_transport", carrier.Name()),
	)

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func buildStores(ctx context.Context, cfg *config.Config, pg *persistence.Postgres, redis *persistence.Redis, logger *zap.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool := pg.PoolHandle()
		if pool == nil {
			return nil, errors.New("POSTGRES_DSN is required for the postgres store")
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return &stores{
			accounts:     repository.NewAccountRepository(pool),
			tasks:        repository.NewTaskRepository(pool),
			dependencies: map[string]handlers.Pinger{"postgres": pg},
		}, nil
	case config.StoreDriverRedis:
		if redis.Client == nil {
			return nil, errors.New("REDIS_ADDR is required for the redis store")
		}
		return &stores{
			accounts:     repository.NewRedisAccountRepository(redis.Client, cfg.Redis.KeyPrefix),
			tasks:        repository.NewMemoryTaskRepository(),
			dependencies: map[string]handlers.Pinger{"redis": redis},
		}, nil
	default:
		return &stores{
			accounts: repository.NewMemoryAccountRepository(),
			tasks:    repository.NewMemoryTaskRepository(),
		}, nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

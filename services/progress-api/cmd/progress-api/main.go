// Command progress-api serves per-user lesson progress over HTTP.
//
//	progress-api                      serve
//	progress-api token <user> [role]  print a 24h bearer token signed with JWT_SECRET
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/lesson-progress/internal/platform/auth"
	"github.com/example/lesson-progress/internal/platform/db"
	"github.com/example/lesson-progress/internal/platform/events"
	"github.com/example/lesson-progress/internal/platform/httpserver"
	"github.com/example/lesson-progress/internal/platform/logging"
	"github.com/example/lesson-progress/internal/platform/natsconn"
	"github.com/example/lesson-progress/internal/platform/run"
	"github.com/example/lesson-progress/services/progress-api/internal/config"
	"github.com/example/lesson-progress/services/progress-api/internal/handlers"
	"github.com/example/lesson-progress/services/progress-api/internal/ratelimit"
	"github.com/example/lesson-progress/services/progress-api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		run.Exit(2)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		run.Exit(printToken(cfg, os.Args[2:]))
	}

	log, err := logging.NewService(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	run.Exit(run.New(log).WithSignals(func(ctx context.Context) error {
		return serve(ctx, cfg, log)
	}))
}

func printToken(cfg config.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: progress-api token <user> [role]")
		return 2
	}
	role := ""
	if len(args) > 1 {
		role = args[1]
	}
	tok, err := auth.Sign(cfg.JWTSecret, args[0], role, 24*time.Hour)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(tok)
	return 0
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	var pub *events.Publisher
	if cfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName, Logger: log})
		if err != nil {
			log.Warn("nats unavailable, events disabled", zap.Error(err))
		} else {
			defer nc.Close()
			if pub, err = events.Connect(nc, log); err != nil {
				log.Warn("nats stream setup failed, events disabled", zap.Error(err))
				pub = nil
			}
		}
	}

	ready := func() error {
		c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return repo.Ping(c)
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: ready, Logger: log})
	var limiter *ratelimit.Limiter
	if cfg.WriteRate > 0 {
		limiter = ratelimit.New(cfg.WriteRate, cfg.WriteBurst)
	}
	handlers.Mount(r, handlers.Deps{Repo: repo, Events: pub, Limiter: limiter, Log: log}, auth.JWTVerifier{Secret: cfg.JWTSecret})
	httpSrv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Router: r})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	reflection.Register(grpcSrv)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 2)
	go func() {
		log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
		errCh <- grpcSrv.Serve(lis)
	}()
	go func() {
		errCh <- httpSrv.Start(log)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	hs.Shutdown()
	shutdownErr := run.Graceful(func(c context.Context) error {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		herr := httpSrv.Shutdown(c)
		select {
		case <-stopped:
		case <-c.Done():
			grpcSrv.Stop()
		}
		return herr
	})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return shutdownErr
}

func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, progress kept in memory")
		return store.NewMemoryRepository(), func() {}, nil
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db open: %w", err)
	}
	repo := store.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

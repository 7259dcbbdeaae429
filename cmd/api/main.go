package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"pollhub.org/internal/auth"
	"pollhub.org/internal/config"
	"pollhub.org/internal/csrf"
	"pollhub.org/internal/grpcsrv"
	"pollhub.org/internal/httpapi"
	"pollhub.org/internal/migrate"
	"pollhub.org/internal/obs"
	"pollhub.org/internal/poll"
	"pollhub.org/internal/ratelimit"
	"pollhub.org/internal/store/sqlstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("log level")
	}
	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Poll storage
	var (
		store poll.Store
		probe httpapi.ReadyProbe
		sqls  *sqlstore.Store
	)
	switch cfg.DBDriver {
	case "memory":
		store = poll.NewMemoryStore()
	default:
		sqls, err = sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			log.WithError(err).Fatal("open db")
		}
		if cfg.AutoMigrate {
			schema, err := migrate.Migrations(cfg.DBDriver)
			if err != nil {
				log.WithError(err).Fatal("migrations")
			}
			mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err = migrate.NewManager(sqls.DB(), schema).Up(mctx)
			cancel()
			if err != nil {
				log.WithError(err).Fatal("migrate up")
			}
		}
		store = sqls
		probe.DB = sqls.DB()
	}

	// Attempt limiter: Redis when reachable, otherwise per-process memory.
	var limiterStore ratelimit.Store
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, rate limiting falls back to memory")
			rdb = nil
		}
	}
	if rdb != nil {
		limiterStore = ratelimit.NewRedisStore(rdb, "", cfg.RateLimitWindow)
		probe.Redis = rdb
	} else {
		mem := ratelimit.NewMemoryStore()
		go pruneLimiter(ctx, mem, cfg.RateLimitWindow)
		limiterStore = mem
	}
	limiter := ratelimit.New(limiterStore, ratelimit.WithLimit(cfg.RateLimitAttempts, cfg.RateLimitWindow))

	sessions, err := auth.NewSessions([]byte(cfg.SessionSecret))
	if err != nil {
		log.WithError(err).Fatal("sessions")
	}
	csrfKey, err := cfg.CSRFKey()
	if err != nil {
		log.WithError(err).Fatal("csrf key")
	}
	csrfMgr, err := csrf.NewManager(csrfKey, csrf.WithSecureCookie(cfg.SecureCookies))
	if err != nil {
		log.WithError(err).Fatal("csrf manager")
	}

	// HTTP API
	api := httpapi.New(httpapi.Deps{
		Polls:          poll.NewService(store, poll.WithStoreTimeout(cfg.StoreTimeout)),
		Sessions:       sessions,
		CSRF:           csrfMgr,
		Limiter:        limiter,
		Ready:          probe,
		Version:        version,
		AllowedOrigins: cfg.AllowedOrigins,
		FloodBurst:     cfg.FloodBurst,
		FloodPerSecond: cfg.FloodPerSecond,
		TrustProxy:     cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// gRPC health
	health := grpcsrv.New(probe, 10*time.Second)
	go health.Watch(ctx)
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("grpc listen")
		}
		go func() {
			if err := health.GRPC().Serve(grpcLis); err != nil {
				log.WithError(err).Error("grpc serve")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"store":     cfg.DBDriver,
	}).Info("starting pollhub-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	health.GRPC().GracefulStop()
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqls != nil {
		_ = sqls.Close()
	}
	log.Info("stopped")
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// pruneLimiter drops memory-store entries whose window has long passed.
func pruneLimiter(ctx context.Context, store *ratelimit.MemoryStore, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := store.Prune(now.Add(-window)); n > 0 {
				obs.Logger().WithField("pruned", n).Debug("rate limiter entries pruned")
			}
		}
	}
}

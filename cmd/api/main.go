package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"pdifin.org/internal/auth"
	"pdifin.org/internal/config"
	"pdifin.org/internal/httpapi"
	"pdifin.org/internal/obs"
	"pdifin.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(os.Getenv("PDIFIN_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Primary store: Postgres when a DSN is configured, in-memory otherwise.
	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		store = auth.NewMemoryStore()
	}

	codec, err := auth.NewCodec([]byte(cfg.AuthSecret), cfg.Issuer)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	events := stream.New()

	engineOpts := []auth.EngineOption{
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithMaxAttempts(cfg.MaxLoginAttempts),
		auth.WithLockoutDuration(cfg.LockoutDuration),
		auth.WithLogoutScope(auth.LogoutScope(cfg.LogoutScope)),
		auth.WithAuditHook(func(entry auth.AuditEntry) {
			events.Publish(stream.Event{
				Email:     auth.MaskEmail(entry.Email),
				Success:   entry.Success,
				Reason:    entry.Reason,
				Origin:    entry.Origin,
				Timestamp: entry.CreatedAt,
			})
		}),
	}

	// The session ledger can live in Redis while accounts and audit rows
	// stay in the primary store.
	var rdb *redis.Client
	if cfg.SessionBackend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		engineOpts = append(engineOpts, auth.WithSessionLedger(auth.NewRedisSessions(rdb)))
	}

	engine, err := auth.NewEngine(store, codec, engineOpts...)
	if err != nil {
		log.Fatalf("auth engine: %v", err)
	}

	api := httpapi.New(engine, events, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithLoginRateLimit(cfg.LoginRatePerSec, cfg.LoginRateBurst))

	// No WriteTimeout: /v1/auth/events holds its connection open and a
	// server-wide write deadline would sever the stream.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting pdifin-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"halolight.org/internal/auth"
	"halolight.org/internal/config"
	"halolight.org/internal/httpapi"
	"halolight.org/internal/obs"
	"halolight.org/internal/ratelimit"
	"halolight.org/internal/rpc"
	"halolight.org/internal/store/memory"
	"halolight.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Printf("starting halolight-api %s (%s)", version, cfg)

	var (
		store      auth.Store
		readyProbe httpapi.ReadyProbe
	)
	if cfg.DatabaseDSN != "" {
		pgStore, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		readyProbe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Print("no DSN configured, using in-memory store")
		store = memory.New()
	}

	codec := auth.NewTokenCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)
	sessions := auth.NewService(store, codec)
	resolver := auth.NewResolver(store)

	limiter := ratelimit.NewMemory(ratelimit.Limits{
		DefaultCapacity: cfg.DefaultBucketCapacity,
		AuthCapacity:    cfg.AuthBucketCapacity,
		Window:          cfg.RefillWindow,
	})
	defer limiter.Close()

	api := httpapi.New(sessions, resolver, store, limiter, readyProbe, version)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := rpc.NewServer(readyProbe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweepLoop(ctx, sessions, cfg.SweepInterval)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen http: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(cfg.GRPCAddr); err != nil {
			log.Fatalf("listen grpc: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Print("shutting down...")

	cancel()
	grpcSrv.GracefulStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Print("stopped")
}

// sweepLoop periodically deletes expired and revoked refresh tokens.
func sweepLoop(ctx context.Context, sessions *auth.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.Sweep(ctx)
			if err != nil {
				log.Printf("token sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("token sweep removed %d rows", n)
			}
		}
	}
}

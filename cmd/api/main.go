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

	"google.golang.org/grpc"

	"fleetops.org/internal/auth"
	"fleetops.org/internal/blob"
	"fleetops.org/internal/config"
	"fleetops.org/internal/documents"
	"fleetops.org/internal/fleet"
	"fleetops.org/internal/httpapi"
	"fleetops.org/internal/ids"
	"fleetops.org/internal/obs"
	"fleetops.org/internal/procurement"
	"fleetops.org/internal/store/pg"
	"fleetops.org/internal/store/redisstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	obs.Configure(cfg.LogLevel, cfg.LogFormat)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer store.Close()

	var (
		sessionStore auth.SessionStore = store
		userOpts     []auth.UsersOption
		checks       []func(context.Context) error
	)
	if cfg.RedisURL != "" {
		rdb, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		sessionStore = redisstore.New(rdb)
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info().Msg("sessions stored in redis")
	}
	sessions, err := auth.NewSessions(sessionStore)
	if err != nil {
		log.Fatal().Err(err).Msg("init sessions")
	}
	if cfg.RedisURL != "" {
		userOpts = append(userOpts, auth.WithSeparateSessions(sessions))
	}
	users, err := auth.NewUsers(store, auth.Bcrypt{}, userOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("init users")
	}
	authn, err := auth.NewAuthenticator(store, sessions)
	if err != nil {
		log.Fatal().Err(err).Msg("init authenticator")
	}
	registry, err := auth.NewRegistry(store)
	if err != nil {
		log.Fatal().Err(err).Msg("init registry")
	}
	if err := registry.EnsureBuiltins(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure builtin permissions")
	}
	vessels, err := fleet.NewService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("init fleet")
	}
	engine, err := procurement.NewEngine(store)
	if err != nil {
		log.Fatal().Err(err).Msg("init procurement")
	}

	secret := cfg.BlobSigningSecret
	if secret == "" {
		// development only; config refuses an empty secret in production
		if secret, err = ids.Token(32); err != nil {
			log.Fatal().Err(err).Msg("generate blob secret")
		}
		log.Warn().Msg("BLOB_SIGNING_SECRET not set; download links will not survive a restart")
	}
	signer, err := blob.NewSigner([]byte(secret))
	if err != nil {
		log.Fatal().Err(err).Msg("init blob signer")
	}
	disk, err := blob.NewDisk(cfg.BlobRoot, cfg.BlobPublicURL, signer, blob.WithMaxBytes(cfg.UploadMaxBytes))
	if err != nil {
		log.Fatal().Err(err).Msg("init blob storage")
	}
	docs, err := documents.NewService(store, disk)
	if err != nil {
		log.Fatal().Err(err).Msg("init documents")
	}

	ready := httpapi.ReadyProbe{DB: store.DB(), Checks: checks}
	api, err := httpapi.New(httpapi.Deps{
		Auth:          authn,
		Users:         users,
		Registry:      registry,
		Fleet:         vessels,
		Engine:        engine,
		Documents:     docs,
		Blobs:         disk,
		Ready:         ready,
		Version:       version,
		SecureCookies: cfg.Production(),
		Limits: httpapi.Limits{
			RateBurst:      cfg.RateLimitBurst,
			RatePerSec:     cfg.RateLimitPerSec,
			LoginPerMinute: cfg.LoginRatePerMin,
			MaxBodyBytes:   cfg.MaxBodyBytes,
			UploadMaxBytes: cfg.UploadMaxBytes,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init http api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(ready)
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("listen grpc")
		}
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Error().Err(err).Msg("grpc serve")
			}
		}()
	}

	go purgeSessions(ctx, sessions, time.Duration(cfg.SessionPurgeMins)*time.Minute)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("grpc_addr", cfg.GRPCAddr).Str("version", version).Msg("starting fleetops-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Info().Msg("stopped")
}

func purgeSessions(ctx context.Context, sessions *auth.Sessions, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.Purge(ctx)
			if err != nil {
				obs.Logger().Warn().Err(err).Msg("session purge failed")
				continue
			}
			if n > 0 {
				obs.Logger().Info().Int64("purged", n).Msg("expired sessions purged")
			}
		}
	}
}

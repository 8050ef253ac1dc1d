package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"fleet-sync/config"
	"fleet-sync/internal/api"
	"fleet-sync/internal/cache"
	"fleet-sync/internal/channel"
	"fleet-sync/internal/db"
	"fleet-sync/internal/fleet"
	"fleet-sync/internal/hostenv"
	"fleet-sync/internal/identity"
	"fleet-sync/internal/netmon"
	"fleet-sync/internal/notification"
	"fleet-sync/internal/roster"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Str("path", configPath).Err(err).Msg("failed to load configuration")
	}

	// The credential and role are owned by the authentication collaborator;
	// this service only consumes them.
	token := os.Getenv("FLEET_ACCESS_TOKEN")
	role := os.Getenv("FLEET_ROLE")
	if token == "" {
		log.Warn().Msg("FLEET_ACCESS_TOKEN is empty: live channel and sync stay inert until restart with a credential")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	store := cache.New(gormDB, cfg.Cache.Secret, log)
	rosterClient := roster.NewClient(cfg.Remote.RosterURL, time.Duration(cfg.Remote.TimeoutSeconds)*time.Second)
	probe := hostenv.NewDialProbe(cfg.Remote.ProbeAddr, 0, log)
	defer probe.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []fleet.Option{fleet.WithFlushDebounce(cfg.Sync.FlushDebounce())}
	if cfg.Push.Enabled {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}, log)
		pool.Start(ctx)
		opts = append(opts, fleet.WithNotifier(pool))
	}

	coord := fleet.NewCoordinator(store, rosterClient, probe, log, opts...)
	defer coord.Close()

	if err := coord.Initialize(ctx, token); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize fleet state")
	}

	ch := channel.New(cfg.Remote.ChannelURL, token, &channel.WebsocketDialer{HandshakeTimeout: 10 * time.Second}, probe, log)
	ch.OnTelemetry(coord.IngestTelemetry)
	if role == identity.RoleAdmin {
		ch.OnAlert(coord.IngestAlert)
	}
	ch.Connect()
	defer ch.Disconnect()

	monitor := netmon.New(probe, coord, ch, token, cfg.Sync.OnlineDebounce(), cfg.Sync.ResyncInterval(), log)
	monitor.Start()
	defer monitor.Stop()

	router := api.NewRouter(cfg, coord, gormDB, token)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("stopped")
}

// Package main provides the station daemon: the game station engines behind
// a websocket gateway, with prometheus metrics and a gRPC health service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/config"
	"github.com/cory-johannsen/gamestation/internal/directory"
	"github.com/cory-johannsen/gamestation/internal/gateway"
	"github.com/cory-johannsen/gamestation/internal/observability"
	"github.com/cory-johannsen/gamestation/internal/random"
	"github.com/cory-johannsen/gamestation/internal/server"
	"github.com/cory-johannsen/gamestation/internal/station"
	"github.com/cory-johannsen/gamestation/internal/station/mafia"
	"github.com/cory-johannsen/gamestation/internal/station/sevenpoker"
	"github.com/cory-johannsen/gamestation/internal/station/tenseconds"
	"github.com/cory-johannsen/gamestation/internal/storage/postgres"
)

// dbHealthInterval is how often the postgres pool is pinged.
const dbHealthInterval = 30 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/stationd.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger("stationd", cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting station daemon",
		zap.String("gateway_addr", cfg.Gateway.Addr()),
		zap.String("directory", cfg.Directory.Source),
	)

	lifecycle := server.NewLifecycle(logger.Logger)

	var (
		sessions station.SessionDirectory
		users    station.UserDirectory
		pool     *postgres.Pool
	)
	switch cfg.Directory.Source {
	case config.DirectoryMemory:
		mem, err := directory.LoadFile(cfg.Directory.Fixture)
		if err != nil {
			logger.Fatal("loading directory fixture", zap.String("path", cfg.Directory.Fixture), zap.Error(err))
		}
		sessions, users = mem, mem
		logger.Info("directory fixture loaded", zap.String("path", cfg.Directory.Fixture))
	default:
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database, logger.Logger)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		sessions = postgres.NewSessionRepository(pool.DB())
		users = postgres.NewUserRepository(pool.DB())
	}

	ceiling, err := cfg.Station.Ceiling()
	if err != nil {
		logger.Fatal("parsing poker credit ceiling", zap.Error(err))
	}

	metrics := observability.NewMetrics("station")
	hub := gateway.NewHub(logger.Named("hub"), metrics)

	engineOpts := func(game station.GameType) []station.Option {
		return []station.Option{
			station.WithLogger(logger.Named(string(game))),
			station.WithRecorder(metrics),
			station.WithReclaimAfter(cfg.Station.ReclaimAfter),
			station.WithDestroyHook(hub.CloseRoom),
		}
	}
	tenSeconds := station.NewEngine[*tenseconds.SessionState, *tenseconds.MemberState](
		tenseconds.New(
			tenseconds.WithStopAfter(cfg.Station.TenSecondsStopAfter),
			tenseconds.WithBurst(cfg.Station.TenSecondsBurst),
		),
		sessions, users, hub, engineOpts(tenseconds.GameType)...,
	)
	mafiaEngine := station.NewEngine[*mafia.SessionState, *mafia.MemberState](
		mafia.New(
			mafia.WithRandom(random.NewCryptoSource()),
			mafia.WithDayDelay(cfg.Station.MafiaDayDelay),
		),
		sessions, users, hub, engineOpts(mafia.GameType)...,
	)
	poker := station.NewEngine[*sevenpoker.SessionState, *sevenpoker.MemberState](
		sevenpoker.New(sevenpoker.WithCeiling(ceiling)),
		sessions, users, hub, engineOpts(sevenpoker.GameType)...,
	)

	router, err := station.NewRouter(logger.Named("router"), tenSeconds, mafiaEngine, poker)
	if err != nil {
		logger.Fatal("registering stations", zap.Error(err))
	}

	games := make([]string, 0, 3)
	for _, st := range router.Stations() {
		games = append(games, string(st.GameType()))
	}
	health := server.NewHealth(cfg.Health.Addr(), logger.Named("health"), games...)
	lifecycle.Add("health", health)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/loglevel", logger.Level)
	lifecycle.Add("metrics", server.HTTPService(&http.Server{
		Addr:              cfg.Metrics.Addr(),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}))

	reclaimCtx, stopReclaim := context.WithCancel(ctx)
	reclaimer := station.NewReclaimer(router, cfg.Station.ReclaimInterval, logger.Named("reclaim"))
	lifecycle.Add("reclaimer", &server.FuncService{
		StartFn: func() error {
			_ = reclaimer.Run(reclaimCtx)
			return nil
		},
		StopFn: stopReclaim,
	})

	if pool != nil {
		stopPing := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(dbHealthInterval)
				defer ticker.Stop()
				for {
					select {
					case <-stopPing:
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
							health.SetServing("", false)
							continue
						}
						health.SetServing("", true)
					}
				}
			},
			StopFn: func() {
				close(stopPing)
				pool.Close()
			},
		})
	}

	gw := gateway.New(cfg.Gateway, hub, router, sessions,
		gateway.HeaderAuthenticator{Header: cfg.Gateway.UserHeader}, metrics, logger.Named("gateway"))
	gatewayMux := http.NewServeMux()
	gatewayMux.Handle("/ws", gw)
	gatewayHTTP := server.HTTPService(&http.Server{
		Addr:              cfg.Gateway.Addr(),
		Handler:           gatewayMux,
		ReadHeaderTimeout: 5 * time.Second,
	})
	lifecycle.Add("gateway", &server.FuncService{
		StartFn: gatewayHTTP.Start,
		StopFn: func() {
			gatewayHTTP.Stop()
			hub.Close()
		},
	})

	health.SetServing("", true)
	for _, game := range games {
		health.SetServing(game, true)
	}

	logger.Info("station daemon initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Strings("games", games),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

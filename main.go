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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"totelabel/pkg/label"
	"totelabel/pkg/metrics"
	"totelabel/pkg/notify"
	"totelabel/process/dropdir"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env never overrides variables that are already set
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.DefaultContextLogger = &log.Logger

	cfg, err := loadConfig(ctx, envconfig.OsLookuper())
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// `labelsrv migrate` runs AutoMigrate and exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if cfg.DBDSN == "" {
			log.Fatal().Msg("DB_DSN is not set")
		}
		db, err := openDB(cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect database")
		}
		migrateDB(db)
		fmt.Println("migration completed")
		return
	}

	registry := label.NewRegistry()
	if cfg.ProfilesFile != "" {
		if registry, err = label.LoadRegistry(cfg.ProfilesFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.ProfilesFile).Msg("load display profiles")
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("open artifact store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close artifact store")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []label.Option{label.WithObserver(m)}
	if cfg.NATSURL != "" {
		pub, err := notify.Connect(cfg.NATSURL, cfg.NATSSubject, m)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect nats")
		}
		defer pub.Close()
		opts = append(opts, label.WithListener(pub))
	}
	builder := label.NewBuilder(registry, store, opts...)

	if cfg.DropDir != "" {
		w := dropdir.New(cfg.DropDir, cfg.DropWorkers, cfg.MaxUploadBytes, builder)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Str("dir", cfg.DropDir).Msg("drop dir watcher stopped")
			}
		}()
	}

	gin.SetMode(cfg.GinMode)
	s := newServer(cfg, store, builder, m, reg)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("starting label server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}

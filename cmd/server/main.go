package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/mkrav/confa/internal/adapters/http"
	"github.com/mkrav/confa/internal/adapters/lobby"
	"github.com/mkrav/confa/internal/adapters/rtc"
	ws "github.com/mkrav/confa/internal/adapters/signal"
	"github.com/mkrav/confa/internal/app"
	"github.com/mkrav/confa/internal/config"
	"github.com/mkrav/confa/internal/engine"
	"github.com/mkrav/confa/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	registry := prometheus.NewRegistry()
	counters := engine.NewStreamCounters(registry)

	workers := rtc.NewLocalWorkers(cfg.EngineWorkers)
	gw := engine.NewGateway(workers, counters)
	alloc := engine.NewBitrateAllocator(engine.Capacity{
		NetworkInMbit:  cfg.NetworkInMbit,
		NetworkOutMbit: cfg.NetworkOutMbit,
		MaxAudioMbit:   cfg.MaxAudioMbit,
	})

	var store storage.RoomStore
	if cfg.MongoURI != "" {
		mongoStore, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatal().Err(err).Msg("mongo connect failed")
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := mongoStore.Close(closeCtx); err != nil {
				log.Error().Err(err).Msg("mongo close")
			}
		}()
		store = mongoStore
		log.Info().Str("db", cfg.MongoDB).Msg("using mongo room store")
	} else {
		store = storage.NewMemoryStore()
		log.Info().Msg("using in-memory room store")
	}

	var notifier app.LobbyNotifier = app.NopNotifier{}
	if cfg.AmqpURI != "" {
		queue, err := lobby.NewRabbitMQQueue(cfg.AmqpURI, "confa.rooms")
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connect failed")
		}
		defer queue.Close()
		notifier = lobby.NewNotifier(queue)
		log.Info().Msg("lobby notifications enabled")
	}

	rooms := app.NewRoomManager(ctx, gw, alloc, store, notifier)
	if err := rooms.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("room restore failed")
	}

	ctl := ws.NewController(rooms)
	r := router.SetupRouter(ctx, cfg, rooms, ctl, registry)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Confa server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/abnjv/Ha-sub000/internal/adapters/http"
	sigadapter "github.com/abnjv/Ha-sub000/internal/adapters/signal"
	"github.com/abnjv/Ha-sub000/internal/adapters/store"
	"github.com/abnjv/Ha-sub000/internal/app"
	"github.com/abnjv/Ha-sub000/internal/app/orch"
	"github.com/abnjv/Ha-sub000/internal/config"
	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/notify"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	var profiles core.ProfileStore
	var roomIndex *store.RoomIndex
	if redisClient, err := store.Connect(ctx, cfg.RedisAddr, cfg.RedisDB); err != nil {
		// Redis only serves lookups; the relay runs without it.
		log.Warn().Err(err).Msg("redis unavailable, running without profile store")
	} else {
		defer redisClient.Close()
		profiles = store.NewProfileStore(redisClient)
		roomIndex = store.NewRoomIndex(redisClient)
	}

	rooms := app.NewRoomManager()
	streams := app.NewStreamManager()
	relay := orch.New(app.NewRegistry(), rooms, streams, app.SimplePolicy{}, notify.NewLogNotifier())

	ctrl := sigadapter.NewController(relay, profiles, cfg.ReadLimit, cfg.PingPeriod)
	api := &router.API{
		Rooms:   rooms,
		Streams: streams,
		Index:   roomIndex,
		Secret:  cfg.Secret,
	}

	r := router.SetupRouter(ctx, cfg, ctrl, api)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

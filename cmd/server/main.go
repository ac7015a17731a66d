package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/campfire-im/relay/internal/adapters/http"
	"github.com/campfire-im/relay/internal/adapters/signal"
	"github.com/campfire-im/relay/internal/app"
	"github.com/campfire-im/relay/internal/auth"
	"github.com/campfire-im/relay/internal/config"
	repomem "github.com/campfire-im/relay/internal/repo/memory"
	"github.com/campfire-im/relay/internal/store"
	storedynamo "github.com/campfire-im/relay/internal/store/dynamo"
	storemem "github.com/campfire-im/relay/internal/store/memory"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	sessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init session store")
	}

	users := repomem.NewUsers()
	messages := repomem.NewMessages()
	conversations := repomem.NewConversations()
	callRecords := repomem.NewCalls()

	presence := app.NewPresence(users)
	registry := app.NewRegistry(sessions, presence)
	rooms := app.NewRooms(sessions, conversations, registry)
	calls := app.NewCalls(callRecords, conversations)
	relay := app.NewRelay(sessions, registry, calls)

	verifier := auth.NewJWTVerifier(cfg.Secret)

	controller := &signal.Controller{
		Verifier:      verifier,
		Registry:      registry,
		Rooms:         rooms,
		Relay:         relay,
		Calls:         calls,
		Messages:      messages,
		Conversations: conversations,
		Limiter:       app.NewRateLimiter(cfg.RateLimit.Events, cfg.RateLimit.Interval),
		ReadLimit:     cfg.ReadLimit,
		SendBuffer:    cfg.SendBuffer,
	}

	r := router.SetupRouter(ctx, router.Deps{
		Config:   cfg,
		Verifier: verifier,
		Calls:    calls,
		Signal:   controller,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Backend).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func newSessionStore(ctx context.Context, cfg *config.Config) (store.SessionStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return storemem.New(), nil
	case "dynamo":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.Region))
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		return storedynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.Store.Table, cfg.Store.TTL), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

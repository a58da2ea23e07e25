package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-relay/internal/config"
	"github.com/rocketscienceinc/tictactoe-relay/internal/relay"
	"github.com/rocketscienceinc/tictactoe-relay/internal/room"
	"github.com/rocketscienceinc/tictactoe-relay/internal/router"
	"github.com/rocketscienceinc/tictactoe-relay/internal/store"
	"github.com/rocketscienceinc/tictactoe-relay/internal/userstate"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisClient, err := relay.NewClient(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis relay: %w", err)
	}

	defer func() {
		if err = redisClient.Close(); err != nil {
			log.Error("could not close redis client", "error", err)
		}
	}()

	localStore, err := store.NewBadgerStore(conf.StorePath)
	if err != nil {
		return fmt.Errorf("could not open local store: %w", err)
	}

	defer func() {
		if err = localStore.Close(); err != nil {
			log.Error("could not close local store", "error", err)
		}
	}()

	sessionContext := userstate.New(localStore)
	if err = sessionContext.Load(); err != nil {
		return fmt.Errorf("could not load session context: %w", err)
	}

	presenceRelay := relay.NewRedis(logger, redisClient, conf.ChannelPrefix, conf.HeartbeatInterval)
	logRouter := router.NewLogRouter(logger)

	terminal := newTerminalClient(logger, presenceRelay, sessionContext, logRouter, room.Policy(conf.ResumePolicy))

	log.Info("Starting terminal client")

	return terminal.Run(ctx)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kelvince01/kaa-realtime/internal/api"
	"github.com/Kelvince01/kaa-realtime/internal/config"
	"github.com/Kelvince01/kaa-realtime/internal/database"
	"github.com/Kelvince01/kaa-realtime/internal/presence"
	"github.com/Kelvince01/kaa-realtime/internal/server"
	"github.com/Kelvince01/kaa-realtime/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	redisAddr      string
	signingSecret  string
	debug          bool
	allowedOrigins stringSliceFlag
)

func main() {
	env, err := config.FromEnv()
	if err != nil {
		log.Fatal("config from env:", err)
	}

	flag.StringVar(&addr, "addr", env.ServerAddr, "server address")
	flag.StringVar(&dsn, "dsn", env.DatabaseDSN, "database connection string")
	flag.StringVar(&redisAddr, "redis-addr", env.RedisAddr, "redis address for shared presence (empty for in-memory)")
	flag.StringVar(&signingSecret, "signing-secret", env.SigningSecret, "base64 encoded session signing secret")
	flag.BoolVar(&debug, "debug", env.Debug, "enable debug logging")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = env.AllowedOrigins
	}

	cfg, err := config.NewConfig(addr, dsn, redisAddr, signingSecret, allowedOrigins, debug)
	if err != nil {
		log.Fatal("config:", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatal("logger:", err)
	}
	defer logger.Sync()

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("db close", zap.Error(err))
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	store, err := newPresenceStore(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("presence store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("presence store close", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, db, store, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server", zap.Error(err))
	}

	srv := api.NewRealtimeApp(mux, logger, chatServer, db, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server", zap.Error(err))
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatal("http server shutdown", zap.Error(err))
	}

	logger.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatal("chat server shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newPresenceStore picks the presence backend: redis when an address is
// configured so multiple instances share online state, otherwise process
// memory.
func newPresenceStore(redisAddr string) (presence.Store, error) {
	if redisAddr == "" {
		return presence.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return presence.NewRedisStore(client), nil
}

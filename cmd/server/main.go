package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/planforge/teamchat/internal/api"
	"github.com/planforge/teamchat/internal/bus"
	"github.com/planforge/teamchat/internal/chat"
	"github.com/planforge/teamchat/internal/config"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/directory"
	"github.com/planforge/teamchat/internal/stats"
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
	redisURL       string
	signingKey     string
	allowedOrigins stringSliceFlag
	summaryRefresh time.Duration
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional; flags and the environment take over without one
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("TEAMCHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("TEAMCHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&redisURL, "redis-url", envOr("TEAMCHAT_REDIS_URL", ""), "redis url for cross-instance events (empty for in-process bus)")
	flag.StringVar(&signingKey, "signing-key", envOr("TEAMCHAT_SIGNING_KEY", ""), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&summaryRefresh, "summary-refresh", 5*time.Second, "channel list refresh interval")
	flag.Parse()

	logger := log.New(os.Stderr, "[teamchat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisURL, signingKey, allowedOrigins, summaryRefresh)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgTeamChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	var eventBus bus.Bus
	if cfg.RedisURL != "" {
		eventBus, err = bus.NewRedisBus(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("redis bus:", err)
		}
	} else {
		eventBus = bus.NewMemoryBus(logger)
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Println("bus close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := chat.NewChatServer(logger, dbConn, eventBus, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	dir := directory.NewDirectory(logger, dbConn)

	srv := api.NewTeamChatApp(mux, logger, chatServer, dir, dbConn, statsUpdater, cfg)

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
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/antlaw0/AI-DM-v2/internal/config"
	"github.com/antlaw0/AI-DM-v2/internal/handler"
	"github.com/antlaw0/AI-DM-v2/internal/logger"
	"github.com/antlaw0/AI-DM-v2/internal/repository"
	gameService "github.com/antlaw0/AI-DM-v2/internal/service/game"
	"github.com/antlaw0/AI-DM-v2/internal/service/llm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.Init(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := repository.Open(cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err))
	}
	defer func() {
		if err := repository.Close(db); err != nil {
			zapLogger.Warn("failed to close database", zap.Error(err))
		}
	}()

	users := repository.NewUserRepository(db)
	messages := repository.NewMessageRepository(db)
	states := repository.NewGameStateRepository(db)

	completer := llm.NewClient(cfg.LLM, zapLogger)
	gameSvc := gameService.NewService(users, messages, states, completer, cfg.Game.HistoryLimit, zapLogger)

	router := handler.NewRouter(gameSvc, zapLogger)

	startServer(ctx, cfg.Server, router, zapLogger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("AI dungeon master backend listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

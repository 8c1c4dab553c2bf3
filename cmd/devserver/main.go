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

	"github.com/zhouzirui/z-tavern/messenger/internal/config"
	"github.com/zhouzirui/z-tavern/messenger/internal/devapi"
	"github.com/zhouzirui/z-tavern/messenger/internal/handler"
	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
)

const demoPassword = "password123"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	api := devapi.New(handler.Options{AccessLog: cfg.Server.AccessLog})

	if cfg.Server.SeedDemo {
		if err := seedDemo(ctx, api); err != nil {
			logger.Log.Fatal("seed_failed", zap.Error(err))
		}
	} else {
		logger.Log.Info("seed_skipped", zap.String("hint", "set MESSENGER_SEED_DEMO=true for demo accounts"))
	}

	startServer(ctx, cfg.Server, api.Handler())
}

// seedDemo creates two verified accounts with an open conversation.
func seedDemo(ctx context.Context, api *devapi.API) error {
	alice, err := api.SeedUser(ctx, "alice@example.com", demoPassword, "Alice", "+10000000001")
	if err != nil {
		return err
	}
	bob, err := api.SeedUser(ctx, "bob@example.com", demoPassword, "Bob", "+10000000002")
	if err != nil {
		return err
	}
	conversationID, err := api.Connect(ctx, alice, bob)
	if err != nil {
		return err
	}
	logger.Log.Info("demo_seeded",
		zap.String("alice", alice.Email),
		zap.String("bob", bob.Email),
		zap.String("password", demoPassword),
		zap.String("conversation", conversationID),
	)
	return nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Log.Info("devserver_listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Log.Fatal("server_error", zap.Error(err))
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

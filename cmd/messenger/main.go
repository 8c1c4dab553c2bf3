// Command messenger is a terminal client for the messaging API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/api"
	"github.com/zhouzirui/z-tavern/messenger/internal/backend"
	"github.com/zhouzirui/z-tavern/messenger/internal/config"
	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/auth"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/call"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/status"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/synchronizer"
	"github.com/zhouzirui/z-tavern/messenger/internal/session"
	"github.com/zhouzirui/z-tavern/messenger/internal/storage"
)

// app holds the services shared by every command.
type app struct {
	cfg           *config.Config
	store         storage.Store
	session       *session.Session
	client        *api.Client
	auth          *auth.Service
	conversations *conversation.Service
	shadows       *storage.ShadowStore

	status    *status.Service
	calls     *call.Service
	directory *conversation.Directory
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	a := &app{}
	root := a.rootCommand()
	err := root.ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil {
		log.Printf("warning: failed to close store: %v", closeErr)
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "messenger",
		Short:        "Chat from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.open()
		},
	}

	root.AddCommand(
		a.signupCommand(),
		a.loginCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.verifyEmailCommand(),
		a.forgotPasswordCommand(),
		a.resetPasswordCommand(),
		a.chatsCommand(),
		a.usersCommand(),
		a.newChatCommand(),
		a.messagesCommand(),
		a.sendCommand(),
		a.editCommand(),
		a.deleteCommand(),
		a.watchCommand(),
		a.statusCommand(),
		a.callsCommand(),
	)
	return root
}

func (a *app) open() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg

	if cfg.Store.Path == "" {
		a.store = storage.NewMemoryStore()
	} else {
		store, err := storage.OpenPebble(cfg.Store.Path)
		if err != nil {
			return err
		}
		a.store = store
	}

	a.session = session.New(a.store)
	a.client = api.New(cfg.API.BaseURL, a.session, api.Options{
		Timeout: cfg.API.Timeout,
		RPS:     cfg.API.RPS,
		Burst:   cfg.API.Burst,
	})
	a.auth = auth.NewService(a.client, a.session)
	a.conversations = conversation.NewService(a.client)
	a.shadows = storage.NewShadowStore(a.store)

	if cfg.Backend.Enabled() {
		db := backend.New(cfg.Backend.URL, cfg.Backend.AnonKey, &http.Client{Timeout: cfg.API.Timeout})
		a.status = status.NewService(db)
		a.calls = call.NewService(db)
		a.directory = conversation.NewDirectory(db)
	}
	return nil
}

func (a *app) close() error {
	logger.Sync()
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// synchronizer returns a synchronizer bound to conversationID and fetched.
func (a *app) synchronizer(ctx context.Context, conversationID string) (*synchronizer.Synchronizer, error) {
	s := synchronizer.New(a.client, a.session, a.shadows)
	if err := s.Bind(conversationID); err != nil {
		return nil, err
	}
	if err := s.Fetch(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// requireUser fails unless a session is stored.
func (a *app) requireUser() (string, error) {
	id := a.session.UserID()
	if id == "" {
		return "", fmt.Errorf("not signed in, run `messenger login` first")
	}
	return id, nil
}

// serveMetrics exposes the prometheus registry on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Log.Info("metrics_listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Warn("metrics_server_failed", zap.Error(err))
	}
}

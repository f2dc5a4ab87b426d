package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fontsync/internal/auth"
	"fontsync/internal/config"
	"fontsync/internal/database"
	"fontsync/internal/hub"
	"fontsync/internal/logging"
	"fontsync/internal/storage"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("fontsync failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync hub and file API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}

	root := &cobra.Command{
		Use:          "fontsync",
		Short:        "Real-time font library synchronization server.",
		SilenceUsage: true,
		// main logs the returned error.
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("FONTSYNC_CONFIG"), "path to a YAML config file")
	root.AddCommand(serveCmd, &cobra.Command{
		Use:   "version",
		Short: "Print the version of fontsync.",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func runServer(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}
	slog.Info("configuration loaded", "config", cfg.String())

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}
	provider := auth.NewProvider(auth.ProviderConfig{URL: cfg.Auth.ProviderURL, AnonKey: cfg.Auth.AnonKey})

	h, err := hub.New(hub.Options{
		WriteTimeout:    cfg.Hub.WriteTimeout,
		MaxMessageBytes: cfg.Hub.MaxMessageBytes,
	})
	if err != nil {
		return err
	}
	relay := hub.NewRelay(h, hub.RelayOptions{
		Buffer:         cfg.Hub.RelayBuffer,
		EnqueueTimeout: cfg.Hub.EnqueueTimeout,
	})

	// Sessions outlive the relay: they are closed by h.Close, after the relay
	// has drained.
	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(relayCtx); err != nil {
			slog.Error("relay stopped", "error", err)
		}
	}()

	controller := NewController(sessionCtx, h, relay, store, db, provider, ControllerOptions{
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowOrigin:    cfg.CORS.AllowsOrigin,
	})
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           newRouter(controller, verifier, cfg.CORS),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "address", cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	stopRelay()
	<-relayDone
	h.Close()
	cancelSessions()
	return nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3.URL,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
		})
	case "fs":
		slog.Info("filesystem storage configured", "root", cfg.Root)
		return storage.NewDirStore(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

func newRouter(c *Controller, v auth.Verifier, corsCfg config.CORSConfig) http.Handler {
	protected := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(v, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", c.HandleHello)
	mux.HandleFunc("GET /health", c.HandleHealth)
	mux.HandleFunc("POST /auth/login", c.HandleLogin)
	mux.HandleFunc("POST /auth/logout", c.HandleLogout)
	mux.Handle("GET /auth/me", protected(c.HandleMe))
	mux.Handle("GET /ws", protected(c.HandleWS))
	mux.Handle("PUT /upload", protected(c.HandleUpload))
	mux.Handle("GET /files", protected(c.HandleListFiles))
	mux.Handle("GET /files/{key...}", protected(c.HandleGetFile))
	mux.Handle("DELETE /files/{key...}", protected(c.HandleDeleteFile))

	return cors.New(cors.Options{
		AllowedOrigins: corsCfg.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization", auth.ClientIDHeader},
	}).Handler(mux)
}

// Command data-connect-proxy runs the authorization broker with its consent
// web endpoints. Durable state is loaded from the snapshot file at startup
// and written back at clean shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/consometers/data-connect-proxy/commands"
	"github.com/consometers/data-connect-proxy/dataconnect"
	"github.com/consometers/data-connect-proxy/proxy"
	"github.com/consometers/data-connect-proxy/server"
	"github.com/consometers/data-connect-proxy/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}

	stores := store.NewStores()
	if err := stores.Load(cfg.StateFile); err != nil {
		return err
	}
	logger.Info("state loaded", zap.String("file", cfg.StateFile))

	production := dataconnect.NewClient(dataconnect.Config{
		ClientID:     cfg.DataConnect.Production.ClientID,
		ClientSecret: cfg.DataConnect.Production.ClientSecret,
		RedirectURI:  cfg.DataConnect.RedirectURI,
	})
	sandbox := dataconnect.NewClient(dataconnect.Config{
		ClientID:     cfg.DataConnect.Sandbox.ClientID,
		ClientSecret: cfg.DataConnect.Sandbox.ClientSecret,
		RedirectURI:  cfg.DataConnect.RedirectURI,
		Sandbox:      true,
	})

	// The messaging transport hooks in here: its session provides the send
	// callback and drives the command engine below.
	notifier := &commands.GrantNotifier{
		Send: func(to, body string) error {
			logger.Info("grant notification",
				zap.String("to", to),
				zap.String("body", body))
			return nil
		},
		Logger: logger,
	}

	p := proxy.New(production, sandbox, stores, notifier, cfg.PublicBaseURL, logger)
	engine := commands.NewEngine(p, logger)
	logger.Info("command engine ready", zap.Strings("nodes", engine.Nodes()))

	web := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.NewGinEngine(server.NewServer(p, logger)),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web interface listening", zap.String("addr", cfg.Listen))
		if err := web.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := web.Shutdown(shutdownCtx); err != nil {
		logger.Error("web shutdown failed", zap.Error(err))
	}

	if err := p.Save(cfg.StateFile); err != nil {
		return err
	}
	logger.Info("state saved", zap.String("file", cfg.StateFile))
	return nil
}

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

	"github.com/spf13/cobra"

	"github.com/plouffe/rdv/internal/auth"
	"github.com/plouffe/rdv/internal/calendar"
	"github.com/plouffe/rdv/internal/compose"
	"github.com/plouffe/rdv/internal/config"
	"github.com/plouffe/rdv/internal/engine"
	httpapi "github.com/plouffe/rdv/internal/http"
	"github.com/plouffe/rdv/internal/intent"
	"github.com/plouffe/rdv/internal/llm"
	"github.com/plouffe/rdv/internal/mail"
	"github.com/plouffe/rdv/internal/senders"
	"github.com/plouffe/rdv/internal/server"
	"github.com/plouffe/rdv/internal/storage/sqlite"
	"github.com/plouffe/rdv/internal/ws"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling assistant server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "rdv.yaml", "Path to the configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	base, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	store := sqlite.NewResilient(base)
	defer store.Close()

	keysPath := cfg.Server.KeysFile
	if v := os.Getenv("RDV_KEYS_FILE"); v != "" {
		keysPath = v
	}
	keyring, err := auth.LoadKeyring(keysPath)
	if err != nil {
		return err
	}

	model := llm.NewClient(cfg.Model)
	classifier := intent.NewClassifier(model, cfg.Scheduling.Location())
	composer, err := compose.New(cfg.Scheduling.Location(), "The rdv scheduling assistant", compose.WithModel(model))
	if err != nil {
		return err
	}

	allow, err := senders.New(cfg.Mail.AllowedSenders)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	eng := engine.New(
		store,
		mail.NewMailbox(cfg.Mail),
		calendar.NewClient(cfg.Calendar),
		classifier,
		composer,
		hub,
		cfg.Scheduling,
	).WithAllowlist(allow)

	sweeper := sqlite.NewSweeper(store, hub, time.Hour, cfg.Scheduling.Inactivity)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper.Start(sweepCtx)

	svc := httpapi.NewService(store, eng)
	router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(keyring))

	srv, err := server.New(server.Config{
		Addr:       cfg.Server.Addr,
		SocketPath: cfg.Server.SocketPath,
		Handler:    router,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("rdv listening on %s", cfg.Server.Addr)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

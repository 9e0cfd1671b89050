// Command inaud is the INAU daemon: it owns the catalog, the content
// store, the Builder Pool, and the Webhook Gateway behind one HTTP
// listener. Wiring and signal handling follow internal/cli/daemon.go's
// pattern (SIGTERM/SIGINT drain the server, a signal the teacher
// dedicates to gRPC shutdown is repurposed here for SIGHUP-triggered
// Builder Pool reconciliation, matching inau-dispatcher.py's SIGUSR1
// handler).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abogani/inau/internal/builder"
	"github.com/abogani/inau/internal/catalog"
	"github.com/abogani/inau/internal/config"
	"github.com/abogani/inau/internal/notify"
	"github.com/abogani/inau/internal/sshexec"
	"github.com/abogani/inau/internal/store"
	"github.com/abogani/inau/internal/webhook"
	"github.com/abogani/inau/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inaud",
	Short: "INAU build-and-install daemon",
	Long: `inaud schedules builds from GitLab tag-push webhooks, runs them across
a fleet of per-platform builder hosts over SSH, and places their artifacts
onto facility servers on operator request.`,
	Version: "0.1.0-dev",
	RunE:    runServe,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/inau/inaud.yaml", "path to inaud's YAML configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.NewDefault()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer db.Close()

	artifactStore, err := store.New(cfg.Store.Root)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	buildSSH, err := sshexec.NewSSHClient(cfg.Builder.SSHUser, cfg.Builder.SSHKeyPath, 30*time.Second)
	if err != nil {
		return fmt.Errorf("build ssh client: %w", err)
	}

	notifier := notify.New(notify.Config{
		Host: cfg.SMTP.Host, Port: cfg.SMTP.Port, Sender: cfg.SMTP.Sender, Domain: cfg.Webhook.EmailDomain,
	}, log)

	pool := builder.NewPool(builder.Deps{
		Catalog: db, Store: artifactStore, SSH: buildSSH, Notifier: notifier, Log: log,
		WorkspaceRoot: cfg.Builder.WorkspaceRoot, BuildTimeout: cfg.Builder.BuildTimeout,
		MacrosRepoURL: cfg.Builder.MacrosRepoURL, MacrosBranch: cfg.Builder.MacrosBranch, MacrosPath: cfg.Builder.MacrosPath,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.RecoverStaleBuilds(ctx); err != nil {
		log.Error("recover stale builds", err)
	}
	if err := pool.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial builder pool reconcile: %w", err)
	}

	gw := webhook.New(webhook.Config{
		EmailDomain: cfg.Webhook.EmailDomain, Secret: cfg.Webhook.Secret,
	}, db, pool, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	errCh := make(chan error, 1)
	go func() {
		log.Info("inaud listening on " + cfg.Listen)
		if err := gw.Start(cfg.Listen); err != nil {
			errCh <- err
		}
	}()

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info("SIGHUP received, reconciling builder pool")
				if err := pool.Reconcile(ctx); err != nil {
					log.Error("reconcile builder pool", err)
				}
				continue
			}
			log.Info("shutdown signal received, draining")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			pool.Stop()
			return gw.Stop(shutdownCtx)
		case err := <-errCh:
			pool.Stop()
			return fmt.Errorf("gateway error: %w", err)
		}
	}
}

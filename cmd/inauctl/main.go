// Command inauctl is the operator-facing counterpart to inaud: it runs
// installer.Install directly against the catalog, store, and a
// configured SSH key, the way an administrator at a terminal invokes
// original_source/inau.py's install() today. spec.md §1 puts the
// administrative REST surface out of scope, so this is a local CLI
// rather than an HTTP client — grounded on internal/cli/root.go's
// cobra wiring, generalized from smidr's single build-tool root command
// to inauctl's install/status subcommands, with config loaded through
// this module's own internal/config YAML loader rather than viper.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/abogani/inau/internal/catalog"
	"github.com/abogani/inau/internal/config"
	"github.com/abogani/inau/internal/installer"
	"github.com/abogani/inau/internal/sshexec"
	"github.com/abogani/inau/internal/store"
	"github.com/abogani/inau/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "inauctl",
	Short:   "Operator CLI for the INAU installer and catalog",
	Version: "0.1.0-dev",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/inau/inaud.yaml", "path to inaud's YAML configuration")
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	installUsername string
	installRepo     string
	installTag      string
	installScope    string
	installFacility string
	installHost     string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a built tag onto a host, facility, or the whole fleet",
	RunE:  runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installUsername, "user", "", "requesting username (required)")
	installCmd.Flags().StringVar(&installRepo, "repository", "", "repository name (required)")
	installCmd.Flags().StringVar(&installTag, "tag", "", "tag to install (required)")
	installCmd.Flags().StringVar(&installScope, "scope", "host", "install scope: global, facility, or host")
	installCmd.Flags().StringVar(&installFacility, "facility", "", "facility name (required for facility/host scope)")
	installCmd.Flags().StringVar(&installHost, "host", "", "host name (required for host scope)")
	for _, name := range []string{"user", "repository", "tag"} {
		installCmd.MarkFlagRequired(name)
	}
}

func runInstall(cmd *cobra.Command, args []string) error {
	scope, err := parseScope(installScope)
	if err != nil {
		return err
	}

	cfg, db, st, err := openCatalogAndStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sshClient, err := sshexec.NewSSHClient(cfg.Installer.SSHUser, cfg.Installer.SSHKeyPath, cfg.Installer.Timeout)
	if err != nil {
		return fmt.Errorf("ssh client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Installer.Timeout)
	defer cancel()

	results, err := installer.Install(ctx, installer.Deps{
		Catalog: db, Store: st, SSH: sshClient, Log: logger.NewDefault(),
	}, installer.Request{
		Username: installUsername, Repository: installRepo, Tag: installTag,
		Scope: scope, FacilityName: installFacility, HostName: installHost,
	})
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}

	for _, r := range results {
		fmt.Printf("installed %s@%s on %s (facility %s) at %s by %s\n",
			r.Repository, r.Tag, r.Host, r.Facility, r.Date.Format(time.RFC3339), r.Author)
	}
	return nil
}

func parseScope(s string) (installer.Scope, error) {
	switch s {
	case "global":
		return installer.ScopeGlobal, nil
	case "facility":
		return installer.ScopeFacility, nil
	case "host":
		return installer.ScopeHost, nil
	default:
		return 0, fmt.Errorf("unknown scope %q (want global, facility, or host)", s)
	}
}

var (
	statusView       string
	statusHost       string
	statusFacility   string
	statusRepository string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status/diff/history installation report",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusView, "view", "status", "status, diff, or history")
	statusCmd.Flags().StringVar(&statusHost, "host", "", "filter by host name")
	statusCmd.Flags().StringVar(&statusFacility, "facility", "", "filter by facility name")
	statusCmd.Flags().StringVar(&statusRepository, "repository", "", "filter by repository name")
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, db, _, err := openCatalogAndStore()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.InstallationReport(context.Background(), statusView, statusHost, statusFacility, statusRepository)
	if err != nil {
		return fmt.Errorf("installation report: %w", err)
	}
	for _, r := range rows {
		fmt.Printf("%-20s %-20s %-20s %-12s %s  %s\n",
			r.Facility, r.Host, r.Repository, r.Tag, r.Date.Format(time.RFC3339), r.Author)
	}
	return nil
}

func openCatalogAndStore() (*config.Config, *catalog.DB, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	st, err := store.New(cfg.Store.Root)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, db, st, nil
}

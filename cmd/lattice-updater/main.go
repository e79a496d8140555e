package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lattice-cms/updater/internal/config"
)

var (
	version    = "0.1.0"
	cfgFile    string
	gatewayURL string
	forceCheck bool
	rollbackTo string
)

var rootCmd = &cobra.Command{
	Use:   "lattice-updater",
	Short: "Lattice CMS updater",
	Long:  `Lattice Updater - update negotiation, artifact transfer, and database migration for a Lattice installation`,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report how many updates are outstanding",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s *services) error {
			count, err := s.negotiator.Check(ctx, forceCheck)
			if err != nil {
				return err
			}
			if count == 0 {
				fmt.Println("No updates available.")
			} else {
				fmt.Printf("%d update(s) available.\n", count)
			}
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply all pending migrations and reset the update counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s *services) error {
			return s.coordinator.RunFullUpdate(ctx)
		})
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Roll back every plugin and module and drop the migration ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s *services) error {
			return s.coordinator.UninstallAll(ctx)
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [unit-code]",
	Short: "Roll back one unit's migrations, fully or to a target version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s *services) error {
			if rollbackTo != "" {
				return s.engine.RollbackToVersion(ctx, args[0], rollbackTo)
			}
			return s.engine.Rollback(ctx, []string{args[0]})
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically check for updates until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		return runWatch(cmd.Context(), sigChan)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Lattice Updater v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/lattice/updater.yaml)")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "update gateway base URL")

	checkCmd.Flags().BoolVar(&forceCheck, "force", false, "negotiate with the gateway even inside the retry window")
	rollbackCmd.Flags().StringVar(&rollbackTo, "to", "", "target version to roll back to (default: full rollback)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if gatewayURL != "" {
		cfg.GatewayURL = gatewayURL
	}
	cfg.Validate()
	return cfg, nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cutover-sh/cutover/internal/app"
	"github.com/cutover-sh/cutover/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cutover control plane",
	Long: `Start the control plane: circuit breakers, the sync coordinator, the
read migration manager, and the admin API.

The server requires a configuration file (--config) that specifies:
- The write strategy (write-through or write-behind) and its targets
- Read repair and reconciliation settings
- Circuit breaker thresholds and the migration rollout phase

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides the config file)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Error binding address flag", "error", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Error binding config flag", "error", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Error marking config flag as required", "error", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	opts := []app.Option{app.WithConfig(cfg)}
	if address := viper.GetString("address"); address != "" {
		opts = append(opts, app.WithAddress(address))
	}

	a, err := app.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to build control plane: %w", err)
	}

	return a.Run(ctx)
}

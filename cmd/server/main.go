package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/campuslink/campuslink-server/internal/app"
	"github.com/campuslink/campuslink-server/internal/config"
	"github.com/campuslink/campuslink-server/internal/log"
)

var (
	flagAddr       string
	flagConfigPath string
	flagLogLevel   string
	flagPretty     bool
)

var rootCmd = &cobra.Command{
	Use:           "campuslink-server",
	Short:         "Realtime chat, presence, and call coordination server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides config)")
	rootCmd.Flags().StringVar(&flagConfigPath, "config", "", "path to config file")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&flagPretty, "pretty", false, "human-readable console log output")
}

func runServer(cmd *cobra.Command, _ []string) error {
	bootLogger := log.New("info", flagPretty)

	cfg, cfgPath, err := config.Load(bootLogger, flagConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Command-line flags win over config file and environment.
	cfg.UpdateFrom(config.Config{
		Addr:     flagAddr,
		LogLevel: flagLogLevel,
	})

	logger := log.New(cfg.LogLevel, flagPretty)
	if cfgPath != "" {
		logger.Info().Str("config", cfgPath).Msg("configuration loaded")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "healthstar",
		Short:         "Healthcare encounters warehouse: normalized store, star schema and analytics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(materializeCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(compareCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(seedPostgresCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes JSON lines, or a console format in development. The CLI
// commands log to stderr so stdout carries only results.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

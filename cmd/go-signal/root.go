package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/go-signal/internal/server"
	"github.com/a-essam23/go-signal/pkg/config"
	"github.com/a-essam23/go-signal/pkg/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "go-signal",
		Short: "WebRTC signaling relay",
		Long: `go-signal lets peers meet in named rooms over WebSocket and relays
their SDP offers, answers and ICE candidates untouched, so they can open a
direct peer-to-peer connection.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfgFile)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "config", "config file name or path")
	flags.Int("port", 8080, "port to listen on (PORT env wins)")
	flags.String("host", "", "interface to bind")
	flags.String("cert", "", "TLS certificate file (PEM)")
	flags.String("key", "", "TLS private key file (PEM)")
	flags.String("static-dir", "./dist", "directory with the client application")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("log-format", logging.FormatText, "text or json")
	return cmd
}

func run(cmd *cobra.Command, cfgFile string) error {
	// A missing .env file is fine.
	_ = godotenv.Load()

	bootLogger := logging.New(logging.LevelInfo)
	cfg, err := config.Load(bootLogger, cfgFile, cmd.Flags())
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		return err
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.New(level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(logger, ctx, cfg)
	if err != nil {
		logger.Error("Failed to build application", slog.Any("error", err))
		return err
	}
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("Application shut down successfully.")
	return nil
}

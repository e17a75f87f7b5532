// Command fusionbot runs the DEX arbitrage and liquidation bot.
//
//	fusionbot -config config.toml
//	fusionbot -config config.toml -encrypt-key wallet.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/fusionbot/internal/app"
	"github.com/alanyoungcy/fusionbot/internal/config"
	"github.com/alanyoungcy/fusionbot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty to skip)")
	encryptKey := flag.String("encrypt-key", "", "write wallet.private_key encrypted with wallet.key_password to this path and exit")
	flag.Parse()

	if err := run(*configPath, *encryptKey); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the JSON logger. Unknown levels fall back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func run(configPath, encryptKey string) error {
	logger := newLogger("info")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", configPath),
			slog.String("error", err.Error()),
		)
		return err
	}
	logger = newLogger(cfg.LogLevel)

	if encryptKey != "" {
		addr, err := crypto.WriteKeyFile(encryptKey, cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword)
		if err != nil {
			return fmt.Errorf("encrypt key: %w", err)
		}
		logger.Info("encrypted key written",
			slog.String("path", encryptKey),
			slog.String("address", addr.Hex()),
		)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}
	logger.Info("fusionbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Bool("dry_run", cfg.Executor.DryRun),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	err = application.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("fusionbot stopped")
	return nil
}

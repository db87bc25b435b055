// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/relabs-tech/ground_station/internal/app"
	"github.com/relabs-tech/ground_station/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "groundstation: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		replay     string
		port       string
		debug      bool
	)

	flagSet := pflag.NewFlagSet("groundstation", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the KEY=VALUE config file")
	flagSet.StringVar(&replay, "replay", "", "read lines from this capture file instead of the serial port")
	flagSet.StringVar(&port, "serial-port", "", "serial device, overrides SERIAL_PORT")
	flagSet.BoolVar(&debug, "debug", false, "log at debug level")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	overrides := map[string]string{}
	if replay != "" {
		overrides["REPLAY_FILE"] = replay
	}
	if port != "" {
		overrides["SERIAL_PORT"] = port
	}
	if err := config.InitGlobal(configPath, overrides); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Get()

	logger, err := app.NewLogger(cfg.LogLevel, debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting ground station",
		zap.String("config", configPath),
		zap.String("log", cfg.LogFile),
		zap.String("track", cfg.TrackFile))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.RunStation(ctx, cfg, logger)
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/relabs-tech/ground_station/internal/app"
	"github.com/relabs-tech/ground_station/internal/config"
)

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "path to the KEY=VALUE config file")
	pflag.Parse()

	log.Println("starting ground station console (MQTT subscriber)")

	if err := config.InitGlobal(*configPath, nil); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	logger, err := app.NewLogger(cfg.LogLevel, false)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg, os.Stdout, logger); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

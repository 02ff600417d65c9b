// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/maintenance"
	"github.com/teradata-labs/warp/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Warp HTTP server",
	Long: `Start the Warp server.

The server will:
- Open the conversation store (sqlite3, postgres, or mysql)
- Register LLM providers (credentials from the environment)
- Load workflow templates and watch the directory if configured
- Serve chat, SSE streaming, health, and Prometheus metrics over HTTP
- Run scheduled maintenance sweeps

Press Ctrl+C to gracefully shutdown.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	logger, err := buildLogger(config.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Warp Server", zap.String("version", rootCmd.Version))
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found, using defaults + environment variables")
	}

	svc, cleanup, err := buildServices(&config, logger)
	if err != nil {
		logger.Fatal("Startup failed", zap.Error(err))
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Templates.Watch {
		if err := svc.templates.Watch(ctx, config.Templates.Dir); err != nil {
			logger.Warn("template watch unavailable", zap.Error(err))
		}
	}

	var runner *maintenance.Runner
	if config.Maintenance.Enabled {
		runner, err = maintenance.New(maintenance.Config{
			Store:          svc.store,
			Security:       svc.security,
			Logger:         logger,
			Schedule:       config.Maintenance.Schedule,
			IdleAfter:      time.Duration(config.Maintenance.IdleDays) * 24 * time.Hour,
			AuditRetention: time.Duration(config.Maintenance.AuditRetentionDays) * 24 * time.Hour,
		})
		if err != nil {
			logger.Fatal("Maintenance setup failed", zap.Error(err))
		}
		if err := runner.Start(); err != nil {
			logger.Fatal("Maintenance schedule invalid", zap.Error(err))
		}
		defer runner.Stop()
	}

	srv := server.New(svc.orch, server.Config{
		Addr:     config.Server.Addr,
		Logger:   logger,
		Registry: svc.promReg,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
}

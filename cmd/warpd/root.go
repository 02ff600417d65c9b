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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/warp/internal/version"
)

var (
	cfgFile string
	config  Config
)

// Config holds all warpd configuration.
// Priority: CLI flags > config file > env vars > defaults.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Security    SecurityConfig    `mapstructure:"security"`
	Templates   TemplatesConfig   `mapstructure:"templates"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig selects the storage driver and DSN. Credentials belong in
// the DSN via environment, never in the config file.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ProvidersConfig selects the default LLM provider. API keys are read from
// the process environment only (ANTHROPIC_API_KEY, OPENAI_API_KEY, the AWS
// chain for bedrock).
type ProvidersConfig struct {
	Default       string `mapstructure:"default"`
	Model         string `mapstructure:"model"`
	OllamaHost    string `mapstructure:"ollama_host"`
	BedrockRegion string `mapstructure:"bedrock_region"`
}

// CacheConfig bounds the compiled-workflow cache.
type CacheConfig struct {
	Size int `mapstructure:"size"`
}

// SecurityConfig configures the authorization layer.
type SecurityConfig struct {
	AuditCapacity int      `mapstructure:"audit_capacity"`
	AdminUsers    []string `mapstructure:"admin_users"`
}

// TemplatesConfig points at the workflow template directory.
type TemplatesConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// ToolsConfig configures builtin tools. FileRoot jails the file_manager
// tool; empty disables it.
type ToolsConfig struct {
	FileRoot string `mapstructure:"file_root"`
}

// MaintenanceConfig drives the background housekeeping sweeps.
type MaintenanceConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Schedule           string `mapstructure:"schedule"`
	IdleDays           int    `mapstructure:"idle_days"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

// LoggingConfig configures the zap production logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

var rootCmd = &cobra.Command{
	Use:     "warpd",
	Short:   "Warp workflow chat engine",
	Long:    `Warp executes LLM chat workflows: plain, RAG, tool-calling, and full agentic modes over a persistent multi-tenant conversation store.`,
	Version: version.Get(),
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./warpd.yaml, /etc/warp/warpd.yaml)")
	rootCmd.PersistentFlags().String("addr", ":8080", "HTTP listen address")
	rootCmd.PersistentFlags().String("db-driver", "sqlite3", "database driver (sqlite3, postgres, mysql)")
	rootCmd.PersistentFlags().String("db-dsn", "warp.db", "database DSN")
	rootCmd.PersistentFlags().String("provider", "", "default LLM provider (anthropic, openai, bedrock, ollama)")

	_ = viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	_ = viper.BindPFlag("providers.default", rootCmd.PersistentFlags().Lookup("provider"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/warp/")
		viper.SetConfigName("warpd")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("WARP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The documented audit knob is WARP_AUDIT_CAPACITY, not the nested
	// WARP_SECURITY_AUDIT_CAPACITY the replacer would derive.
	_ = viper.BindEnv("security.audit_capacity", "WARP_AUDIT_CAPACITY")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("database.driver", "sqlite3")
	viper.SetDefault("database.dsn", "warp.db")
	viper.SetDefault("providers.default", "anthropic")
	viper.SetDefault("providers.model", "")
	viper.SetDefault("cache.size", 100)
	viper.SetDefault("security.audit_capacity", 10000)
	viper.SetDefault("templates.dir", "./templates")
	viper.SetDefault("templates.watch", false)
	viper.SetDefault("maintenance.enabled", true)
	viper.SetDefault("maintenance.schedule", "17 3 * * *")
	viper.SetDefault("maintenance.idle_days", 30)
	viper.SetDefault("maintenance.audit_retention_days", 90)
	viper.SetDefault("logging.level", "info")
}

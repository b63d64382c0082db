package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/compcache"
)

var rootCmd = &cobra.Command{
	Use:           "compcache",
	Short:         "Shared compilation cache",
	Long:          `compcache caches compiler output locally and optionally in shared remote storage, so identical compiles are served from the cache instead of being rerun.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "Config file (default $XDG_CONFIG_HOME/compcache/config.yaml)")
	rootCmd.PersistentFlags().String("addr", "127.0.0.1:4236", "Server address")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	_ = viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	viper.SetDefault("cache_dir", defaultCacheDir())
	viper.SetDefault("max_size", int64(0))
	viper.SetDefault("backend", "none")
	viper.SetDefault("prefix", "")
	viper.SetDefault("compression", "zstd")
	viper.SetDefault("max_compiles", int64(16))
	viper.SetDefault("idle_timeout", "10m")
	viper.SetDefault("remote_timeout", "5s")
	viper.SetDefault("remote_attempts", 3)
	viper.SetDefault("redis_ttl", "0")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(zeroStatsCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(clearCmd)
}

func initConfig() {
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "compcache"))
		}
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("COMPCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; env and flags still apply.
	_ = viper.ReadInConfig()
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "compcache")
	}

	return filepath.Join(os.TempDir(), "compcache")
}

func newLogger() *compcache.Logger {
	var level slog.Level

	switch strings.ToLower(viper.GetString("log_level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if strings.EqualFold(viper.GetString("log_format"), "json") {
		return compcache.NewJSONLogger(level)
	}

	return compcache.NewTextLogger(level)
}

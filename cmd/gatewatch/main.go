package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/gatewatch/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("GateWatch - Firewall Log Monitor\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	defaultDBPath := filepath.Join(home, ".local", "share", "gatewatch", "gatewatch.duckdb")

	v := viper.New()
	v.SetEnvPrefix("GATEWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("stats-interval", defaultStatsInterval)
	v.SetDefault("log-buffer", defaultLogBuffer)
	v.SetDefault("subscriber-queue", defaultSubscriberQueue)
	v.SetDefault("source-queue-size", defaultSourceQueue)
	v.SetDefault("persist-enabled", true)
	v.SetDefault("db-path", defaultDBPath)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("log-retention", defaultLogRetention)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "gatewatch", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}

	// Expand ~ in db-path
	if strings.HasPrefix(cfg.DBPath, "~/") {
		cfg.DBPath = filepath.Join(home, cfg.DBPath[2:])
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func validateConfig(cfg *appConfig) error {
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if len(cfg.Devices) == 0 {
		return errors.New("no devices configured")
	}
	for _, d := range cfg.Devices {
		if d.ID == "" {
			return errors.New("device with empty id")
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("device %s: invalid port %d", d.ID, d.Port)
		}
		if d.TCPPort < 0 || d.TCPPort > 65535 {
			return fmt.Errorf("device %s: invalid tcp-port %d", d.ID, d.TCPPort)
		}
	}
	return nil
}

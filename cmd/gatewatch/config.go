package main

import (
	"time"

	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/syslogd"
)

const (
	defaultStatsInterval       = model.DefaultStatsInterval
	defaultLogBuffer           = model.DefaultLogBuffer
	defaultSubscriberQueue     = model.DefaultSubscriberQLen
	defaultBindHost            = "0.0.0.0"
	defaultAPIPort             = 8080
	defaultQueryTimeout        = 30 * time.Second
	defaultInsertBatchSize     = 2000
	defaultInsertFlushInterval = 100 * time.Millisecond
	defaultInsertFlushQueue    = 64
	defaultLogRetention        = 30 // days, 0 = disabled
	defaultSourceQueue         = syslogd.DefaultQueueSize
)

// deviceConfig is one monitored firewall as declared in the config file.
type deviceConfig struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Port    int    `mapstructure:"port"`
	TCPPort int    `mapstructure:"tcp-port"`
}

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host                string         `mapstructure:"host"`
	APIPort             int            `mapstructure:"api-port"`
	APIAddr             string         `mapstructure:"api-addr"`
	StatsInterval       time.Duration  `mapstructure:"stats-interval"`
	LogBuffer           int            `mapstructure:"log-buffer"`
	SubscriberQueue     int            `mapstructure:"subscriber-queue"`
	SourceQueueSize     int            `mapstructure:"source-queue-size"`
	PersistEnabled      bool           `mapstructure:"persist-enabled"`
	DBPath              string         `mapstructure:"db-path"`
	QueryTimeout        time.Duration  `mapstructure:"query-timeout"`
	InsertBatchSize     int            `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration  `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int            `mapstructure:"insert-flush-queue-size"`
	LogRetention        int            `mapstructure:"log-retention"`
	Devices             []deviceConfig `mapstructure:"devices"`
	ConfigPath          string         `mapstructure:"-"` // not from config file
}

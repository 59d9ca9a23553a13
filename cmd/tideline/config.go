package main

import (
	"time"

	"github.com/tinytelemetry/tideline/internal/ingest"
	"github.com/tinytelemetry/tideline/internal/model"
)

const (
	defaultBindHost          = "127.0.0.1"
	defaultAPIPort           = 3000
	defaultTCPPort           = 4000
	defaultIngestBatchSize   = ingest.DefaultBatchSize
	defaultIngestFlush       = ingest.DefaultFlushInterval
	defaultQueryTimeout      = model.DefaultQueryTimeout
	defaultEventCacheSize    = model.DefaultEventCacheSize
	defaultEventCacheIdle    = model.DefaultEventCacheIdle
	defaultCountsCacheSize   = model.DefaultCountsCacheSize
	defaultCountsCacheIdle   = model.DefaultCountsCacheIdle
	defaultCountsSlices      = model.DefaultCountsSlices
	defaultTimezone          = "UTC"
	defaultSnapshotInterval  = time.Hour
	defaultSnapshotKeepCount = 12
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	DBPath           string        `mapstructure:"db-path"`
	APIEnabled       bool          `mapstructure:"api-enabled"`
	APIPort          int           `mapstructure:"api-port"`
	APIAddr          string        `mapstructure:"api-addr"`
	SocketPath       string        `mapstructure:"socket-path"`
	TCPEnabled       bool          `mapstructure:"tcp-enabled"`
	TCPPort          int           `mapstructure:"tcp-port"`
	TCPAddr          string        `mapstructure:"tcp-addr"`
	IngestBatchSize  int           `mapstructure:"ingest-batch-size"`
	IngestFlush      time.Duration `mapstructure:"ingest-flush-interval"`
	QueryTimeout     time.Duration `mapstructure:"query-timeout"`
	EventCacheSize   int           `mapstructure:"event-cache-size"`
	EventCacheIdle   time.Duration `mapstructure:"event-cache-idle"`
	CountsCacheSize  int           `mapstructure:"counts-cache-size"`
	CountsCacheIdle  time.Duration `mapstructure:"counts-cache-idle"`
	CountsSlices     int           `mapstructure:"counts-slices"`
	Timezone         string        `mapstructure:"timezone"`
	SnapshotEnabled  bool          `mapstructure:"snapshot-enabled"`
	SnapshotInterval time.Duration `mapstructure:"snapshot-interval"`
	SnapshotDir      string        `mapstructure:"snapshot-dir"`
	SnapshotKeep     int           `mapstructure:"snapshot-keep"`
	ConfigPath       string        `mapstructure:"-"` // not from config file
	ImportPath       string        `mapstructure:"-"` // -import flag

	location *time.Location
}

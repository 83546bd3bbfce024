package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/rutrace/internal/ingest"
	"github.com/tinytelemetry/rutrace/internal/logsource"
	"github.com/tinytelemetry/rutrace/internal/model"
	"github.com/tinytelemetry/rutrace/internal/watcher"
)

const (
	defaultBindHost     = "127.0.0.1"
	defaultAPIPort      = 3000
	defaultQueryTimeout = 30 * time.Second
	defaultParseWorkers = 2
	defaultParseQueue   = 64
	defaultLogRetention = 30 // days, 0 = disabled

	defaultBackupInterval = 6 * time.Hour
	defaultBackupKeepLast = 24
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host                  string        `mapstructure:"host"`
	APIPort               int           `mapstructure:"api-port"`
	APIAddr               string        `mapstructure:"api-addr"`
	MetricsEnabled        bool          `mapstructure:"metrics-enabled"`
	DBPath                string        `mapstructure:"db-path"`
	UploadDir             string        `mapstructure:"upload-dir"`
	InboxDir              string        `mapstructure:"inbox-dir"`
	InboxSettle           time.Duration `mapstructure:"inbox-settle"`
	QueryTimeout          time.Duration `mapstructure:"query-timeout"`
	ParseWorkers          int           `mapstructure:"parse-workers"`
	ParseQueue            int           `mapstructure:"parse-queue-size"`
	ParseTimeout          time.Duration `mapstructure:"parse-timeout"`
	MaxFileSize           int64         `mapstructure:"max-file-size"`
	MaxLineBytes          int           `mapstructure:"max-line-bytes"`
	MaxArchiveNesting     int           `mapstructure:"max-archive-nesting"`
	VocabularyFile        string        `mapstructure:"vocabulary-file"`
	CorrelationMaxPending int           `mapstructure:"correlation-max-pending"`
	CorrelationHorizon    int           `mapstructure:"correlation-horizon"`
	LogRetention          int           `mapstructure:"log-retention"`
	BackupEnabled         bool          `mapstructure:"backup-enabled"`
	BackupInterval        time.Duration `mapstructure:"backup-interval"`
	BackupDir             string        `mapstructure:"backup-dir"`
	BackupKeepLast        int           `mapstructure:"backup-keep-last"`
	ConfigPath            string        `mapstructure:"-"` // not from config file
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "rutrace")

	v := viper.New()
	v.SetEnvPrefix("RUTRACE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("metrics-enabled", true)
	v.SetDefault("db-path", filepath.Join(dataDir, "rutrace.duckdb"))
	v.SetDefault("upload-dir", filepath.Join(dataDir, "uploads"))
	v.SetDefault("inbox-dir", "")
	v.SetDefault("inbox-settle", watcher.DefaultSettle)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("parse-workers", defaultParseWorkers)
	v.SetDefault("parse-queue-size", defaultParseQueue)
	v.SetDefault("parse-timeout", model.DefaultParseTimeout)
	v.SetDefault("max-file-size", model.DefaultMaxFileSize)
	v.SetDefault("max-line-bytes", ingest.DefaultMaxLineBytes)
	v.SetDefault("max-archive-nesting", logsource.DefaultMaxNesting)
	v.SetDefault("vocabulary-file", "")
	v.SetDefault("correlation-max-pending", 0)
	v.SetDefault("correlation-horizon", 0)
	v.SetDefault("log-retention", defaultLogRetention)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "rutrace", "config.yml"))
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
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.ParseWorkers <= 0 {
		return cfg, fmt.Errorf("invalid parse-workers: %d", cfg.ParseWorkers)
	}
	if cfg.MaxFileSize <= 0 {
		return cfg, fmt.Errorf("invalid max-file-size: %d", cfg.MaxFileSize)
	}
	if cfg.CorrelationMaxPending < 0 || cfg.CorrelationHorizon < 0 {
		return cfg, errors.New("correlation bounds must not be negative")
	}

	// Expand ~ in paths
	for _, p := range []*string{&cfg.DBPath, &cfg.UploadDir, &cfg.InboxDir, &cfg.VocabularyFile, &cfg.BackupDir} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

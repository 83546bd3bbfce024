package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/rutrace/internal/backup"
	"github.com/tinytelemetry/rutrace/internal/duckdb"
	"github.com/tinytelemetry/rutrace/internal/httpserver"
	"github.com/tinytelemetry/rutrace/internal/ingest"
	"github.com/tinytelemetry/rutrace/internal/intake"
	"github.com/tinytelemetry/rutrace/internal/jobs"
	"github.com/tinytelemetry/rutrace/internal/metrics"
	"github.com/tinytelemetry/rutrace/internal/netconf"
	"github.com/tinytelemetry/rutrace/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trace store, parse workers and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return runServer(cfg, logger)
	},
}

// newEngine builds the parse engine shared by the server and the offline
// command.
func newEngine(cfg appConfig) (*ingest.Engine, error) {
	vocab, err := netconf.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		return nil, err
	}
	return ingest.NewEngine(ingest.Options{
		MaxLineBytes: cfg.MaxLineBytes,
		Vocabulary:   vocab,
		Correlation: netconf.CorrelatorOptions{
			MaxPending: cfg.CorrelationMaxPending,
			Horizon:    cfg.CorrelationHorizon,
		},
	}), nil
}

// runServer starts the parse workers, the optional inbox watcher and the
// HTTP API, and blocks until SIGINT or SIGTERM.
func runServer(cfg appConfig, log *zap.Logger) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()
	store.Logger = log.Named("duckdb")

	// Start retention cleaner for automatic trace expiry
	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.LogRetention,
		Logger:        log,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	// Start periodic database snapshots when enabled.
	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:  cfg.BackupEnabled,
		Interval: cfg.BackupInterval,
		Dir:      cfg.BackupDir,
		KeepLast: cfg.BackupKeepLast,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	var registry *metrics.Registry
	if cfg.MetricsEnabled {
		registry = metrics.NewRegistry()
	}

	runner := jobs.NewRunner(jobs.Config{
		Workers:   cfg.ParseWorkers,
		QueueSize: cfg.ParseQueue,
		Timeout:   cfg.ParseTimeout,
		Engine:    engine,
		Files:     store,
		Sinks: func(fileID int64) ingest.RecordSink {
			return store.NewRunWriter(fileID)
		},
		Metrics: registry,
		Logger:  log,
	})
	if err := runner.Resume(); err != nil {
		return fmt.Errorf("failed to resume unfinished parses: %w", err)
	}

	in, err := intake.New(intake.Config{
		UploadDir:   cfg.UploadDir,
		MaxFileSize: cfg.MaxFileSize,
		MaxNesting:  cfg.MaxArchiveNesting,
		Files:       store,
		Jobs:        runner,
		Metrics:     registry,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize intake: %w", err)
	}

	var inbox *watcher.Watcher
	if cfg.InboxDir != "" {
		inbox, err = watcher.New(cfg.InboxDir, func(ctx context.Context, path string) error {
			_, err := in.AcceptPath(ctx, path)
			return err
		}, watcher.Config{Settle: cfg.InboxSettle, Logger: log})
		if err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
	}

	deps := httpserver.Deps{
		Store:          store,
		Intake:         in,
		Jobs:           runner,
		Logger:         log,
		MaxUploadBytes: cfg.MaxFileSize,
	}
	if registry != nil {
		deps.Metrics = registry.Handler()
	}
	apiServer := httpserver.NewServer(cfg.APIAddr, deps)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	if inbox != nil {
		g.Go(func() error {
			return inbox.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("server: errgroup exited with error", zap.Error(err))
	}

	signal.Stop(sigCh)
	return nil
}

func printStartupBanner(cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦═╗╦ ╦╔╦╗╦═╗╔═╗╔═╗╔═╗
    ╠╦╝║ ║ ║ ╠╦╝╠═╣║  ║╣
    ╩╚═╚═╝ ╩ ╩╚═╩ ╩╚═╝╚═╝`)

	separator := dim.Render("    ─────────────────────────────────")
	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	row := func(on bool, label, value string) string {
		mark := dot
		if on {
			mark = check
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, value)
	}

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, row(true, "HTTP API", cyan.Render(cfg.APIAddr)))
	if cfg.MetricsEnabled {
		lines = append(lines, row(true, "Metrics", cyan.Render(cfg.APIAddr+"/metrics")))
	} else {
		lines = append(lines, row(false, "Metrics", dim.Render("disabled")))
	}
	if cfg.InboxDir != "" {
		lines = append(lines, row(true, "Inbox", dim.Render(shortenPath(cfg.InboxDir))))
	} else {
		lines = append(lines, row(false, "Inbox", dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"), "")
	lines = append(lines, row(true, "Database", dim.Render(shortenPath(cfg.DBPath))))
	lines = append(lines, row(true, "Uploads", dim.Render(shortenPath(cfg.UploadDir))))
	if cfg.LogRetention > 0 {
		lines = append(lines, row(true, "Retention", dim.Render(fmt.Sprintf("%d days", cfg.LogRetention))))
	} else {
		lines = append(lines, row(false, "Retention", dim.Render("disabled")))
	}
	if cfg.BackupEnabled {
		lines = append(lines, row(true, "Snapshots", dim.Render(shortenPath(cfg.BackupDir))))
	} else {
		lines = append(lines, row(false, "Snapshots", dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"), "")
	lines = append(lines, row(true, "Workers", dim.Render(fmt.Sprintf("%d (queue %d)", cfg.ParseWorkers, cfg.ParseQueue))))
	if cfg.VocabularyFile != "" {
		lines = append(lines, row(true, "Vocabulary", dim.Render(shortenPath(cfg.VocabularyFile))))
	} else {
		lines = append(lines, row(false, "Vocabulary", dim.Render("built-in")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, row(false, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

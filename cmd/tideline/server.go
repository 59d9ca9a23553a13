package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/tideline/internal/duckdb"
	"github.com/tinytelemetry/tideline/internal/httpserver"
	"github.com/tinytelemetry/tideline/internal/ingest"
	"github.com/tinytelemetry/tideline/internal/logsource"
	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/snapshot"
	"github.com/tinytelemetry/tideline/internal/socketrpc"
	"github.com/tinytelemetry/tideline/internal/tcpserver"
	"github.com/tinytelemetry/tideline/internal/timeline"
	"golang.org/x/sync/errgroup"
)

// runServer opens the case database and serves its timeline over HTTP and
// the Unix socket until interrupted.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := timeline.New(ctx, store, timeline.Config{
		EventCacheSize:  cfg.EventCacheSize,
		EventCacheIdle:  cfg.EventCacheIdle,
		CountsCacheSize: cfg.CountsCacheSize,
		CountsCacheIdle: cfg.CountsCacheIdle,
		CountsSlices:    cfg.CountsSlices,
		Location:        cfg.location,
	})
	if err != nil {
		return fmt.Errorf("failed to open timeline: %w", err)
	}
	defer m.Close()

	snapshots, err := snapshot.NewManager(store, snapshot.Config{
		Enabled:  cfg.SnapshotEnabled,
		Interval: cfg.SnapshotInterval,
		Dir:      cfg.SnapshotDir,
		Keep:     cfg.SnapshotKeep,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize snapshots: %w", err)
	}
	if snapshots != nil {
		defer snapshots.Stop()
	}

	if cfg.APIEnabled {
		var snap httpserver.Snapshotter
		if snapshots != nil {
			snap = snapshots
		}
		apiServer := httpserver.NewServer(cfg.APIAddr, m, store, snap)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	sockServer := socketrpc.NewServer(cfg.SocketPath, m)
	if err := sockServer.Start(); err != nil {
		log.Printf("Warning: failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

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
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	// Ingested events are batched into the store; every stored batch
	// refreshes the timeline aggregates.
	batcher := ingest.NewBatcher(store, ingest.BatcherConfig{
		BatchSize:     cfg.IngestBatchSize,
		FlushInterval: cfg.IngestFlush,
		OnFlush: func(ctx context.Context, stored []model.Event) {
			if err := m.InvalidateCaches(ctx, []int64{}); err != nil {
				log.Printf("ingest: refresh after %d events: %v", len(stored), err)
			}
		},
	})
	defer batcher.Stop()
	processor := ingest.NewProcessor(batcher)

	sources, err := buildSources(ctx, cfg)
	if err != nil {
		return err
	}

	printStartupBanner(cfg)

	g, gctx := errgroup.WithContext(ctx)

	for _, src := range sources {
		g.Go(func() error {
			accepted, rejected := processor.Drain(src.Lines())
			log.Printf("ingest: source %s finished, %d events accepted, %d rejected", src.Name(), accepted, rejected)
			return nil
		})
	}

	g.Go(func() error {
		unsubscribe := m.Subscribe(func(n timeline.Notification) {
			log.Printf("timeline: %s %+v", n.Kind(), n)
		})
		defer unsubscribe()
		<-gctx.Done()
		for _, src := range sources {
			src.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}
	batcher.Stop()

	signal.Stop(sigCh)
	return nil
}

// buildSources starts the configured event inputs: the TCP listener and the
// -import file (or stdin for "-").
func buildSources(ctx context.Context, cfg appConfig) ([]logsource.Source, error) {
	var sources []logsource.Source
	if cfg.TCPEnabled {
		tcp := tcpserver.New(tcpserver.Config{Addr: cfg.TCPAddr})
		if err := tcp.Start(); err != nil {
			return nil, fmt.Errorf("failed to start TCP ingest: %w", err)
		}
		sources = append(sources, logsource.NewTCPSource(tcp))
	}
	switch cfg.ImportPath {
	case "":
	case "-":
		sources = append(sources, logsource.NewStdinSource(ctx))
	default:
		src, err := logsource.OpenFileSource(ctx, cfg.ImportPath)
		if err != nil {
			for _, s := range sources {
				s.Stop()
			}
			return nil, fmt.Errorf("failed to open import file: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "tideline")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	f, err := os.OpenFile(filepath.Join(logDir, "tideline.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
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
    ╔╦╗╦╔╦╗╔═╗╦  ╦╔╗╔╔═╗
     ║ ║ ║║║╣ ║  ║║║║║╣
     ╩ ╩═╩╝╚═╝╩═╝╩╝╚╝╚═╝`)

	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Gateway"), "")
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	if cfg.TCPEnabled {
		lines = append(lines, fmt.Sprintf("    %s  TCP Ingest     %s", check, cyan.Render(cfg.TCPAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  TCP Ingest     %s", dot, dim.Render("disabled")))
	}
	if cfg.ImportPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Import         %s", check, dim.Render(shortenPath(cfg.ImportPath))))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Case"), "")
	lines = append(lines, fmt.Sprintf("    %s  Database       %s", check, dim.Render(shortenPath(cfg.DBPath))))
	if cfg.SnapshotEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", check, dim.Render(shortenPath(cfg.SnapshotDir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Timezone       %s", check, dim.Render(cfg.location.String())), "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
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

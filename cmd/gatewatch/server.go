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
	"golang.org/x/sync/errgroup"

	"github.com/gatewatch/gatewatch/internal/device"
	"github.com/gatewatch/gatewatch/internal/httpserver"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/store"
	"github.com/gatewatch/gatewatch/internal/syslogd"
)

// runServer starts the listeners, device pipelines, and the HTTP API.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	// Optional DuckDB persistence.
	var (
		st           *store.Store
		insertBuffer *store.InsertBuffer
		raw          httpserver.RawQuerier
		sink         device.RecordSink
	)
	if cfg.PersistEnabled {
		var err error
		st, err = store.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer st.Close()

		insertBuffer = store.NewInsertBuffer(st, store.InsertBufferConfig{
			BatchSize:      cfg.InsertBatchSize,
			FlushInterval:  cfg.InsertFlushInterval,
			FlushQueueSize: cfg.InsertFlushQueue,
		})
		defer insertBuffer.Stop()

		retentionCleaner := store.NewRetentionCleaner(st, store.RetentionConfig{
			RetentionDays: cfg.LogRetention,
		})
		if retentionCleaner != nil {
			defer retentionCleaner.Stop()
		}

		raw = st
		sink = insertBuffer
	}

	infos := make([]model.DeviceInfo, len(cfg.Devices))
	for i, d := range cfg.Devices {
		infos[i] = model.DeviceInfo{ID: d.ID, Name: d.Name, Port: d.Port, TCPPort: d.TCPPort}
	}

	router, err := device.NewRouter(infos, device.Options{
		Host:            cfg.Host,
		RingSize:        cfg.LogBuffer,
		StatsInterval:   cfg.StatsInterval,
		SubscriberQueue: cfg.SubscriberQueue,
		Sink:            sink,
		SourceConfig:    syslogd.Config{QueueSize: cfg.SourceQueueSize},
	})
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}
	router.Start()
	defer router.Stop()

	apiServer := httpserver.NewServer(cfg.APIAddr, router, raw)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
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

	printStartupBanner(cfg, router)

	g, gctx := errgroup.WithContext(ctx)

	// The API serve loop lives in the group so a listener failure tears the
	// process down instead of going unnoticed.
	g.Go(func() error {
		if err := <-apiServer.Err(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	// Shutdown runs in the group too, triggered by the signal handler's
	// cancel or by a sibling's error.
	g.Go(func() error {
		<-gctx.Done()
		return apiServer.Stop()
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: shutdown with error: %v", err)
	}

	cancel()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "gatewatch")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "gatewatch.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, router *device.Router) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	cross := red.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╔═╗╔╦╗╔═╗╦ ╦╔═╗╔╦╗╔═╗╦ ╦
    ║ ╦╠═╣ ║ ║╣ ║║║╠═╣ ║ ║  ╠═╣
    ╚═╝╩ ╩ ╩ ╚═╝╚╩╝╩ ╩ ╩ ╚═╝╩ ╩`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Devices"))
	lines = append(lines, "")
	for _, info := range router.List() {
		dev, err := router.Get(info.ID)
		mark := check
		if err != nil || !dev.Available() {
			mark = cross
		}
		listen := fmt.Sprintf("udp/%d", info.Port)
		if info.TCPPort > 0 {
			listen += fmt.Sprintf(" tcp/%d", info.TCPPort)
		}
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", mark, info.ID, cyan.Render(listen)))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")
	if cfg.PersistEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s", check, dim.Render(shortenPath(cfg.DBPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

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

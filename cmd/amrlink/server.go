package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/poelink/amrlink/internal/api"
	"github.com/poelink/amrlink/internal/blockstore"
	"github.com/poelink/amrlink/internal/config"
	"github.com/poelink/amrlink/internal/statusmon"
	"github.com/poelink/amrlink/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the amrlink daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running amrlink daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "amrlink.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(level string) slog.Level {
	switch {
	case strings.EqualFold(level, "debug"):
		return slog.LevelDebug
	case strings.EqualFold(level, "warn"):
		return slog.LevelWarn
	case strings.EqualFold(level, "error"):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "amrlink version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	// Write PID file. Check if the daemon is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("amrlink is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("amrlink is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the snapshot block database and hand it to the lazy store manager.
	blocks, err := blockstore.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening block database: %w", err)
	}
	defer func() {
		if err := blocks.Close(); err != nil {
			slog.Warn("closing block database", "error", err)
		}
	}()

	manager := store.NewManager(store.Options{
		Snapshots: blocks,
		Legacy:    store.NewLegacyStorage(cfg.Storage.DataDir),
		Logger:    slog.Default(),
	})
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Warn("closing store", "error", err)
		}
	}()

	// The store opens eagerly at startup; the manager keeps later callers
	// on the same instance.
	st, err := manager.Get(ctx)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	// Build and start the backend status monitor.
	monitor := statusmon.New(st, statusmon.Options{
		Logger: slog.Default(),
		Backoff: statusmon.BackoffPolicy{
			InitialDelay: cfg.Monitor.ReconnectDelayDuration(),
			Multiplier:   2.0,
			MaxDelay:     cfg.Monitor.MaxReconnectDelayDuration(),
		},
		PushTimeout: cfg.Monitor.PushTimeoutDuration(),
	})
	monitor.Connect(ctx)
	defer monitor.Disconnect()

	// Build HTTP handler and server.
	router := api.NewRouter(manager, monitor, slog.Default())
	handler := api.NewHandler(api.HandlerDeps{
		Router:  router,
		Monitor: monitor,
		Token:   cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Manager: manager,
		Monitor: monitor,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "amrlink listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("amrlink is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop amrlink (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to amrlink (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check daemon health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Daemon", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Daemon", "running on port %d", cfg.Server.Port)

	cli, err := newAPIClient()
	if err != nil {
		return err
	}
	status, err := cli.backendStatus(context.Background())
	if err != nil {
		printError("could not read backend status: %v", err)
	} else {
		printBackendStatus(status)
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

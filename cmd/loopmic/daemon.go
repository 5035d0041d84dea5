package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/loopmic/internal/api"
	"github.com/benaskins/loopmic/internal/config"
	"github.com/benaskins/loopmic/internal/device"
	"github.com/benaskins/loopmic/internal/logging"
	"github.com/benaskins/loopmic/internal/proctable"
	"github.com/benaskins/loopmic/internal/sensor"
	"github.com/benaskins/loopmic/internal/supervisor"
	"github.com/benaskins/loopmic/internal/sysexec"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the loopmic daemon",
	Long:  "Start the relay supervisor. Loads the config file, keeps the relay running and serves the API on a Unix socket.",
	RunE:  runDaemon,
}

var daemonConfigPath string

func init() {
	daemonCmd.Flags().StringVar(&daemonConfigPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(daemonConfigPath)
	if err != nil {
		return err
	}
	logging.Setup(os.Stderr, cfg.Log)

	slog.Info("loopmic daemon starting", "config", daemonConfigPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	runner := sysexec.ExecRunner{}
	component := sensor.New(supervisor.Options{
		Resolver: device.NewALSA(runner),
		Table:    newProcessTable(cfg.ProcessTable, runner),
	})
	defer component.Close()

	applier := &configApplier{component: component}
	applier.apply(ctx, cfg)

	sock := resolveSocketPath(cfg.Socket)
	// Remove stale socket
	os.Remove(sock)
	if err := os.MkdirAll(filepath.Dir(sock), 0755); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	srv := api.NewServer(component, ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(sock)
	}()

	go func() {
		if err := config.Watch(ctx, daemonConfigPath, func(c *config.Config) { applier.apply(ctx, c) }); err != nil {
			slog.Warn("config watcher not running", "error", err)
		}
	}()

	slog.Info("loopmic daemon ready", "socket", sock)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	os.Remove(sock)

	slog.Info("loopmic daemon stopped")
	return nil
}

func newProcessTable(kind string, runner sysexec.Runner) proctable.Table {
	if kind == config.ProcessTablePgrep {
		return proctable.NewPgrep(runner)
	}
	return proctable.NewNative()
}

// configApplier reconfigures the component from the config file, skipping
// reloads that leave the stream attributes unchanged.
type configApplier struct {
	component *sensor.Sensor

	mu      sync.Mutex
	applied config.Attributes
}

func (a *configApplier) apply(ctx context.Context, cfg *config.Config) {
	if !cfg.Configured() {
		slog.Info("no rtsp_url configured, waiting for config")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cfg.Attributes == a.applied {
		slog.Debug("config reloaded, stream attributes unchanged")
		return
	}
	a.applied = cfg.Attributes

	if err := a.component.ConfigureAttributes(ctx, cfg.Attributes); err != nil {
		slog.Error("applying config", "error", err)
		return
	}
	slog.Info("config applied", "rtsp_url", cfg.RTSPURL)
}

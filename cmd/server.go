package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/posix4e/sccache/internal/cache"
	"github.com/posix4e/sccache/internal/config"
	"github.com/posix4e/sccache/internal/logging"
	"github.com/posix4e/sccache/internal/runner"
	"github.com/posix4e/sccache/internal/server"
)

var serverCmd = &cobra.Command{
	Use:          "server",
	Short:        "Run the caching daemon in the foreground",
	Long:         `Starts the daemon, records its port next to the cache, and serves compile requests until shut down or idle too long.`,
	RunE:         runServer,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().Load(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	store, err := cache.Open(cfg.CacheDir, cfg.MaxCacheSize)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(server.Config{
		Port:        cfg.Port,
		IdleTimeout: cfg.IdleTimeout,
	}, store, runner.NewOSRunner(), logger)
	if err != nil {
		return err
	}

	portData := fmt.Sprintf("%d\n", srv.Port())
	if err := atomic.WriteFile(cfg.PortFile(), bytes.NewReader([]byte(portData))); err != nil {
		srv.Shutdown()
		return fmt.Errorf("failed to record daemon port: %w", err)
	}
	defer os.Remove(cfg.PortFile())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		srv.Shutdown()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "sccache: listening on port %d\n", srv.Port())
	logger.Info("server started",
		"port", srv.Port(),
		"cache_dir", cfg.CacheDir,
		"idle_timeout", cfg.IdleTimeout)

	return srv.Run()
}

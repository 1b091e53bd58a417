package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/posix4e/sccache/internal/client"
	"github.com/posix4e/sccache/internal/config"
	"github.com/posix4e/sccache/internal/protocol"
	"github.com/posix4e/sccache/internal/runner"
	"github.com/posix4e/sccache/internal/version"
)

var rootCmd = &cobra.Command{
	Use:          "sccache <compiler> [compiler args...]",
	Short:        "Shared compilation cache",
	Long:         `Runs compiler commands through a caching daemon so repeated compilations of unchanged sources are served from cache.`,
	RunE:         runCompile,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)

	// Everything after the compiler name belongs to the compiler, even
	// flag-looking arguments.
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.PersistentFlags().String("cache-dir", "", "Directory for cached compilation results")
	rootCmd.PersistentFlags().Int64("max-cache-size", 0, "Cache size limit in bytes (0 = unbounded)")
	rootCmd.PersistentFlags().Duration("idle-timeout", config.DefaultIdleTimeout, "Daemon exits after this long without requests (0 = never)")
	rootCmd.PersistentFlags().Int("port", 0, "Daemon port (0 = ephemeral)")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "Log format (text, json)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(shutdownCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a compiler command to run")
	}

	cfg, err := config.NewLoader().Load(cmd)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	req := protocol.CompileRequest{
		Exe:  args[0],
		Args: args[1:],
		Cwd:  cwd,
	}

	exitCode, err := compileViaDaemon(cfg, req)
	if errors.Is(err, client.ErrConnectionFailed) {
		// No daemon reachable; run the compiler directly, uncached.
		exitCode, err = compileDirect(cmd.Context(), req)
	}
	if err != nil {
		return err
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}

	return nil
}

func compileViaDaemon(cfg *config.Config, req protocol.CompileRequest) (int, error) {
	port, err := readPortFile(cfg)
	if err != nil {
		return 0, err
	}

	c, err := client.Connect(port)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	return c.Compile(req, os.Stdout, os.Stderr)
}

func compileDirect(ctx context.Context, req protocol.CompileRequest) (int, error) {
	res, err := runner.NewOSRunner().Run(ctx, runner.Command{
		Path: req.Exe,
		Args: req.Args,
		Dir:  req.Cwd,
	})
	if err != nil {
		return 0, err
	}

	os.Stdout.Write(res.Stdout)
	os.Stderr.Write(res.Stderr)

	return res.ExitCode, nil
}

// readPortFile discovers a running daemon's port. An explicitly
// configured port wins over the port file.
func readPortFile(cfg *config.Config) (int, error) {
	if cfg.Port != 0 {
		return cfg.Port, nil
	}

	data, err := os.ReadFile(cfg.PortFile())
	if err != nil {
		return 0, fmt.Errorf("%w: no daemon port recorded at %s", client.ErrConnectionFailed, cfg.PortFile())
	}

	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid daemon port file %s", client.ErrConnectionFailed, cfg.PortFile())
	}

	return port, nil
}

// connectToDaemon is shared by the stats and shutdown subcommands.
func connectToDaemon(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := config.NewLoader().Load(cmd)
	if err != nil {
		return nil, err
	}

	port, err := readPortFile(cfg)
	if err != nil {
		return nil, err
	}

	return client.Connect(port)
}

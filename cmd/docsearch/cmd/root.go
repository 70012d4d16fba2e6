// Package cmd implements the docsearch CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/localdoc/docsearch/internal/config"
	"github.com/localdoc/docsearch/internal/core"
	"github.com/localdoc/docsearch/internal/logging"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// Exit codes.
const (
	exitOK        = 0
	exitOther     = 1
	exitConfig    = 2
	exitModel     = 3
	exitCorrupted = 4
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "docsearch",
	Short:         "Local hybrid search over documents, images, audio, and video",
	Long:          "docsearch indexes local files and serves natural-language queries\nwith precise locators. All processing stays on this machine.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.AddCommand(indexCmd, searchCmd, watchCmd, statusCmd, serveCmd)
}

// Execute runs the CLI and maps error kinds to exit codes.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "docsearch: %s: %v\n", xerrors.KindOf(err), err)
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.KindConfigInvalid:
		return exitConfig
	case xerrors.KindModelUnavailable, xerrors.KindModelTimeout:
		return exitModel
	case xerrors.KindStoreCorruption:
		return exitCorrupted
	default:
		return exitOther
	}
}

// setup loads config, initializes logging, and builds the core context.
// The returned cleanup tears everything down.
func setup(ctx context.Context, onFatal func(error)) (*core.Context, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.LogLevel
	_, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.KindIO, "setup logging", err)
	}

	c, err := core.New(ctx, cfg, onFatal)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}
	cleanup := func() {
		_ = c.Close()
		logCleanup()
	}
	return c, cleanup, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmorcellet/delta-downloads/internal/config"
	"github.com/dmorcellet/delta-downloads/internal/logging"
	"github.com/dmorcellet/delta-downloads/internal/transport"
)

var Version = "dev"

var (
	configPath string
	debug      bool

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "deltadl",
	Short:         "deltadl downloads HTTP resources into files and buckets",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if debug {
			cfg.Log.Level = "debug"
		}
		logger, logCloser = logging.New(cfg.Log)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (DELTA_* env vars override it)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd(), newGetCmd(), newBatchCmd())
}

// newTransport builds the shared HTTP transport from the loaded config.
func newTransport() *transport.Client {
	opts := transport.DefaultOptions()
	opts.HeaderTimeout = cfg.HTTP.Timeout
	opts.BufferSize = cfg.HTTP.BufferSize
	if cfg.HTTP.UserAgent != "" {
		opts.UserAgent = cfg.HTTP.UserAgent
	}
	c := transport.NewClient(opts)
	c.SetLogger(logger)
	return c
}

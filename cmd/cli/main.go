package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-doc-processor/internal/config"
	"github.com/dvloznov/finance-doc-processor/internal/logger"
)

var version = "dev"

// env is the state shared by every command once the root command has
// loaded the configuration.
type env struct {
	configPath string
	cfg        *config.Config
	log        zerolog.Logger
	out        io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	e := &env{out: out}

	rootCmd := &cobra.Command{
		Use:           "cli",
		Short:         "Financial document processor CLI",
		Long:          "Process, publish, inspect and mirror financial documents outside the worker service.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "Path to a YAML config file (optional)")

	rootCmd.AddCommand(
		categorizeCmd(e),
		processCmd(e),
		reparseCmd(e),
		inspectCmd(e),
		uploadCmd(e),
		publishCmd(e),
		notionSyncCmd(e),
	)
	return rootCmd
}

// load reads the configuration and attaches a logger writing to stderr so
// command output on stdout stays machine readable.
func (e *env) load(cmd *cobra.Command) error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	log, err := logger.NewWithOptions(cfg.App.LogLevel, cfg.App.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.log = log
	cmd.SetContext(logger.WithContext(cmd.Context(), log))
	return nil
}

func closeLogged(log zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Error().Err(err).Str("component", name).Msg("Failed to close")
	}
}

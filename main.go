/*
vkguide runs the testbed scene on the engine until the window closes.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spaghettifunk/vkguide/engine"
	"github.com/spaghettifunk/vkguide/engine/core"
	"github.com/spaghettifunk/vkguide/testbed"
)

type options struct {
	configPath string
	frames     uint64
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "vkguide",
		Short:         "Run the Vulkan testbed scene",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a .toml or .yaml config file")
	cmd.Flags().Uint64VarP(&opts.frames, "frames", "n", 0, "stop after this many frames, 0 runs until the window closes")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	config := engine.DefaultApplicationConfig()
	if opts.configPath != "" {
		loaded, err := engine.LoadApplicationConfig(opts.configPath)
		if err != nil {
			return err
		}
		config = loaded
	}
	if opts.logLevel != "" {
		config.LogLevel = core.LogLevel(opts.logLevel)
		if err := config.Validate(); err != nil {
			return err
		}
	}

	e, err := engine.New(testbed.NewTestGame(config).Game)
	if err != nil {
		return err
	}
	// Shutdown flushes whatever Initialize managed to create
	defer e.Shutdown()

	if err := e.Initialize(); err != nil {
		return err
	}
	return e.Run(ctx, opts.frames)
}

func main() {
	// the engine stays on the main thread; signals only cancel the run loop
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		core.LogError("%s", err)
		stop()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/grivet-io/grivet/pkg/configuration"
	"github.com/grivet-io/grivet/pkg/fsmonitor"
	"github.com/grivet-io/grivet/pkg/ipc"
	"github.com/grivet-io/grivet/pkg/logging"
	"github.com/grivet-io/grivet/pkg/telemetry"
)

// watchConfiguration stores configuration for the watch commands.
var watchConfiguration struct {
	// worktree is the worktree root to operate on.
	worktree string
	// gitdir is the repository metadata directory. Empty derives
	// <worktree>/.git.
	gitdir string
	// logLevel overrides the configured log level.
	logLevel string
	// tracePath, if non-empty, enables telemetry trace emission to the
	// specified file.
	tracePath string
	// workers is the worker pool size persisted by the configure command.
	workers int
}

// resolveLayout computes the worktree/gitdir pair from flags.
func resolveLayout() (string, string, error) {
	worktree := watchConfiguration.worktree
	if worktree == "" {
		if w, err := os.Getwd(); err != nil {
			return "", "", fmt.Errorf("unable to determine working directory: %w", err)
		} else {
			worktree = w
		}
	}
	gitdir := watchConfiguration.gitdir
	if gitdir == "" {
		gitdir = filepath.Join(worktree, ".git")
	}
	return worktree, gitdir, nil
}

// watchRunMain is the entry point for the watch run command.
func watchRunMain(_ *cobra.Command, _ []string) error {
	// Resolve the repository layout.
	worktree, gitdir, err := resolveLayout()
	if err != nil {
		return err
	}

	// Load the daemon configuration.
	config, err := configuration.Load(filepath.Join(gitdir, configuration.FileName))
	if err != nil {
		return err
	}

	// Compute the log level: flag, then configuration, then info.
	levelName := watchConfiguration.logLevel
	if levelName == "" {
		levelName = config.Daemon.LogLevel
	}
	if levelName == "" {
		levelName = "info"
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(level, os.Stderr)

	// Enable telemetry emission if requested, and flush it on the way out.
	if watchConfiguration.tracePath != "" {
		trace, err := os.OpenFile(watchConfiguration.tracePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("unable to open trace file: %w", err)
		}
		defer trace.Close()
		telemetry.SetSink(trace, false)
	}
	defer telemetry.Flush()

	// Create the daemon.
	daemon, err := fsmonitor.NewDaemon(fsmonitor.Configuration{
		Worktree: worktree,
		Gitdir:   gitdir,
		Workers:  config.Daemon.Workers,
		Logger:   logger.Sublogger("fsmonitor"),
	})
	if err != nil {
		return err
	}

	// Run until a termination signal or a daemon-initiated shutdown.
	// Signals are routed through context cancellation so that all shutdown
	// logic runs in ordinary code paths.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return daemon.Run(ctx)
}

// watchConfigureMain is the entry point for the watch configure command: it
// folds the given flags into the worktree's daemon configuration file, which
// the next daemon start picks up.
func watchConfigureMain(_ *cobra.Command, _ []string) error {
	_, gitdir, err := resolveLayout()
	if err != nil {
		return err
	}
	path := filepath.Join(gitdir, configuration.FileName)
	config, err := configuration.Load(path)
	if err != nil {
		return err
	}
	if watchConfiguration.workers != 0 {
		config.Daemon.Workers = watchConfiguration.workers
	}
	if watchConfiguration.logLevel != "" {
		if _, err := logging.ParseLevel(watchConfiguration.logLevel); err != nil {
			return err
		}
		config.Daemon.LogLevel = watchConfiguration.logLevel
	}
	return config.Save(path)
}

// watchStopMain is the entry point for the watch stop command.
func watchStopMain(_ *cobra.Command, _ []string) error {
	worktree, gitdir, err := resolveLayout()
	if err != nil {
		return err
	}
	client, err := fsmonitor.NewClient(gitdir, worktree)
	if err != nil {
		return err
	}
	return client.Stop(context.Background())
}

// watchStatusMain is the entry point for the watch status command.
func watchStatusMain(_ *cobra.Command, _ []string) error {
	worktree, gitdir, err := resolveLayout()
	if err != nil {
		return err
	}
	client, err := fsmonitor.NewClient(gitdir, worktree)
	if err != nil {
		return err
	}
	if client.State() == ipc.StateListening {
		fmt.Printf("daemon is watching '%s'\n", worktree)
		return nil
	}
	fmt.Printf("daemon is not watching '%s'\n", worktree)
	os.Exit(1)
	return nil
}

// watchCommand is the watch command.
var watchCommand = &cobra.Command{
	Use:          "watch",
	Short:        "Control the filesystem watcher daemon",
	SilenceUsage: true,
	RunE: func(command *cobra.Command, _ []string) error {
		return command.Help()
	},
}

// watchRunCommand is the watch run command.
var watchRunCommand = &cobra.Command{
	Use:          "run",
	Short:        "Run the filesystem watcher daemon for a worktree",
	Args:         cobra.NoArgs,
	RunE:         watchRunMain,
	SilenceUsage: true,
}

// watchConfigureCommand is the watch configure command.
var watchConfigureCommand = &cobra.Command{
	Use:          "configure",
	Short:        "Persist daemon settings for a worktree",
	Args:         cobra.NoArgs,
	RunE:         watchConfigureMain,
	SilenceUsage: true,
}

// watchStopCommand is the watch stop command.
var watchStopCommand = &cobra.Command{
	Use:          "stop",
	Short:        "Stop the filesystem watcher daemon for a worktree",
	Args:         cobra.NoArgs,
	RunE:         watchStopMain,
	SilenceUsage: true,
}

// watchStatusCommand is the watch status command.
var watchStatusCommand = &cobra.Command{
	Use:          "status",
	Short:        "Report whether a worktree is being watched",
	Args:         cobra.NoArgs,
	RunE:         watchStatusMain,
	SilenceUsage: true,
}

// registerLayoutFlags registers the worktree/gitdir flags on a flag set.
func registerLayoutFlags(flags *pflag.FlagSet) {
	flags.StringVar(&watchConfiguration.worktree, "worktree", "", "Worktree root (defaults to the working directory)")
	flags.StringVar(&watchConfiguration.gitdir, "gitdir", "", "Repository metadata directory (defaults to <worktree>/.git)")
}

func init() {
	// Register flags shared by the watch commands.
	for _, command := range []*cobra.Command{watchRunCommand, watchConfigureCommand, watchStopCommand, watchStatusCommand} {
		registerLayoutFlags(command.Flags())
	}
	watchRunCommand.Flags().StringVar(&watchConfiguration.logLevel, "log-level", "", "Log level (error, warn, info, debug, trace)")
	watchRunCommand.Flags().StringVar(&watchConfiguration.tracePath, "trace", "", "Append telemetry trace events to the specified file")
	watchConfigureCommand.Flags().StringVar(&watchConfiguration.logLevel, "log-level", "", "Log level (error, warn, info, debug, trace)")
	watchConfigureCommand.Flags().IntVar(&watchConfiguration.workers, "workers", 0, "IPC worker pool size (0 leaves the current setting)")

	// Register subcommands.
	watchCommand.AddCommand(
		watchRunCommand,
		watchConfigureCommand,
		watchStopCommand,
		watchStatusCommand,
	)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grivet-io/grivet/pkg/grivet"
)

// rootMain is the entry point for the root command.
func rootMain(command *cobra.Command, _ []string) error {
	// If no commands were given, then print help information and bail. We
	// don't have to worry about warning about arguments being present here,
	// because arguments are not accepted by the root command.
	return command.Help()
}

// rootCommand is the root command.
var rootCommand = &cobra.Command{
	Use:          "grivet",
	Short:        "Grivet is a distributed version control system",
	RunE:         rootMain,
	SilenceUsage: true,
}

// rootConfiguration stores configuration for the root command.
var rootConfiguration struct {
	// help indicates the presence of the -h/--help flag.
	help bool
}

func init() {
	// Disable Cobra's command sorting behavior. By default, it sorts
	// commands alphabetically in the help output.
	cobra.EnableCommandSorting = false

	// Grab a handle for the command line flags.
	flags := rootCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message.
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")

	// Register commands.
	rootCommand.AddCommand(
		watchCommand,
		odbCommand,
		versionCommand,
	)
}

// versionMain is the entry point for the version command.
func versionMain(_ *cobra.Command, _ []string) error {
	fmt.Println(grivet.Version)
	return nil
}

// versionCommand is the version command.
var versionCommand = &cobra.Command{
	Use:          "version",
	Short:        "Show version information",
	Args:         cobra.NoArgs,
	RunE:         versionMain,
	SilenceUsage: true,
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

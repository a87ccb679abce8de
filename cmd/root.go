package main

import (
	"fmt"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/agent"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/logutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewCommand returns the root command of the gpudebug CLI.
func NewCommand() *cobra.Command {
	var level string

	cmd := &cobra.Command{
		Use:          "gpudebug",
		Short:        "AMD GPU wave state debugging tools",
		Long:         `gpudebug decodes captured context save areas and traces HSA runtime queue lifetimes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if level == "" {
				return nil
			}
			return logutil.Configure("", level, "cli")
		},
	}

	cmd.AddCommand(
		newDecodeCommand(),
		newTraceCommand(),
		newVersionCommand(),
	)
	cmd.PersistentFlags().StringVar(&level, "log-level", "", "none, error, warning, info or verbose")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the debug agent version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ROCm debug agent version: %s\n", agent.Version)
		},
	}
}

func logger() *zap.Logger {
	return logutil.GetLogger()
}

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/doublecloud/lakesink/internal/logger"
)

func main() {
	rootCommand := &cobra.Command{
		Use:          "lakesink",
		Short:        "Lakehouse table sink cli",
		Example:      "./lakesink help",
		SilenceUsage: true,
	}
	rootCommand.AddCommand(createCommand())
	rootCommand.AddCommand(writeCommand())

	if err := rootCommand.Execute(); err != nil {
		logger.Log.Error(err.Error())
		os.Exit(1)
	}
}

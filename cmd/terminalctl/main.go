package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "terminalctl",
		Short:         "Operator tooling for the terminal orchestrator",
		Version:       service.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output as JSON")

	rootCmd.AddCommand(recoverCmd())
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "cdpmock",
	Short:         "Mock HTTP responses in a running browser over the DevTools protocol",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cdpmock %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (defaults plus CDPMOCK_* env when empty)")
	rootCmd.PersistentFlags().String("server", "", "control server address for client commands (defaults to web.listenAddr)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

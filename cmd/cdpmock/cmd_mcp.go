package main

import (
	"os/signal"
	"syscall"

	"cdpmock/internal/mcp"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the control API as MCP tools over stdio",
	Long: `Serve the control API as MCP tools over stdio.

The tools forward to a running "cdpmock serve" instance, selected with --server
or web.listenAddr from the config. stdout carries the MCP stream, so logs go to
stderr or the configured log file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log, closeLog, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Info("MCP 服务启动", "version", Version)
		return mcp.NewServer(c, Version, log).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

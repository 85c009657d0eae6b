package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "qiws",
		Short: "Distributed WebSocket messaging server",
		Long: `qiws runs authenticated WebSocket connections with rooms, per-user
sessions and broadcast, and fans messages out across instances through a
Redis, RabbitMQ or Kafka bus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")

	root.AddCommand(
		serveCmd(&configPath),
		emitCmd(&configPath),
		configCmd(&configPath),
		versionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// success 打印成功信息
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var opts daemonOptions
	rootCmd := &cobra.Command{
		Use:   "linkd",
		Short: "Accept binary links and store the files they send",
		Long: `linkd listens for binary link connections over TCP, TLS or WebSocket.

Requests to the built-in handlers are answered, events are logged and received files
are written to the configured sink. An admin HTTP surface exposes health, live
connections and prometheus metrics.

Examples:
  linkd --config linkd.toml
  linkd --addr :7400 --admin 127.0.0.1:7410
  linkd --print-config > linkd.toml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}
	rootCmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to linkd.toml (defaults when empty)")
	rootCmd.Flags().StringVar(&opts.addr, "addr", "", "override the link listen address")
	rootCmd.Flags().StringVar(&opts.adminAddr, "admin", "", "override the admin http address")
	rootCmd.Flags().BoolVar(&opts.printConfig, "print-config", false, "print the default config and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "linkd: %v\n", err)
		os.Exit(1)
	}
}

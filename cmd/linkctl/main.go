package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalOptions struct {
	configPath string
	addr       string
	url        string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "linkctl",
		Short: "Talk to a linkd daemon over a binary link",
		Long: `linkctl dials linkd over TCP, TLS or WebSocket and drives one link.

Examples:
  linkctl ping
  linkctl request --handler 1 --result 0
  linkctl send-file ./report.csv --context uploads
  linkctl --url ws://127.0.0.1:7410/ws event --handler 5
  linkctl config init --kind linkd --out linkd.toml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to linkctl.toml (defaults when empty)")
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "override the linkd address")
	cmd.PersistentFlags().StringVar(&opts.url, "url", "", "dial a ws:// or wss:// endpoint instead of addr")

	cmd.AddCommand(pingCmd(opts))
	cmd.AddCommand(requestCmd(opts))
	cmd.AddCommand(eventCmd(opts))
	cmd.AddCommand(sendFileCmd(opts))
	cmd.AddCommand(configCmd())
	return cmd
}

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/binlink/internal/config"
	"github.com/danmuck/binlink/internal/link"
	"github.com/danmuck/binlink/internal/protocol/entity"
	"github.com/danmuck/binlink/internal/protocol/message"
)

func pingCmd(opts *globalOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure link round trip time",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context(), opts, link.Hooks{})
			if err != nil {
				return err
			}
			defer c.Close()
			for i := 0; i < count; i++ {
				rtt, err := ping(cmd.Context(), c, 5*time.Second)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s rtt=%s\n", c.Name(), rtt)
			}
			return c.Shutdown(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of pings")
	return cmd
}

// ping sends one Ping and waits for its Pong to move LastPong forward.
func ping(ctx context.Context, c *link.Conn, timeout time.Duration) (time.Duration, error) {
	before := c.Stats().LastPong
	if err := c.Ping(ctx); err != nil {
		return 0, err
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		select {
		case <-ticker.C:
			if c.Stats().LastPong.After(before) {
				return c.LastRTT(), nil
			}
		case <-c.Done():
			return 0, c.Reason()
		case <-deadline:
			return 0, fmt.Errorf("no pong within %s", timeout)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func resultBody(cmd *cobra.Command, result int32) *entity.Entity {
	if !cmd.Flags().Changed("result") {
		return nil
	}
	return message.NewResultBody(message.Result(result))
}

func requestCmd(opts *globalOptions) *cobra.Command {
	var (
		handler int32
		result  int32
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send a request and print the response result",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context(), opts, link.Hooks{})
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.SendRequest(cmd.Context(), message.NewRequest(handler, resultBody(cmd, result)), timeout)
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			return c.Shutdown(cmd.Context())
		},
	}
	cmd.Flags().Int32Var(&handler, "handler", 1, "handler id")
	cmd.Flags().Int32Var(&result, "result", 0, "result code carried in the request body")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "response timeout (link request_timeout when 0)")
	return cmd
}

func printResponse(w io.Writer, resp *message.Envelope) {
	r := resp.Result()
	status := "ok"
	if r.Failed() {
		status = "failed"
	}
	fmt.Fprintf(w, "request=%d result=%s (%d) %s\n", resp.RequestID, r, int32(r), status)
}

func eventCmd(opts *globalOptions) *cobra.Command {
	var (
		handler int32
		result  int32
	)
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Send a one-way event",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context(), opts, link.Hooks{})
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Enqueue(cmd.Context(), message.NewEvent(handler, resultBody(cmd, result))); err != nil {
				return err
			}
			return c.Shutdown(cmd.Context())
		},
	}
	cmd.Flags().Int32Var(&handler, "handler", 1, "handler id")
	cmd.Flags().Int32Var(&result, "result", 0, "result code carried in the event body")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	var (
		kind      string
		out       string
		overwrite bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				text, err := config.Template(kind)
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			}
			if err := config.WriteTemplate(out, kind, overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, out)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", config.KindClient, "template kind: linkd or linkctl")
	initCmd.Flags().StringVarP(&out, "out", "o", "", "output path (stdout when empty)")
	initCmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/rsockcore/internal/config"
	"github.com/danmuck/rsockcore/internal/conn"
	"github.com/danmuck/rsockcore/internal/payload"
)

var requestMetadata string

var requestCmd = &cobra.Command{
	Use:   "request <data>",
	Short: "send one request and print the response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Role = config.RoleClient
		var md []byte
		if cmd.Flags().Changed("metadata") {
			md = []byte(requestMetadata)
		}
		resp, err := request(cmd.Context(), cfg, payload.New(nil, []byte(args[0]), md))
		if err != nil {
			return err
		}
		if resp == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
			return nil
		}
		defer resp.Release()
		if resp.HasMetadata() {
			fmt.Fprintf(cmd.OutOrStdout(), "metadata: %s\n", resp.Metadata())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "data: %s\n", resp.Data())
		return nil
	},
}

func init() {
	requestCmd.Flags().StringVarP(&requestMetadata, "metadata", "m", "", "request metadata")
}

// request dials cfg.Addr, runs the connection for one exchange and closes it.
func request(ctx context.Context, cfg config.Config, p *payload.Payload) (*payload.Payload, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	opts, err := cfg.ConnOptions(nil)
	if err != nil {
		p.Release()
		return nil, err
	}
	c, err := conn.Dial(ctx, cfg.Addr, opts)
	if err != nil {
		p.Release()
		return nil, err
	}

	var resp *payload.Payload
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		defer c.Close()
		var err error
		resp, err = c.Request(gctx, p)
		return err
	})
	if err := g.Wait(); err != nil {
		payload.SafeRelease(resp)
		return nil, err
	}
	return resp, nil
}

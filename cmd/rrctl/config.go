package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/rsockcore/internal/config"
)

var configCmd = &cobra.Command{
	Use:       "config [client|server]",
	Short:     "print a config template",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{config.RoleClient, config.RoleServer},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := cfg.Role
		if len(args) == 1 {
			kind = args[0]
		}
		out, err := config.Template(kind)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

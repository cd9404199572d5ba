package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/rsockcore/internal/config"
	"github.com/danmuck/rsockcore/internal/logging"
)

type globalFlags struct {
	ConfigPath string
	Addr       string
	MTU        int
	LogLevel   string
}

var (
	flags globalFlags
	cfg   config.Config
)

var rootCmd = &cobra.Command{
	Use:           "rrctl",
	Short:         "request/response over length-prefixed frames",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.ConfigureRuntime()

		loaded := config.Default()
		if flags.ConfigPath != "" {
			var err error
			if loaded, err = config.Load(flags.ConfigPath); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("addr") {
			loaded.Addr = flags.Addr
		}
		if cmd.Flags().Changed("mtu") {
			loaded.MTU = flags.MTU
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = flags.LogLevel
		}
		if err := config.Validate(loaded); err != nil {
			return err
		}
		if !logging.SetLevel(loaded.LogLevel) {
			return fmt.Errorf("invalid log level %q", loaded.LogLevel)
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rrctl: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&flags.Addr, "addr", "", "listen or dial address")
	rootCmd.PersistentFlags().IntVar(&flags.MTU, "mtu", 0, "fragment size, 0 disables fragmentation")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "trace|debug|info|warn|error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(configCmd)
}

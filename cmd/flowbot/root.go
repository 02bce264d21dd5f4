package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Proton-105/flowbot/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:           "flowbot",
	Short:         "flowbot runs Telegram bots defined as flow graphs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the config file (default ./configs/<APP_ENV>.yaml)")
	rootCmd.PersistentFlags().String("env", "", "application environment, overrides APP_ENV")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	env, _ := cmd.Flags().GetString("env")

	if env != "" {
		if err := os.Setenv("APP_ENV", env); err != nil {
			return nil, err
		}
	}
	if path == "" {
		return config.Load()
	}
	if env == "" {
		env = os.Getenv("APP_ENV")
	}
	if env == "" {
		env = "development"
	}
	return config.LoadFile(path, env)
}

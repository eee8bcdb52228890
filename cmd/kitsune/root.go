// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kitsune-sh/kitsune-core/internal/config"
	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/logging"
)

var (
	configPath string
	appConfig  *domain.Config
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kitsune",
		Short:         "Kitsune Core: anime acquisition orchestrator",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appConfig = loaded.Config
			logging.Configure(appConfig)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "kitsune.toml", "path to the TOML config file")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newDBCommand())

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

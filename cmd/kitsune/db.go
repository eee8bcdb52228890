// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/kitsune-sh/kitsune-core/internal/database"
)

// newDBCommand groups offline database operations, grounded on the
// teacher's cmd/qui/db_command.go "db" parent-command shape (its own
// migration step is a cross-dialect import; the core's single SQLite
// backend only needs "migrate" to apply pending embedded migrations).
func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(newDBMigrateCommand())
	return cmd
}

func newDBMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending embedded migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.New(appConfig.DatabaseDSN)
			if err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return db.Close()
		},
	}
}

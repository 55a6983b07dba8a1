package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/db"
)

func newRootCmd() *cobra.Command {
	var configPath string

	// open connects and hands back a migrator plus a close func for both.
	open := func() (*migrate.Migrate, func(), error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		conn, err := db.Open(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		m, err := db.NewMigrator(conn.DB)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return m, func() { m.Close(); conn.Close() }, nil
	}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the outreach database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closeFn, err := open()
			if err != nil {
				return err
			}
			defer closeFn()
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
			return printVersion(cmd, m)
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid steps %q", args[0])
				}
				steps = n
			}
			m, closeFn, err := open()
			if err != nil {
				return err
			}
			defer closeFn()
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
			return printVersion(cmd, m)
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closeFn, err := open()
			if err != nil {
				return err
			}
			defer closeFn()
			return printVersion(cmd, m)
		},
	}

	root.AddCommand(up, down, version)
	return root
}

func printVersion(cmd *cobra.Command, m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		cmd.Println("schema version: none")
		return nil
	}
	if err != nil {
		return err
	}
	cmd.Printf("schema version: %d (dirty=%t)\n", v, dirty)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newWaitReadyCmd(flags *rootFlags) *cobra.Command {
	var timeout, period time.Duration
	cmd := &cobra.Command{
		Use:   "wait-ready",
		Short: "Block until the database server answers a trivial query",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, err := newHandle(flags)
			if err != nil {
				return err
			}
			defer h.Close()
			return h.WaitUntilServerReady(cmd.Context(), timeout, period)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "total time to wait")
	cmd.Flags().DurationVar(&period, "period", 3*time.Second, "delay between attempts")
	return cmd
}

func newCreateDatabaseCmd(flags *rootFlags) *cobra.Command {
	var maintenanceDB string
	cmd := &cobra.Command{
		Use:   "create-database NAME",
		Short: "Create a database unless it already exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, err := newHandle(flags)
			if err != nil {
				return err
			}
			defer h.Close()
			// Creation has to run from a different database than the
			// one being created.
			admin, err := h.Sibling(maintenanceDB, nil)
			if err != nil {
				return err
			}
			defer admin.Close()
			return admin.CreateDatabase(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&maintenanceDB, "maintenance-db", "postgres", "database to connect to for the creation statement")
	return cmd
}

func newCreateSchemasCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create-schemas",
		Short: "Create every schema namespace referenced by the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, err := newHandle(flags)
			if err != nil {
				return err
			}
			defer h.Close()
			return h.CreateAllSchemas(cmd.Context())
		},
	}
}

func newCreateTablesCmd(flags *rootFlags) *cobra.Command {
	var exclude string
	cmd := &cobra.Command{
		Use:   "create-tables",
		Short: "Create catalog tables that do not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, err := newHandle(flags)
			if err != nil {
				return err
			}
			defer h.Close()
			return h.CreateTablesExcluding(cmd.Context(), exclude)
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "*_view", "glob pattern of table names to skip (empty disables)")
	return cmd
}

func newExecCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec SQL",
		Short: "Run a statement and print any result rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, log, err := newHandle(flags)
			if err != nil {
				return err
			}
			defer h.Close()

			rows, err := h.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer rows.Close()

			headers := make([]string, len(rows.FieldDescriptions()))
			for i, fd := range rows.FieldDescriptions() {
				headers[i] = fd.Name
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetAutoWrapText(false)
			table.SetAutoFormatHeaders(false)
			table.SetHeader(headers)

			count := 0
			for rows.Next() {
				values, err := rows.Values()
				if err != nil {
					return err
				}
				cells := make([]string, len(values))
				for i, v := range values {
					cells[i] = fmt.Sprint(v)
				}
				table.Append(cells)
				count++
			}
			if err := rows.Err(); err != nil {
				return err
			}
			if len(headers) > 0 {
				table.Render()
			}
			log.Info("statement executed", "rows", count)
			return nil
		},
	}
}

func newExecScriptCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec-script PATH",
		Short: "Run a SQL script file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, log, err := newHandle(flags)
			if err != nil {
				return err
			}
			defer h.Close()
			if err := h.ExecScript(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.Info("script executed", "path", args[0])
			return nil
		},
	}
}

func newRefreshViewsCmd(flags *rootFlags) *cobra.Command {
	var concurrently bool
	cmd := &cobra.Command{
		Use:   "refresh-views VIEW [VIEW...]",
		Short: "Refresh materialized views, one at a time, in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, _, err := newHandle(flags)
			if err != nil {
				return err
			}
			defer h.Close()
			_, err = h.RefreshMaterializedViews(cmd.Context(), args, concurrently)
			return err
		},
	}
	cmd.Flags().BoolVar(&concurrently, "concurrently", true, "refresh without locking out readers")
	return cmd
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-cms/dbal/internal/mcp"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect to the configured backend and report success",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", a.db.Type())
		return nil
	},
}

var columnsCmd = &cobra.Command{
	Use:   "columns <table>",
	Short: "Print the columns of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		ok, err := a.db.TableExists(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("table %q does not exist", args[0])
		}

		cols, err := a.db.Columns(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, cols)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <sql> [params...]",
	Short: "Run a read-only query and print the rows as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := mcp.ValidateReadOnly(a.db.Type(), args[0]); err != nil {
			return fmt.Errorf("query rejected: %w", err)
		}

		params := make([]any, 0, len(args)-1)
		for _, p := range args[1:] {
			params = append(params, p)
		}

		rows, err := a.db.Query(cmd.Context(), args[0], params...)
		if err != nil {
			return err
		}
		return printJSON(cmd, rows)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the database to MCP clients over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		srv := mcp.NewServer(a.db, a.log, mcp.Options{
			MaxRows:      a.cfg.MCP.MaxRows,
			QueryTimeout: a.cfg.MCP.QueryTimeout,
		})

		a.log.Infow("mcp server started", "backend", a.db.Type(), "read_only", true)
		err = srv.Serve(ctx, os.Stdin, os.Stdout)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			a.log.Infow("mcp server shut down")
			return nil
		}
		return err
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

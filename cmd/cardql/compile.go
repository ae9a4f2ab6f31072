package main

import (
	"encoding/json"
	"fmt"
	"io"

	"cardql/internal/cardstore"
	"cardql/internal/planner"

	"github.com/spf13/cobra"
)

type compileOutput struct {
	SQL         string              `json:"sql"`
	Args        []any               `json:"args"`
	HasLinks    bool                `json:"has_links"`
	LinkAliases map[string][]string `json:"link_aliases,omitempty"`
	Links       int                 `json:"links"`
	LinkDepth   int                 `json:"link_depth"`
}

func newCompileCommand() *cobra.Command {
	flags := &queryFlags{}
	var format string

	cmd := &cobra.Command{
		Use:   "compile <schema-file|->",
		Short: "Compile a schema to SQL without executing it",
		Long: `Compile a JSON or YAML schema into the PostgreSQL query that selects every
matching card. The query policy (default and maximum limit, link limits, text
search configuration) is taken from configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "sql" {
				return fmt.Errorf("invalid format %q: must be json or sql", format)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			document, err := readSchemaDocument(cmd, args[0])
			if err != nil {
				return err
			}
			schema, err := cardstore.ParseSchema(document)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			compiled, err := a.store().Compile(cmd.Context(), schema, flags.options())
			closeErr := a.close()
			if err != nil {
				return err
			}
			if err := writeCompiled(cmd.OutOrStdout(), compiled, format); err != nil {
				return err
			}
			return closeErr
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", "json", "Output format (json, sql)")
	return cmd
}

func writeCompiled(w io.Writer, compiled *planner.CompiledQuery, format string) error {
	if format == "sql" {
		_, err := fmt.Fprintln(w, compiled.SQL)
		return err
	}
	args := compiled.Args
	if args == nil {
		args = []any{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(compileOutput{
		SQL:         compiled.SQL,
		Args:        args,
		HasLinks:    compiled.HasLinks,
		LinkAliases: compiled.LinkAliases,
		Links:       compiled.Cost.Links,
		LinkDepth:   compiled.Cost.LinkDepth,
	})
}

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"cardql/internal/cardstore"

	"github.com/spf13/cobra"
)

func newQueryCommand() *cobra.Command {
	flags := &queryFlags{}
	var format string

	cmd := &cobra.Command{
		Use:   "query <schema-file|->",
		Short: "Run a schema against the cards database and print matching cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if format != "json" && format != "ndjson" {
				return fmt.Errorf("invalid format %q: must be json or ndjson", format)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			document, err := readSchemaDocument(cmd, args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.close(); err == nil {
					err = closeErr
				}
			}()

			if err := a.openDatabase(cmd.Context()); err != nil {
				return err
			}
			result, err := a.store().QueryDocument(cmd.Context(), document, flags.options())
			if err != nil {
				return err
			}
			a.logger.WithQueryID(result.QueryID).Info("card query completed",
				"cards", len(result.Cards),
				"has_links", result.Compiled.HasLinks,
			)
			return writeCards(cmd.OutOrStdout(), result, format)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", "json", "Output format (json, ndjson)")
	return cmd
}

func writeCards(w io.Writer, result *cardstore.Result, format string) error {
	enc := json.NewEncoder(w)
	if format == "ndjson" {
		for _, card := range result.Cards {
			if err := enc.Encode(card); err != nil {
				return err
			}
		}
		return nil
	}
	enc.SetIndent("", "  ")
	return enc.Encode(result.Cards)
}

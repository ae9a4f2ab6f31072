package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cardql/internal/config"
	"cardql/internal/planner"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cardql",
		Short: "Compile JSON Schema card queries into PostgreSQL",
		Long: `cardql translates a JSON Schema, extended with $$links traversal and
fullTextSearch, into a single PostgreSQL query over the cards and links tables.

Configuration is read from cardql.yaml, CARDQL_* environment variables and flags,
in increasing order of precedence.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newCompileCommand())
	cmd.AddCommand(newQueryCommand())
	return cmd
}

// loadConfig loads and validates configuration, reporting warnings on the
// default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	result := cfg.Validate()
	for _, warn := range result.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if result.HasErrors() {
		for _, e := range result.Errors {
			slog.Error("configuration error",
				slog.String("field", e.Field),
				slog.String("message", e.Message),
				slog.String("hint", e.Hint),
			)
		}
		return nil, fmt.Errorf("configuration validation failed")
	}
	return cfg, nil
}

// queryFlags are the ordering and pagination flags shared by compile and query.
type queryFlags struct {
	limit      int
	skip       int
	sortBy     string
	sortDir    string
	linkLimits map[string]int
	linkSkips  map[string]int
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum number of cards (0 uses query.default_limit)")
	cmd.Flags().IntVar(&f.skip, "skip", 0, "Number of matching cards to skip")
	cmd.Flags().StringVar(&f.sortBy, "sort-by", "", "Dot separated sort path, e.g. data.timestamp")
	cmd.Flags().StringVar(&f.sortDir, "sort-dir", "asc", "Sort direction (asc, desc)")
	cmd.Flags().StringToIntVar(&f.linkLimits, "link-limit", nil, "Per link type limit, e.g. \"has member=5\"")
	cmd.Flags().StringToIntVar(&f.linkSkips, "link-skip", nil, "Per link type skip")
}

func (f *queryFlags) options() planner.Options {
	opts := planner.Options{
		Limit:   f.limit,
		Skip:    f.skip,
		SortDir: f.sortDir,
	}
	if f.sortBy != "" {
		opts.SortBy = strings.Split(f.sortBy, ".")
	}
	for linkType, limit := range f.linkLimits {
		if opts.Links == nil {
			opts.Links = map[string]planner.Options{}
		}
		link := opts.Links[linkType]
		link.Limit = limit
		opts.Links[linkType] = link
	}
	for linkType, skip := range f.linkSkips {
		if opts.Links == nil {
			opts.Links = map[string]planner.Options{}
		}
		link := opts.Links[linkType]
		link.Skip = skip
		opts.Links[linkType] = link
	}
	return opts
}

// readSchemaDocument reads a schema from path, or from stdin when path is "-".
func readSchemaDocument(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read schema from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return data, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/config"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/dataset"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/oltp"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/star"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/storage"
	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/warehouse"
)

// openSource resolves uri to a Source. An empty uri generates a dataset from
// seed. Postgres sources share one pool, closed by the returned func.
func openSource(ctx context.Context, uri string, seed uint64, maxConns int32) (dataset.Source, func(), error) {
	if uri == "" {
		opts := dataset.DefaultGenerateOptions()
		opts.Seed = seed
		return &dataset.Generated{Options: opts}, func() {}, nil
	}

	src, err := dataset.Open(uri)
	if err != nil {
		return nil, nil, err
	}
	if pg, ok := src.(*dataset.Postgres); ok {
		pool, err := dataset.NewPool(ctx, pg.ConnString, maxConns)
		if err != nil {
			return nil, nil, err
		}
		pg.Pool = pool
		return pg, pool.Close, nil
	}
	return src, func() {}, nil
}

// sourceFlags are shared by every command that reads a dataset.
type sourceFlags struct {
	source string
	seed   uint64
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "", "JSON file, Parquet directory or postgres:// URL (default: HEALTHSTAR_SOURCE, else generated)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "generator seed when no source is given (default: HEALTHSTAR_GENERATE_SEED)")
}

// load reads the dataset named by the flags, falling back to cfg.
func (f *sourceFlags) load(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (oltp.Dataset, string, error) {
	uri, seed := cfg.Source, cfg.GenerateSeed
	if cmd.Flags().Changed("source") {
		uri = f.source
	}
	if cmd.Flags().Changed("seed") {
		seed = f.seed
	}

	src, closeSrc, err := openSource(ctx, uri, seed, cfg.PGMaxConns)
	if err != nil {
		return oltp.Dataset{}, "", err
	}
	defer closeSrc()

	ds, err := src.Load(ctx)
	if err != nil {
		return oltp.Dataset{}, "", fmt.Errorf("load %s: %w", src, err)
	}
	return ds, src.String(), nil
}

// queryFlags override the configured query tuning.
type queryFlags struct {
	minEncounters  int64
	limit          int
	windowDays     int
	zeroDischarges string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.minEncounters, "min-encounters", 0, "minimum encounters per diagnosis/procedure pair")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum diagnosis/procedure pairs")
	cmd.Flags().IntVar(&f.windowDays, "window-days", 0, "readmission window in days")
	cmd.Flags().StringVar(&f.zeroDischarges, "zero-discharges", "", "policy for specialties without discharges: omit, zero, null or error")
}

func (f *queryFlags) options(cfg *config.Config) (query.Options, error) {
	opts := cfg.QueryOptions()
	if f.minEncounters > 0 {
		opts.Pairs.MinEncounters = f.minEncounters
	}
	if f.limit > 0 {
		opts.Pairs.Limit = f.limit
	}
	if f.windowDays > 0 {
		opts.Readmission.WindowDays = f.windowDays
	}
	if f.zeroDischarges != "" {
		p := query.ZeroDischargePolicy(f.zeroDischarges)
		if !p.Valid() {
			return opts, fmt.Errorf("--zero-discharges must be omit, zero, null or error, got %q", f.zeroDischarges)
		}
		opts.Readmission.ZeroDischarges = p
	}
	return opts, nil
}

// newWarehouse publishes ds into a warehouse, with an in-memory SQL mirror
// when withMirror is set. The returned func releases the mirror.
func newWarehouse(ctx context.Context, ds oltp.Dataset, source string, withMirror bool, verify bool, logger zerolog.Logger) (*warehouse.Warehouse, func(), error) {
	var mirror *storage.Storage
	closeFn := func() {}
	if withMirror {
		var err error
		if mirror, err = storage.New(""); err != nil {
			return nil, nil, err
		}
		closeFn = func() { mirror.Close() }
	}

	wh := warehouse.New(warehouse.Options{Mirror: mirror, Verify: verify, Logger: logger})
	if _, err := wh.Replace(ctx, ds, source); err != nil {
		closeFn()
		return nil, nil, err
	}
	return wh, closeFn, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func materializeCmd() *cobra.Command {
	var (
		src        sourceFlags
		parquetDir string
		duckdbPath string
	)
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Build the star schema from a dataset, verify it and optionally export it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			ds, source, err := src.load(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			entities, err := oltp.Load(ds)
			if err != nil {
				return err
			}
			st, err := star.Materialize(entities)
			if err != nil {
				return err
			}
			if err := star.Verify(entities, st); err != nil {
				return err
			}
			logger.Info().Str("source", source).Int("facts", len(st.Facts())).Msg("star schema materialized")

			if parquetDir != "" {
				if err := dataset.ExportStar(parquetDir, st); err != nil {
					return err
				}
				logger.Info().Str("dir", parquetDir).Msg("star schema exported")
			}
			if duckdbPath != "" {
				mirror, err := storage.New(duckdbPath)
				if err != nil {
					return err
				}
				defer mirror.Close()
				res, err := mirror.LoadSnapshot(ctx, uuid.NewString(), entities, st)
				if err != nil {
					return err
				}
				logger.Info().Str("path", duckdbPath).Int64("rows", res.Total()).Msg("duckdb snapshot written")
			}
			return printJSON(st.Counts())
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&parquetDir, "parquet", "", "write every star table as Parquet into this directory")
	cmd.Flags().StringVar(&duckdbPath, "duckdb", "", "write both schemas into this DuckDB file")
	return cmd
}

func queryCmd() *cobra.Command {
	var (
		src     sourceFlags
		qf      queryFlags
		backend string
	)
	cmd := &cobra.Command{
		Use:   "query NAME",
		Short: "Run one canonical query (q1..q4 or its full name) and print the rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := query.ParseName(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := qf.options(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			ds, source, err := src.load(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			wh, closeWh, err := newWarehouse(ctx, ds, source, strings.HasPrefix(backend, "sql-"), cfg.Verify, newLogger(cfg))
			if err != nil {
				return err
			}
			defer closeWh()

			x, _, err := wh.Executor(backend)
			if err != nil {
				return err
			}
			rows, err := query.Run(ctx, x, name, opts)
			if err != nil {
				return err
			}
			return printJSON(rows)
		},
	}
	src.register(cmd)
	qf.register(cmd)
	cmd.Flags().StringVar(&backend, "backend", "oltp", "executor: "+strings.Join(warehouse.Backends, ", "))
	return cmd
}

func compareCmd() *cobra.Command {
	var (
		src         sourceFlags
		qf          queryFlags
		left, right string
		all         bool
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run every query on two backends and report differing rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := qf.options(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			ds, source, err := src.load(ctx, cmd, cfg)
			if err != nil {
				return err
			}

			pairs := [][2]string{{left, right}}
			if all {
				pairs = pairs[:0]
				for i, l := range warehouse.Backends {
					for _, r := range warehouse.Backends[i+1:] {
						pairs = append(pairs, [2]string{l, r})
					}
				}
			}
			withMirror := all || strings.HasPrefix(left, "sql-") || strings.HasPrefix(right, "sql-")

			wh, closeWh, err := newWarehouse(ctx, ds, source, withMirror, cfg.Verify, newLogger(cfg))
			if err != nil {
				return err
			}
			defer closeWh()

			var diffs []*query.Diff
			mismatched := false
			for _, p := range pairs {
				lx, _, err := wh.Executor(p[0])
				if err != nil {
					return err
				}
				rx, _, err := wh.Executor(p[1])
				if err != nil {
					return err
				}
				diff, err := query.Compare(ctx, lx, rx, opts)
				if err != nil {
					return err
				}
				mismatched = mismatched || !diff.Equal()
				diffs = append(diffs, diff)
			}
			if err := printJSON(diffs); err != nil {
				return err
			}
			if mismatched {
				return fmt.Errorf("backends disagree")
			}
			return nil
		},
	}
	src.register(cmd)
	qf.register(cmd)
	cmd.Flags().StringVar(&left, "left", "oltp", "left executor")
	cmd.Flags().StringVar(&right, "right", "star", "right executor")
	cmd.Flags().BoolVar(&all, "all", false, "compare every pair of executors")
	return cmd
}

func generateCmd() *cobra.Command {
	opts := dataset.DefaultGenerateOptions()
	var (
		out     string
		parquet bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a deterministic synthetic dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.Generate(opts)
			if err != nil {
				return err
			}
			return writeDataset(out, parquet, ds)
		},
	}
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	cmd.Flags().IntVar(&opts.Patients, "patients", opts.Patients, "number of patients")
	cmd.Flags().IntVar(&opts.Providers, "providers", opts.Providers, "number of providers")
	cmd.Flags().IntVar(&opts.Encounters, "encounters", opts.Encounters, "number of encounters")
	cmd.Flags().IntVar(&opts.Days, "days", opts.Days, "days covered, starting 2024-01-01")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file (.json or .json.gz), directory with --parquet, or - for stdout")
	cmd.Flags().BoolVar(&parquet, "parquet", false, "write a Parquet directory instead of JSON")
	return cmd
}

func convertCmd() *cobra.Command {
	var (
		src     sourceFlags
		out     string
		parquet bool
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Copy a dataset between JSON, Parquet and PostgreSQL sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ds, _, err := src.load(cmd.Context(), cmd, cfg)
			if err != nil {
				return err
			}
			// Reject broken datasets before writing them anywhere.
			if _, err := oltp.Load(ds); err != nil {
				return err
			}
			return writeDataset(out, parquet, ds)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, directory with --parquet, or - for stdout")
	cmd.Flags().BoolVar(&parquet, "parquet", false, "write a Parquet directory instead of JSON")
	return cmd
}

func writeDataset(out string, parquet bool, ds oltp.Dataset) error {
	switch {
	case parquet:
		if out == "-" {
			return fmt.Errorf("--parquet needs an --out directory")
		}
		return dataset.WriteParquetDir(out, ds)
	case out == "-":
		return dataset.WriteJSON(os.Stdout, ds)
	default:
		return dataset.WriteJSONFile(out, ds)
	}
}

func seedPostgresCmd() *cobra.Command {
	var (
		src         sourceFlags
		databaseURL string
	)
	cmd := &cobra.Command{
		Use:   "seed-postgres",
		Short: "Create the normalized schema in PostgreSQL and load a dataset into it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			ds, source, err := src.load(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			if _, err := oltp.Load(ds); err != nil {
				return err
			}

			pool, err := dataset.NewPool(ctx, databaseURL, cfg.PGMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := dataset.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			n, err := dataset.Seed(ctx, pool, ds)
			if err != nil {
				return err
			}
			logger.Info().Str("source", source).Int64("rows", n).Msg("postgres seeded")
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "postgres:// connection string")
	_ = cmd.MarkFlagRequired("database-url")
	return cmd
}

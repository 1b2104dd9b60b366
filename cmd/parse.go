package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/address-cli/internal/batch"
	"github.com/sells-group/address-cli/internal/config"
	"github.com/sells-group/address-cli/internal/cost"
	"github.com/sells-group/address-cli/internal/export"
	"github.com/sells-group/address-cli/internal/fetcher"
	"github.com/sells-group/address-cli/internal/fixedwidth"
	"github.com/sells-group/address-cli/internal/model"
	"github.com/sells-group/address-cli/internal/source"
	"github.com/sells-group/address-cli/internal/store"
	"github.com/sells-group/address-cli/pkg/geocode"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Format an address file and optionally verify each address",
	Long: "Reads the fixed-width address file (extracting it from the configured archive when missing), " +
		"formats every line with the active schema, keeps only rooftop geocode matches when verification " +
		"is enabled, and stores or exports the result.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := parseOptionsFromFlags(cmd, cfg)
		if !opts.Verify {
			cfg.Geocode.Enabled = false
		}
		if err := cfg.Validate("parse"); err != nil {
			return err
		}

		deps := parseDeps{
			fetcher: fetcher.NewRouter(),
			costs:   cost.NewCalculator(cfg.Pricing),
			out:     os.Stdout,
		}

		if !opts.NoStore {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			deps.store = st
		}

		if opts.Verify {
			var cache geocode.Cache
			if cfg.Geocode.CacheEnabled {
				if deps.store != nil {
					cache = deps.store
				} else {
					cache = geocode.NewMemoryCache()
				}
			}
			deps.verifier = newVerifier(cfg.Geocode, cache)
		}

		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar := progressbar.NewOptions(-1,
				progressbar.OptionSetDescription("Parsing addresses"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionSpinnerType(14),
				progressbar.OptionClearOnFinish(),
			)
			defer bar.Finish() //nolint:errcheck
			deps.onProgress = func() { _ = bar.Add(1) }
		}

		_, err := executeParse(ctx, opts, deps)
		return err
	},
}

// parseOptions is the resolved input of one parse run.
type parseOptions struct {
	File         string
	Archive      string
	SchemaPath   string
	Verify       bool
	Concurrency  int
	Limit        int
	H3Resolution int
	Output       string
	Format       string
	NoStore      bool
}

// parseDeps are the collaborators of a parse run. store and verifier may be nil.
type parseDeps struct {
	store      store.Store
	verifier   batch.Verifier
	fetcher    fetcher.Fetcher
	costs      *cost.Calculator
	out        io.Writer
	onProgress func()
}

// requestCounter is implemented by verifiers that call a billed API.
type requestCounter interface {
	Requests() int64
}

// parseResult summarises a finished parse run.
type parseResult struct {
	RunID   string
	Records []model.AddressRecord
	Stats   model.Stats
	Status  model.RunStatus

	GeocodeRequests int64
	GeocodeCost     float64
}

func parseOptionsFromFlags(cmd *cobra.Command, c *config.Config) parseOptions {
	opts := parseOptions{
		File:         c.Input.File,
		Archive:      c.Input.Archive,
		SchemaPath:   c.Schema.Path,
		Verify:       c.Geocode.Enabled,
		Concurrency:  c.Geocode.Concurrency,
		H3Resolution: c.Geocode.H3Resolution,
	}
	if v, _ := cmd.Flags().GetString("file"); v != "" {
		opts.File = v
	}
	if v, _ := cmd.Flags().GetString("archive"); v != "" {
		opts.Archive = v
	}
	if v, _ := cmd.Flags().GetString("schema"); v != "" {
		opts.SchemaPath = v
	}
	if noVerify, _ := cmd.Flags().GetBool("no-verify"); noVerify {
		opts.Verify = false
	}
	if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
		opts.Concurrency = v
	}
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	opts.Output, _ = cmd.Flags().GetString("output")
	opts.Format, _ = cmd.Flags().GetString("format")
	opts.NoStore, _ = cmd.Flags().GetBool("no-store")
	return opts
}

// newVerifier builds the rooftop verifier from config. cache may be nil.
func newVerifier(gc config.GeocodeConfig, cache geocode.Cache) *geocode.Verifier {
	client := geocode.NewClient(gc.GoogleKey,
		geocode.WithTimeout(time.Duration(gc.TimeoutSecs)*time.Second),
		geocode.WithRateLimit(gc.RateLimit),
	)
	vopts := []geocode.VerifierOption{
		geocode.WithRetry(gc.Retry.Backoff()),
		geocode.WithCircuitBreaker(gc.Circuit.Breaker()),
	}
	if cache != nil {
		vopts = append(vopts, geocode.WithCache(cache, gc.CacheTTL()))
	}
	return geocode.NewVerifier(client, vopts...)
}

// executeParse runs one parse end to end. Records are exported even when
// persisting them fails; the first error encountered is returned.
func executeParse(ctx context.Context, opts parseOptions, deps parseDeps) (*parseResult, error) {
	if err := source.Prepare(ctx, opts.File, opts.Archive, deps.fetcher); err != nil {
		return nil, err
	}

	schema, err := fixedwidth.LoadSchema(opts.SchemaPath)
	if err != nil {
		return nil, err
	}

	var format export.Format
	if opts.Output != "" {
		if format, err = export.ParseFormat(opts.Format, opts.Output); err != nil {
			return nil, err
		}
	}

	src, err := source.Open(opts.File)
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck

	result := &parseResult{}
	if deps.store != nil {
		run, err := deps.store.CreateRun(ctx, model.Run{
			Source:     opts.File,
			SchemaName: schema.Name,
			Verified:   deps.verifier != nil,
		})
		if err != nil {
			return nil, err
		}
		result.RunID = run.ID
	}

	proc := batch.New(batch.Options{
		Concurrency:  opts.Concurrency,
		Limit:        opts.Limit,
		H3Resolution: opts.H3Resolution,
		OnProgress:   deps.onProgress,
	})
	records, stats, procErr := proc.Process(ctx, src, schema, deps.verifier)
	result.Records, result.Stats = records, stats

	result.Status = model.RunStatusComplete
	if procErr != nil {
		result.Status = model.RunStatusFailed
		if len(records) > 0 {
			result.Status = model.RunStatusPartial
		}
	}

	if rc, ok := deps.verifier.(requestCounter); ok {
		result.GeocodeRequests = rc.Requests()
		if deps.costs != nil {
			result.GeocodeCost = deps.costs.Geocode(result.GeocodeRequests)
		}
	}

	for _, r := range records {
		zap.L().Debug("address parsed",
			zap.Int("line", r.Line),
			zap.String("unencoded", r.Unencoded),
			zap.String("encoded", r.Encoded),
		)
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(procErr)

	if opts.Output != "" {
		keep(writeOutput(opts.Output, format, records, deps.out))
	}

	if deps.store != nil {
		persistRun(ctx, deps.store, result, procErr, keep)
	}

	zap.L().Info("parse complete",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("lines", stats.Lines),
		zap.Int("records", len(records)),
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("verify_errors", stats.VerifyErrors),
		zap.Int64("geocode_requests", result.GeocodeRequests),
		zap.Float64("geocode_cost_usd", result.GeocodeCost),
	)
	if opts.Output != "-" {
		fmt.Fprintf(deps.out, "%d addresses parsed\n", len(records)) //nolint:errcheck
	}

	return result, firstErr
}

// persistRun stores the records and closes the run with its final status.
// A context cancelled mid-run still gets its records saved.
func persistRun(ctx context.Context, st store.Store, result *parseResult, procErr error, keep func(error)) {
	ctx = context.WithoutCancel(ctx)

	if _, err := st.SaveRecords(ctx, result.RunID, result.Records); err != nil {
		keep(err)
		result.Status = model.RunStatusFailed
	}

	var runErr string
	if procErr != nil {
		runErr = procErr.Error()
	}
	keep(st.CompleteRun(ctx, result.RunID, result.Status, result.Stats, runErr))
}

func writeOutput(path string, format export.Format, records []model.AddressRecord, stdout io.Writer) error {
	if path == "-" {
		return export.Write(stdout, format, records)
	}
	if err := export.WriteFile(path, format, records); err != nil {
		return err
	}
	zap.L().Info("records exported", zap.String("path", path), zap.String("format", string(format)))
	return nil
}

func init() {
	parseCmd.Flags().String("file", "", "fixed-width address file (default from config)")
	parseCmd.Flags().String("archive", "", "archive holding the address file: path, http(s):// or ftp:// URL (default from config)")
	parseCmd.Flags().String("schema", "", "YAML schema file (default built-in us-address-138)")
	parseCmd.Flags().Bool("no-verify", false, "skip geocode verification and keep every formatted line")
	parseCmd.Flags().Int("concurrency", 0, "parallel verifications (default from config)")
	parseCmd.Flags().Int("limit", 0, "stop after this many non-blank lines (0 = all)")
	parseCmd.Flags().String("output", "", "write records to this file, or - for stdout")
	parseCmd.Flags().String("format", "", "output format: json, csv or xlsx (default from --output extension)")
	parseCmd.Flags().Bool("no-store", false, "do not record the run in the store")
	rootCmd.AddCommand(parseCmd)
}

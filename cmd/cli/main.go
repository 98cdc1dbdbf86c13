package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trialsynth/adapters/excel"
	"trialsynth/adapters/rng"
	"trialsynth/adapters/synth"
	"trialsynth/app"
	"trialsynth/domain/core"
	"trialsynth/domain/vitals"
	"trialsynth/internal"
	"trialsynth/internal/config"
	"trialsynth/internal/metrics"
	"trialsynth/internal/profiling"
	"trialsynth/ports"
)

// env holds what every command needs once flags and config are resolved
type env struct {
	cfg      *config.Config
	logger   *internal.Logger
	registry *prometheus.Registry
	recorder *metrics.Recorder
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	var configPath, metricsFile string
	rootCmd := &cobra.Command{
		Use:           "trialsynth",
		Short:         "Synthetic clinical-trial vital signs from a reference table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")

	setup := func() (*env, error) {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		registry := prometheus.NewRegistry()
		return &env{
			cfg:      cfg,
			logger:   newLogger(cfg.Logging),
			registry: registry,
			recorder: metrics.NewRecorder(registry),
		}, nil
	}
	finish := func(e *env) error {
		if metricsFile == "" {
			return nil
		}
		return prometheus.WriteToTextfile(metricsFile, e.registry)
	}

	rootCmd.AddCommand(
		newProfileCmd(setup),
		newGenerateCmd(setup, finish),
		newImputeCmd(setup, finish),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *internal.Logger {
	level := internal.ParseLogLevel(cfg.Level)
	if cfg.Format == "json" {
		return internal.NewLoggerTo(os.Stderr, level)
	}
	return internal.NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

func newProfileCmd(setup func() (*env, error)) *cobra.Command {
	var sheet string

	cmd := &cobra.Command{
		Use:   "profile [reference-file]",
		Short: "Learn and print the statistical profile of a reference table",
		Long: `Learn per-column moments, the correlation matrix and its Cholesky factor,
and per-(visit, arm) conditional statistics from a reference .xlsx or .csv file.

Example: trialsynth profile reference.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			reference, err := loadReference(cmd.Context(), args[0], sheet, e.logger)
			if err != nil {
				return err
			}
			profile, err := profiling.NewLearner().Fit(reference)
			if err != nil {
				return err
			}
			return printJSON(profile)
		},
	}

	cmd.Flags().StringVar(&sheet, "sheet", excel.DefaultSheet, "Worksheet to read")
	return cmd
}

// requestFlags are shared by generate and impute
type requestFlags struct {
	subjectsPerArm int
	subjects       []string
	schedule       []string
	targetEffect   float64
	endpointVisit  string
	endpointColumn string
	sampleVisits   bool
	seed           int64
	sheet          string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.subjectsPerArm, "subjects-per-arm", 50, "Subjects generated per treatment arm")
	cmd.Flags().StringSliceVar(&f.subjects, "subject", nil, "Explicit SUBJECT=ARM assignments (repeatable)")
	cmd.Flags().StringSliceVar(&f.schedule, "schedule", nil, "Visit schedule in order (default Screening,Day 1,Week 4,Week 12)")
	cmd.Flags().Float64Var(&f.targetEffect, "target-effect", 0, "Active minus Placebo endpoint difference; omit to skip calibration")
	cmd.Flags().StringVar(&f.endpointVisit, "endpoint-visit", "", "Endpoint visit (default last scheduled visit)")
	cmd.Flags().StringVar(&f.endpointColumn, "endpoint-column", "SystolicBP", "Endpoint column name or LOINC code")
	cmd.Flags().BoolVar(&f.sampleVisits, "sample-categoricals", false, "Draw visit and arm from learned frequencies")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "Random seed for deterministic generation")
	cmd.Flags().StringVar(&f.sheet, "sheet", excel.DefaultSheet, "Worksheet to read")
}

func (f *requestFlags) request(cmd *cobra.Command) (vitals.GenerationRequest, error) {
	column, err := vitals.ParseColumn(f.endpointColumn)
	if err != nil {
		return vitals.GenerationRequest{}, err
	}
	req := vitals.GenerationRequest{
		SubjectsPerArm:     f.subjectsPerArm,
		Schedule:           vitals.Schedule(f.schedule),
		EndpointVisit:      f.endpointVisit,
		EndpointColumn:     column,
		SampleCategoricals: f.sampleVisits,
		Seed:               f.seed,
	}
	if cmd.Flags().Changed("target-effect") {
		req.TargetEffect = vitals.Effect(f.targetEffect)
	}
	for _, s := range f.subjects {
		id, armName, ok := strings.Cut(s, "=")
		if !ok {
			return req, fmt.Errorf("subject %q: want SUBJECT=ARM", s)
		}
		subject, err := core.ParseSubjectID(id)
		if err != nil {
			return req, err
		}
		arm, err := vitals.ParseArm(armName)
		if err != nil {
			return req, err
		}
		if req.ArmAssignment == nil {
			req.ArmAssignment = map[core.SubjectID]vitals.Arm{}
		}
		req.SubjectIDs = append(req.SubjectIDs, subject)
		req.ArmAssignment[subject] = arm
	}
	return req, nil
}

func newGenerateCmd(setup func() (*env, error), finish func(*env) error) *cobra.Command {
	var flags requestFlags
	var strategy, out string
	var chunkSize, workers int

	cmd := &cobra.Command{
		Use:   "generate [reference-file]",
		Short: "Generate a synthetic vitals table",
		Long: `Fit a generation strategy on a reference table and generate a synthetic
table in bounded chunks, optionally calibrated to a target treatment effect.

Strategies: correlated_gaussian, resampling, diffusion, bayesian_network, mice.

Example:
  trialsynth generate reference.xlsx --strategy resampling --subjects-per-arm 5000 \
    --target-effect -8 --out synthetic.xlsx --workers 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			if strategy == "" {
				strategy = e.cfg.Generator.Strategy
			}
			kind, err := synth.ParseKind(strategy)
			if err != nil {
				return err
			}
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("chunk-size") {
				e.cfg.Batch.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("workers") {
				e.cfg.Batch.Workers = workers
			}

			reference, err := loadReference(cmd.Context(), args[0], flags.sheet, e.logger)
			if err != nil {
				return err
			}

			var sink ports.ChunkSink
			if out != "" {
				s, err := excel.NewStreamSink(out)
				if err != nil {
					return err
				}
				sink = s
			}

			streams := rng.NewStreams()
			service := app.NewGenerationService(e.cfg.Generator, streams, e.logger, e.recorder)
			driver := app.NewChunkedBatchDriver(service, streams, e.cfg.Batch, e.logger, e.recorder)
			result, runErr := driver.Run(cmd.Context(), kind, reference, req, sink)
			if sink != nil {
				if err := sink.Close(); err != nil && runErr == nil {
					runErr = err
				}
			}
			if runErr != nil {
				return runErr
			}
			if err := finish(e); err != nil {
				return err
			}
			if out != "" {
				e.logger.Info("Wrote %d rows to %s", result.Rows, out)
			}
			return printJSON(result)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&strategy, "strategy", "", "Generation strategy (default from config)")
	cmd.Flags().StringVar(&out, "out", "", "Stream the table to this .xlsx file instead of printing it")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Subjects per chunk (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Chunks generated in parallel (default from config)")
	return cmd
}

func newImputeCmd(setup func() (*env, error), finish func(*env) error) *cobra.Command {
	var flags requestFlags
	var imputations int

	cmd := &cobra.Command{
		Use:   "impute [reference-file]",
		Short: "Run chained-equation multiple imputation and pool the endpoint effect",
		Long: `Generate M imputed tables with the chained-equation strategy and combine
their Active minus Placebo endpoint effects with Rubin's rules.

Example: trialsynth impute reference.csv --imputations 10 --subjects-per-arm 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("imputations") {
				imputations = e.cfg.Generator.MICE.Imputations
			}
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			reference, err := loadReference(cmd.Context(), args[0], flags.sheet, e.logger)
			if err != nil {
				return err
			}

			service := app.NewGenerationService(e.cfg.Generator, rng.NewStreams(), e.logger, e.recorder)
			result, err := service.MultipleImputation(cmd.Context(), reference, req, imputations)
			if err != nil {
				return err
			}
			if err := finish(e); err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"run_id":    result.RunID,
				"estimates": result.Estimates,
				"pooled":    result.Pooled,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&imputations, "imputations", 5, "Number of imputed tables (M >= 2)")
	return cmd
}

func loadReference(ctx context.Context, path, sheet string, logger *internal.Logger) (vitals.Table, error) {
	var source ports.ReferenceSource = excel.NewDataReader(path).WithSheet(sheet).WithLogger(logger)
	table, err := source.LoadReference(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference %s: %w", path, err)
	}
	logger.Info("Loaded %d reference rows from %s", len(table), path)
	return table, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

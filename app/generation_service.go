package app

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"

	"trialsynth/adapters/synth"
	"trialsynth/domain/core"
	"trialsynth/domain/stats"
	"trialsynth/domain/vitals"
	"trialsynth/internal"
	"trialsynth/internal/config"
	"trialsynth/internal/constraints"
	"trialsynth/internal/errors"
	"trialsynth/internal/metrics"
	"trialsynth/ports"
)

// GenerationService runs strategy → constraint enforcement → effect
// calibration for one request
type GenerationService struct {
	cfg      config.GeneratorConfig
	rngPort  ports.RNGPort
	validate *validator.Validate
	logger   *internal.Logger
	metrics  *metrics.Recorder
}

// FittedStrategy is a strategy together with the profile it learned. It is
// read-only once built and may be shared by concurrent generations.
type FittedStrategy struct {
	Kind     synth.Kind
	Strategy synth.Strategy
	Profile  *stats.Profile
}

// GenerationResult contains the final table and what happened producing it
type GenerationResult struct {
	RunID       core.RunID                `json:"run_id"`
	Strategy    string                    `json:"strategy"`
	Table       vitals.Table              `json:"table"`
	Diagnostics *vitals.Diagnostics       `json:"diagnostics"`
	Calibration *vitals.CalibrationReport `json:"calibration,omitempty"`
	Fingerprint core.TableHash            `json:"fingerprint"`
	Profile     *stats.Profile            `json:"profile,omitempty"`
	RuntimeMs   int64                     `json:"runtime_ms"`
}

// NewGenerationService creates the service. A nil recorder disables metrics.
func NewGenerationService(cfg config.GeneratorConfig, rngPort ports.RNGPort, logger *internal.Logger, recorder *metrics.Recorder) *GenerationService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &GenerationService{
		cfg:      cfg,
		rngPort:  rngPort,
		validate: validator.New(),
		logger:   logger,
		metrics:  recorder,
	}
}

// Generate fits the strategy on reference and generates one table
func (s *GenerationService) Generate(ctx context.Context, kind synth.Kind, reference vitals.Table, req vitals.GenerationRequest) (*GenerationResult, error) {
	if err := s.CheckRequest(req); err != nil {
		return nil, s.fail(err)
	}
	fitted, err := s.Fit(ctx, kind, reference)
	if err != nil {
		return nil, err
	}
	return s.GenerateFitted(ctx, fitted, req)
}

// Fit learns a strategy's profile and models from a reference table
func (s *GenerationService) Fit(ctx context.Context, kind synth.Kind, reference vitals.Table) (*FittedStrategy, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail(errors.WithCode(errors.CodeCanceled, err))
	}
	strategy, err := synth.New(kind, s.cfg)
	if err != nil {
		return nil, s.fail(errors.Wrapf(err, "building %s strategy", kind))
	}
	profile, err := strategy.Fit(reference)
	if err != nil {
		return nil, s.fail(errors.Wrapf(err, "fitting %s on %d reference rows", kind, len(reference)))
	}
	s.logger.Info("Fitted %s on %d reference rows (%d dropped, %d partitions, regularized=%t)",
		kind, profile.N, profile.DroppedRows, len(profile.Conditional), profile.Regularized)
	return &FittedStrategy{Kind: kind, Strategy: strategy, Profile: profile}, nil
}

// GenerateFitted generates one table from an already fitted strategy
func (s *GenerationService) GenerateFitted(ctx context.Context, fitted *FittedStrategy, req vitals.GenerationRequest) (*GenerationResult, error) {
	startTime := time.Now()
	if err := s.CheckRequest(req); err != nil {
		return nil, s.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(errors.WithCode(errors.CodeCanceled, err))
	}

	rng := s.rngPort.SeededStream(fitted.Kind.String(), req.Seed)
	table, diag, err := s.pipeline(fitted, req, rng)
	if err != nil {
		return nil, s.fail(err)
	}

	result := &GenerationResult{
		RunID:       core.NewRunID(),
		Strategy:    fitted.Kind.String(),
		Table:       table,
		Diagnostics: diag,
		Calibration: diag.Calibration,
		Fingerprint: table.Fingerprint(),
		Profile:     fitted.Profile,
		RuntimeMs:   time.Since(startTime).Milliseconds(),
	}
	s.observe(fitted.Kind, table, diag)
	s.logger.Info("Generated %d records with %s (run %s, fingerprint %s)",
		len(table), fitted.Kind, result.RunID, result.Fingerprint)
	return result, nil
}

// CheckRequest validates struct tags and cross-field rules
func (s *GenerationService) CheckRequest(req vitals.GenerationRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err))
	}
	if err := req.Check(); err != nil {
		return errors.Wrap(err, "invalid generation request")
	}
	return nil
}

// pipeline runs generate → enforce → calibrate with one rng
func (s *GenerationService) pipeline(fitted *FittedStrategy, req vitals.GenerationRequest, rng *rand.Rand) (vitals.Table, *vitals.Diagnostics, error) {
	table, diag, err := s.generateEnforced(fitted, req, rng)
	if err != nil {
		return nil, nil, err
	}
	return s.calibrate(table, req, diag), diag, nil
}

// generateEnforced runs the strategy and the constraint enforcer
func (s *GenerationService) generateEnforced(fitted *FittedStrategy, req vitals.GenerationRequest, rng *rand.Rand) (vitals.Table, *vitals.Diagnostics, error) {
	raw, diag, err := fitted.Strategy.Generate(fitted.Profile, req, rng)
	if err != nil {
		return nil, nil, errors.GenerationError(fitted.Kind.String(), err)
	}
	if diag == nil {
		diag = vitals.NewDiagnostics(fitted.Kind.String())
	}
	table, report := constraints.Enforce(raw)
	diag.ClippedCells += report.ClippedCells
	diag.RepairedRows += report.RepairedRows
	for _, w := range diag.Warnings {
		s.logger.Debug("%s fallback: %s (x%d)", fitted.Kind, w.Message, w.Count)
	}
	return table, diag, nil
}

// calibrate applies the target effect when one was requested
func (s *GenerationService) calibrate(table vitals.Table, req vitals.GenerationRequest, diag *vitals.Diagnostics) vitals.Table {
	if req.TargetEffect == nil {
		return table
	}
	endpoint := req.EffectiveEndpointVisit()
	out, report := constraints.Calibrate(table, *req.TargetEffect, endpoint, req.EndpointColumn)
	diag.Calibration = &report
	diag.RepairedRows += report.RepairedRows

	key := vitals.PartitionKey{Visit: endpoint, Arm: vitals.ArmActive}
	switch {
	case report.Skipped:
		diag.Warn(vitals.WarnCalibrationSkipped, &key, "%s", report.Reason)
		s.logger.Warn("Calibration skipped: %s", report.Reason)
	case report.Saturated:
		diag.Warn(vitals.WarnCalibrationSaturation, &key,
			"realized effect %.3f short of target %.3f after clipping %d rows",
			report.Realized, report.Target, report.ClippedRows)
		s.logger.Warn("Calibration saturated: realized %.3f vs target %.3f", report.Realized, report.Target)
	default:
		s.logger.Debug("Calibrated %s at %s to %.3f (shift %.3f)", req.EndpointColumn, endpoint, report.Realized, report.Adjustment)
	}
	return out
}

func (s *GenerationService) observe(kind synth.Kind, table vitals.Table, diag *vitals.Diagnostics) {
	s.metrics.RecordRecords(kind.String(), len(table))
	for _, w := range diag.Warnings {
		s.metrics.RecordDiagnostic(string(w.Kind), w.Count)
	}
	if c := diag.Calibration; c != nil && !c.Skipped {
		s.metrics.RecordCalibrationGap(kind.String(), math.Abs(c.Shortfall()))
	}
}

func (s *GenerationService) fail(err error) error {
	s.metrics.RecordFailure(errors.GetCode(err))
	s.logger.Error("Generation failed: %v", err)
	return err
}

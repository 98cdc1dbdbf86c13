package app

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"trialsynth/adapters/synth"
	"trialsynth/domain/core"
	"trialsynth/domain/vitals"
	"trialsynth/internal"
	"trialsynth/internal/config"
	"trialsynth/internal/errors"
	"trialsynth/internal/metrics"
	"trialsynth/ports"
)

// ChunkedBatchDriver splits a large request into subject chunks and runs the
// generation pipeline per chunk, accumulating the result or streaming it to a
// sink in chunk order.
type ChunkedBatchDriver struct {
	service *GenerationService
	rngPort ports.RNGPort
	cfg     config.BatchConfig
	logger  *internal.Logger
	metrics *metrics.Recorder
}

// BatchResult summarizes a chunked run. Table and Fingerprint are only set
// when no sink was given.
type BatchResult struct {
	RunID             core.RunID                 `json:"run_id"`
	Strategy          string                     `json:"strategy"`
	Table             vitals.Table               `json:"table,omitempty"`
	Rows              int                        `json:"rows"`
	Chunks            int                        `json:"chunks"`
	Diagnostics       *vitals.Diagnostics        `json:"diagnostics"`
	Calibrations      []vitals.CalibrationReport `json:"calibrations,omitempty"`
	ChunkFingerprints []core.TableHash           `json:"chunk_fingerprints"`
	Fingerprint       core.TableHash             `json:"fingerprint,omitempty"`
	RuntimeMs         int64                      `json:"runtime_ms"`
}

type chunkOutput struct {
	table vitals.Table
	diag  *vitals.Diagnostics
}

// NewChunkedBatchDriver creates a driver over a generation service
func NewChunkedBatchDriver(service *GenerationService, rngPort ports.RNGPort, cfg config.BatchConfig, logger *internal.Logger, recorder *metrics.Recorder) *ChunkedBatchDriver {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 10000
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &ChunkedBatchDriver{
		service: service,
		rngPort: rngPort,
		cfg:     cfg,
		logger:  logger,
		metrics: recorder,
	}
}

// Run fits kind on reference once and generates req chunk by chunk. With a
// nil sink the chunks are concatenated into the result table; otherwise each
// chunk is written to the sink as soon as every earlier chunk has been. The
// sink is not closed.
func (d *ChunkedBatchDriver) Run(ctx context.Context, kind synth.Kind, reference vitals.Table, req vitals.GenerationRequest, sink ports.ChunkSink) (*BatchResult, error) {
	if err := d.service.CheckRequest(req); err != nil {
		return nil, d.service.fail(err)
	}
	fitted, err := d.service.Fit(ctx, kind, reference)
	if err != nil {
		return nil, err
	}
	return d.RunFitted(ctx, fitted, req, sink)
}

// RunFitted generates req in chunks from an already fitted strategy
func (d *ChunkedBatchDriver) RunFitted(ctx context.Context, fitted *FittedStrategy, req vitals.GenerationRequest, sink ports.ChunkSink) (*BatchResult, error) {
	startTime := time.Now()
	if err := d.service.CheckRequest(req); err != nil {
		return nil, d.service.fail(err)
	}
	chunks := d.Plan(req)
	d.logger.Info("Generating %d chunks of up to %d subjects with %s (%d workers)",
		len(chunks), d.cfg.ChunkSize, fitted.Kind, d.cfg.Workers)

	result := &BatchResult{
		RunID:             core.NewRunID(),
		Strategy:          fitted.Kind.String(),
		Chunks:            len(chunks),
		Diagnostics:       vitals.NewDiagnostics(fitted.Kind.String()),
		ChunkFingerprints: make([]core.TableHash, 0, len(chunks)),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	sem := semaphore.NewWeighted(int64(d.cfg.Workers))
	outputs := make([]chan chunkOutput, len(chunks))
	for i := range outputs {
		outputs[i] = make(chan chunkOutput, 1)
	}

	g.Go(func() error {
		for i, chunkReq := range chunks {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			i, chunkReq := i, chunkReq
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					sem.Release(1)
					return err
				}
				chunkStart := time.Now()
				rng := d.rngPort.ChunkStream(chunkReq.Seed, i, fitted.Kind.String())
				table, diag, err := d.service.pipeline(fitted, chunkReq, rng)
				if err != nil {
					sem.Release(1)
					return errors.Wrapf(err, "chunk %d", i)
				}
				d.metrics.RecordChunk(fitted.Kind.String(), time.Since(chunkStart))
				outputs[i] <- chunkOutput{table: table, diag: diag}
				return nil
			})
		}
		return nil
	})

	abort := func(err error) (*BatchResult, error) {
		cancel()
		if werr := g.Wait(); werr != nil && !stderrors.Is(werr, context.Canceled) {
			err = werr
		}
		return nil, d.service.fail(canceledOr(err))
	}

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		var out chunkOutput
		select {
		case out = <-outputs[i]:
		case <-gctx.Done():
			err := g.Wait()
			if err == nil {
				err = ctx.Err()
			}
			if err == nil {
				err = gctx.Err()
			}
			return nil, d.service.fail(canceledOr(err))
		}

		if sink != nil {
			if err := sink.WriteChunk(ctx, i, out.table); err != nil {
				sem.Release(1)
				return abort(errors.SinkError(i, err))
			}
		} else {
			result.Table = append(result.Table, out.table...)
		}
		sem.Release(1)

		result.Rows += len(out.table)
		result.ChunkFingerprints = append(result.ChunkFingerprints, out.table.Fingerprint())
		result.Diagnostics.Merge(out.diag)
		if out.diag.Calibration != nil {
			result.Calibrations = append(result.Calibrations, *out.diag.Calibration)
		}
		d.service.observe(fitted.Kind, out.table, out.diag)
		d.logger.Debug("Chunk %d/%d: %d rows", i+1, len(chunks), len(out.table))
	}

	if err := g.Wait(); err != nil {
		return nil, d.service.fail(canceledOr(err))
	}
	if sink == nil {
		result.Fingerprint = result.Table.Fingerprint()
	}
	result.RuntimeMs = time.Since(startTime).Milliseconds()
	d.logger.Info("Generated %d records in %d chunks (run %s)", result.Rows, result.Chunks, result.RunID)
	return result, nil
}

// Plan cuts req into per-chunk requests of at most ChunkSize subjects.
// Implicit layouts become windows of the alternating subject sequence so
// every chunk of two or more subjects holds both arms; explicit layouts are
// split in order with each chunk carrying its own arm assignments.
func (d *ChunkedBatchDriver) Plan(req vitals.GenerationRequest) []vitals.GenerationRequest {
	size := d.cfg.ChunkSize
	if !req.Explicit() {
		total := 2 * req.SubjectsPerArm
		if req.SubjectCount > 0 {
			total = req.SubjectCount
		}
		var out []vitals.GenerationRequest
		for start := 0; start < total; start += size {
			chunk := req
			chunk.SubjectOffset = req.SubjectOffset + start
			chunk.SubjectCount = minInt(size, total-start)
			out = append(out, chunk)
		}
		return out
	}

	subjects := req.Subjects()
	var out []vitals.GenerationRequest
	for start := 0; start < len(subjects); start += size {
		end := minInt(start+size, len(subjects))
		chunk := req
		chunk.SubjectIDs = make([]core.SubjectID, 0, end-start)
		chunk.ArmAssignment = make(map[core.SubjectID]vitals.Arm, end-start)
		for _, s := range subjects[start:end] {
			chunk.SubjectIDs = append(chunk.SubjectIDs, s.SubjectID)
			chunk.ArmAssignment[s.SubjectID] = s.Arm
		}
		out = append(out, chunk)
	}
	return out
}

func canceledOr(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		if !errors.IsAppError(err) {
			return errors.WithCode(errors.CodeCanceled, err)
		}
	}
	return err
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Package trainer drives the step-counted train/validate/test loop over
// a task, with periodic logging, evaluation, and checkpointing.
package trainer

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"go.uber.org/zap"

	"speechtrain/internal/checkpoint"
	"speechtrain/internal/dataset"
	"speechtrain/internal/loader"
	"speechtrain/internal/metrics"
	"speechtrain/internal/sampler"
	"speechtrain/internal/task"
)

// Config captures the knobs required by the training loop.
type Config struct {
	SaveDir string

	// TotalSteps bounds the run: the loop terminates once this many
	// steps have completed, which makes the final test pass reachable.
	TotalSteps int64
	LogStep    int64
	EvalStep   int64
	SaveStep   int64

	// StartStep is the completed-step count restored from a checkpoint;
	// zero for a fresh run.
	StartStep int64

	MaxGradNorm float64
	Workers     int
	Device      task.Device
}

// Source pairs a data source with the batch sampler that drives it.
type Source struct {
	Data    loader.Source
	Sampler sampler.BatchSampler
}

// Sources holds the three split sources the loop consumes.
type Sources struct {
	Train Source
	Valid Source
	Test  Source
}

// Run executes the training loop until the step budget is exhausted,
// then drains the test source once and logs its reduction.
func Run(ctx context.Context, cfg Config, tsk task.Task, opt task.Optimizer, srcs Sources, logger *zap.Logger) error {
	if cfg.TotalSteps <= 0 {
		return errors.New("trainer: total steps must be > 0")
	}
	if cfg.LogStep <= 0 {
		cfg.LogStep = 100
	}
	if cfg.EvalStep <= 0 {
		cfg.EvalStep = 5000
	}
	if cfg.SaveStep <= 0 {
		cfg.SaveStep = 100
	}
	if cfg.MaxGradNorm <= 0 {
		cfg.MaxGradNorm = 1.0
	}

	r := &runner{cfg: cfg, task: tsk, opt: opt, logger: logger}
	if err := r.train(ctx, srcs); err != nil {
		return err
	}
	// Finalizing: one full pass over the test split.
	return r.evaluate(ctx, "test", srcs.Test, r.cfg.TotalSteps)
}

type runner struct {
	cfg    Config
	task   task.Task
	opt    task.Optimizer
	logger *zap.Logger
}

func (r *runner) train(ctx context.Context, srcs Sources) error {
	params := r.task.Parameters()
	var window metrics.Window

	// step is the 0-based index of the in-progress step; it equals the
	// number of completed steps, which is what checkpoints persist.
	step := r.cfg.StartStep
	if step > 0 {
		r.logger.Info("resuming training", zap.Int64("step", step))
	}

	for epoch := 0; step < r.cfg.TotalSteps; epoch++ {
		srcs.Train.Sampler.SetEpoch(epoch)
		batches := srcs.Train.Sampler.Batches()
		if len(batches) == 0 {
			return errors.New("trainer: train sampler produced no batches")
		}

		epochCtx, cancel := context.WithCancel(ctx)
		stream, errCh := loader.Stream(epochCtx, srcs.Train.Data, batches, loader.Options{Workers: r.cfg.Workers})

		for step < r.cfg.TotalSteps {
			startData := time.Now()
			batch, ok, err := nextBatch(epochCtx, stream, errCh)
			if err != nil {
				cancel()
				return err
			}
			if !ok {
				break // epoch drained
			}
			dataTime := time.Since(startData)

			startCompute := time.Now()
			batch = r.cfg.Device.Place(batch)
			r.opt.ZeroGrad()
			result, err := r.task.TrainStep(batch)
			if err != nil {
				cancel()
				return err
			}

			norm := task.ClipGradNorm(params, r.cfg.MaxGradNorm)
			if math.IsNaN(norm) {
				// A corrupted batch must not poison the weights: withhold
				// the update but keep the step counter advancing.
				r.logger.Warn("gradient norm is NaN; skipping parameter update", zap.Int64("step", step))
			} else {
				r.opt.Step()
			}
			computeTime := time.Since(startCompute)

			window.Record(result.Cacheable(), batch.Size(), dataTime, computeTime)

			if (step+1)%r.cfg.LogStep == 0 {
				if err := r.logWindow(&window, step+1); err != nil {
					cancel()
					return err
				}
			}
			if (step+1)%r.cfg.EvalStep == 0 {
				if err := r.evaluate(ctx, "valid", srcs.Valid, step+1); err != nil {
					cancel()
					return err
				}
			}
			if (step+1)%r.cfg.SaveStep == 0 {
				if err := r.save(step + 1); err != nil {
					cancel()
					return err
				}
			}
			step++
		}
		cancel()
	}
	return nil
}

func (r *runner) logWindow(window *metrics.Window, completed int64) error {
	snap := window.Snapshot()
	logs, err := r.task.TrainReduction(snap.Results)
	if err != nil {
		return errors.Wrap(err, "train reduction")
	}
	fields := []zap.Field{
		zap.Int64("step", completed),
		zap.Float64("examples_per_sec", snap.ExamplesPerSec),
		zap.Float64("data_ms", snap.AvgDataMS),
		zap.Float64("compute_ms", snap.AvgComputeMS),
	}
	r.logger.Info("train", append(fields, logFields(logs)...)...)
	return nil
}

// evaluate drains src once in no-gradient mode, reduces the cacheable
// results, and logs them under the phase name.
func (r *runner) evaluate(ctx context.Context, phase string, src Source, completed int64) error {
	stepFn, reduce := r.task.ValidStep, r.task.ValidReduction
	if phase == "test" {
		stepFn, reduce = r.task.TestStep, r.task.TestReduction
	}

	src.Sampler.SetEpoch(0)
	batches := src.Sampler.Batches()

	evalCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, errCh := loader.Stream(evalCtx, src.Data, batches, loader.Options{Workers: r.cfg.Workers})

	results := make([]task.Cacheable, 0, len(batches))
	var stepErr error
	if err := tqdm.With(iterators.Interval(0, len(batches)), phase, func(v interface{}) (brk bool) {
		batch, ok, err := nextBatch(evalCtx, stream, errCh)
		if err != nil {
			stepErr = err
			return true
		}
		if !ok {
			stepErr = errors.Errorf("trainer: %s stream closed after %d of %d batches", phase, len(results), len(batches))
			return true
		}
		batch = r.cfg.Device.Place(batch)
		result, err := stepFn(batch)
		if err != nil {
			stepErr = err
			return true
		}
		results = append(results, result.Cacheable())
		return false
	}); err != nil {
		return errors.Wrapf(err, "%s progress", phase)
	}
	if stepErr != nil {
		return stepErr
	}

	logs, err := reduce(results)
	if err != nil {
		return errors.Wrapf(err, "%s reduction", phase)
	}
	fields := append([]zap.Field{zap.Int64("step", completed)}, logFields(logs)...)
	r.logger.Info(phase, fields...)
	return nil
}

// save persists the task and optimizer under their well-known names.
func (r *runner) save(completed int64) error {
	taskPath := filepath.Join(r.cfg.SaveDir, TaskCheckpointName)
	if err := checkpoint.Save(taskPath, r.task, completed); err != nil {
		return errors.Wrap(err, "save task checkpoint")
	}
	state, err := r.opt.State()
	if err != nil {
		return errors.Wrap(err, "serialize optimizer state")
	}
	optPath := filepath.Join(r.cfg.SaveDir, OptimizerCheckpointName)
	if err := checkpoint.WriteAtomic(optPath, state); err != nil {
		return errors.Wrap(err, "save optimizer checkpoint")
	}
	r.logger.Info("saved checkpoint", zap.Int64("step", completed), zap.String("path", taskPath))
	return nil
}

// nextBatch pulls the next batch off the loader, surfacing pipeline
// errors and distinguishing a drained stream from a failure.
func nextBatch(ctx context.Context, stream <-chan dataset.Batch, errs <-chan error) (dataset.Batch, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return dataset.Batch{}, false, ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				return dataset.Batch{}, false, err
			}
			errs = nil // closed without error; keep draining the stream
		case batch, ok := <-stream:
			if !ok {
				if errs != nil {
					if err := <-errs; err != nil {
						return dataset.Batch{}, false, err
					}
				}
				return dataset.Batch{}, false, nil
			}
			return batch, true, nil
		}
	}
}

func logFields(logs task.Logs) []zap.Field {
	names := make([]string, 0, len(logs))
	for name := range logs {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]zap.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, zap.Float64(logs[name].Name, logs[name].Value))
	}
	return fields
}

package trainer

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"speechtrain/internal/checkpoint"
	"speechtrain/internal/task"
)

// Well-known checkpoint names under the save directory.
const (
	TaskCheckpointName      = "task.ckpt"
	OptimizerCheckpointName = "optimizer.ckpt"
	ValidDatasetName        = "valid_dataset.ckpt"
	TestDatasetName         = "test_dataset.ckpt"
)

// RestoreOrCreate reconstructs the task and its completed-step count from
// a prior run's checkpoint when one exists, otherwise builds a fresh task
// with create. A present-but-unreadable checkpoint is fatal: silently
// discarding it would hide the loss of trained state.
func RestoreOrCreate(saveDir string, create func() (task.Task, error), logger *zap.Logger) (task.Task, int64, error) {
	path := filepath.Join(saveDir, TaskCheckpointName)
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, 0, errors.Wrapf(err, "stat %s", path)
		}
		logger.Info("no task checkpoint found; creating new task", zap.String("path", path))
		tsk, err := create()
		if err != nil {
			return nil, 0, errors.Wrap(err, "create task")
		}
		return tsk, 0, nil
	}

	obj, step, err := checkpoint.Load(path)
	if err != nil {
		return nil, 0, err
	}
	tsk, ok := obj.(task.Task)
	if !ok {
		return nil, 0, errors.Wrapf(checkpoint.ErrCorrupt, "%s does not hold a task", path)
	}
	logger.Info("restored task from checkpoint", zap.String("path", path), zap.Int64("step", step))
	return tsk, step, nil
}

// RestoreOptimizer loads the optimizer checkpoint into opt when one
// exists. A missing optimizer checkpoint is a supported partial-resume
// state: opt keeps its fresh initialization.
func RestoreOptimizer(saveDir string, opt task.Optimizer, logger *zap.Logger) error {
	path := filepath.Join(saveDir, OptimizerCheckpointName)
	state, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no optimizer checkpoint found; starting fresh", zap.String("path", path))
			return nil
		}
		return errors.Wrapf(err, "read %s", path)
	}
	if err := opt.Restore(state); err != nil {
		return errors.Wrapf(err, "restore optimizer from %s", path)
	}
	logger.Info("restored optimizer from checkpoint", zap.String("path", path))
	return nil
}

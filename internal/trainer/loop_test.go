package trainer

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"speechtrain/internal/checkpoint"
	"speechtrain/internal/dataset"
	"speechtrain/internal/sampler"
	"speechtrain/internal/task"
)

// memSource serves synthetic 4-dim feature vectors with two classes.
// Indices listed in nan produce a poisoned feature vector.
type memSource struct {
	n   int
	nan map[int]bool
}

func (s memSource) Len() int { return s.n }

func (s memSource) LabelOf(i int) (string, error) {
	if i%2 == 0 {
		return "even", nil
	}
	return "odd", nil
}

func (s memSource) Item(i int) (dataset.Item, error) {
	if i < 0 || i >= s.n {
		return dataset.Item{}, fmt.Errorf("index %d out of range", i)
	}
	features := []float64{float64(i%2) - 0.5, float64(i%3) * 0.1, 0.25, -0.25}
	if s.nan[i] {
		features[0] = math.NaN()
	}
	label, _ := s.LabelOf(i)
	return dataset.Item{Utterance: fmt.Sprintf("utt-%d", i), Features: features, Label: label}, nil
}

func (s memSource) Collate(items []dataset.Item) (dataset.Batch, error) {
	b := dataset.Batch{}
	for _, item := range items {
		id := 0
		if item.Label == "odd" {
			id = 1
		}
		b.Utterances = append(b.Utterances, item.Utterance)
		b.Inputs = append(b.Inputs, item.Features)
		b.Labels = append(b.Labels, id)
	}
	return b, nil
}

func newTestTask(t *testing.T) *task.Classifier {
	t.Helper()
	c, err := task.NewClassifier(task.ClassifierConfig{
		InputSize:  4,
		NumClasses: 2,
		Labels:     []string{"even", "odd"},
		Seed:       1,
	})
	require.NoError(t, err)
	return c
}

func testSources(t *testing.T, src memSource, batchSize int) Sources {
	t.Helper()
	trainSampler, err := sampler.NewSequential(src.n, batchSize)
	require.NoError(t, err)
	evalSampler, err := sampler.NewSequential(src.n, batchSize)
	require.NoError(t, err)
	clean := memSource{n: src.n} // evaluation never sees poisoned items
	return Sources{
		Train: Source{Data: src, Sampler: trainSampler},
		Valid: Source{Data: clean, Sampler: evalSampler},
		Test:  Source{Data: clean, Sampler: evalSampler},
	}
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func TestRunSaveCadence(t *testing.T) {
	dir := t.TempDir()
	logger, logs := observedLogger()
	src := memSource{n: 24}
	tsk := newTestTask(t)
	opt := task.NewAdam(tsk.Parameters(), 0.01)

	cfg := Config{
		SaveDir:    dir,
		TotalSteps: 250,
		LogStep:    50,
		EvalStep:   100000,
		SaveStep:   100,
		Workers:    2,
	}
	require.NoError(t, Run(context.Background(), cfg, tsk, opt, testSources(t, src, 4), logger))

	// The modulo cadence fires after 100 and 200 completed steps; the
	// run then stops at 250 without a further save.
	saves := logs.FilterMessage("saved checkpoint").All()
	require.Len(t, saves, 2)
	require.EqualValues(t, 100, saves[0].ContextMap()["step"])
	require.EqualValues(t, 200, saves[1].ContextMap()["step"])

	_, step, err := checkpoint.Load(filepath.Join(dir, TaskCheckpointName))
	require.NoError(t, err)
	require.EqualValues(t, 200, step)

	// Training windows were logged on the 50-step cadence.
	require.Len(t, logs.FilterMessage("train").All(), 5)
	// The terminal test pass ran exactly once.
	require.Len(t, logs.FilterMessage("test").All(), 1)
}

func TestRunEvalCadence(t *testing.T) {
	dir := t.TempDir()
	logger, logs := observedLogger()
	src := memSource{n: 8}
	tsk := newTestTask(t)
	opt := task.NewAdam(tsk.Parameters(), 0.01)

	cfg := Config{
		SaveDir:    dir,
		TotalSteps: 4,
		LogStep:    1000,
		EvalStep:   2,
		SaveStep:   1000,
		Workers:    1,
	}
	require.NoError(t, Run(context.Background(), cfg, tsk, opt, testSources(t, src, 2), logger))

	valids := logs.FilterMessage("valid").All()
	require.Len(t, valids, 2)
	require.EqualValues(t, 2, valids[0].ContextMap()["step"])
	require.EqualValues(t, 4, valids[1].ContextMap()["step"])
	require.Contains(t, valids[0].ContextMap(), "accuracy")
	require.Contains(t, valids[0].ContextMap(), "loss")
}

func TestRunNaNGuard(t *testing.T) {
	// Two runs from identical initialization: one stops right before the
	// poisoned batch, the other consumes it. The guard must leave the
	// parameters exactly where the shorter run left them.
	runSteps := func(total int64, poison bool) []float64 {
		dir := t.TempDir()
		logger, logs := observedLogger()
		src := memSource{n: 8}
		if poison {
			src.nan = map[int]bool{2: true}
		}
		tsk := newTestTask(t)
		opt := task.NewAdam(tsk.Parameters(), 0.01)

		cfg := Config{
			SaveDir:    dir,
			TotalSteps: total,
			LogStep:    1000,
			EvalStep:   100000,
			SaveStep:   100000,
			Workers:    1,
		}
		require.NoError(t, Run(context.Background(), cfg, tsk, opt, testSources(t, src, 1), logger))

		if poison {
			warnings := logs.FilterMessage("gradient norm is NaN; skipping parameter update").All()
			require.Len(t, warnings, 1)
			require.EqualValues(t, 2, warnings[0].ContextMap()["step"])
		}
		params := tsk.Parameters()
		out := append([]float64(nil), params[0].Data...)
		return append(out, params[1].Data...)
	}

	clean := runSteps(2, false)  // steps 0, 1
	guarded := runSteps(3, true) // steps 0, 1, and the poisoned step 2
	require.Equal(t, clean, guarded)
}

func TestRunResume(t *testing.T) {
	dir := t.TempDir()
	logger, _ := observedLogger()
	src := memSource{n: 24}
	tsk := newTestTask(t)
	opt := task.NewAdam(tsk.Parameters(), 0.01)

	cfg := Config{
		SaveDir:    dir,
		TotalSteps: 250,
		LogStep:    1000,
		EvalStep:   100000,
		SaveStep:   100,
		Workers:    2,
	}
	srcs := testSources(t, src, 4)
	require.NoError(t, Run(context.Background(), cfg, tsk, opt, srcs, logger))

	// A new process restores the task and its step counter.
	restored, step, err := RestoreOrCreate(dir, func() (task.Task, error) {
		t.Fatal("create must not be called when a checkpoint exists")
		return nil, nil
	}, logger)
	require.NoError(t, err)
	require.EqualValues(t, 200, step)

	// Restoring is stable: a second load sees identical state.
	again, stepAgain, err := RestoreOrCreate(dir, nil, logger)
	require.NoError(t, err)
	require.Equal(t, step, stepAgain)
	require.Equal(t, restored.CheckpointState(), again.CheckpointState())

	restoredOpt := task.NewAdam(restored.Parameters(), 0.01)
	require.NoError(t, RestoreOptimizer(dir, restoredOpt, logger))

	// Training continues from the restored counter to the budget.
	cfg.StartStep = step
	require.NoError(t, Run(context.Background(), cfg, restored, restoredOpt, srcs, logger))
}

func TestRestoreOrCreateFresh(t *testing.T) {
	logger, _ := observedLogger()
	created := false
	tsk, step, err := RestoreOrCreate(t.TempDir(), func() (task.Task, error) {
		created = true
		return newTestTask(t), nil
	}, logger)
	require.NoError(t, err)
	require.True(t, created)
	require.Zero(t, step)
	require.NotNil(t, tsk)
}

func TestRestoreOrCreateCorrupt(t *testing.T) {
	dir := t.TempDir()
	logger, _ := observedLogger()
	require.NoError(t, checkpoint.WriteAtomic(filepath.Join(dir, TaskCheckpointName), []byte("junk")))

	_, _, err := RestoreOrCreate(dir, func() (task.Task, error) {
		t.Fatal("corrupt checkpoints must not fall back to fresh tasks")
		return nil, nil
	}, logger)
	require.ErrorIs(t, err, checkpoint.ErrCorrupt)
}

func TestRestoreOptimizerMissingIsFresh(t *testing.T) {
	logger, _ := observedLogger()
	tsk := newTestTask(t)
	opt := task.NewAdam(tsk.Parameters(), 0.01)
	require.NoError(t, RestoreOptimizer(t.TempDir(), opt, logger))
}

func TestRunRejectsZeroBudget(t *testing.T) {
	logger, _ := observedLogger()
	tsk := newTestTask(t)
	opt := task.NewAdam(tsk.Parameters(), 0.01)
	err := Run(context.Background(), Config{}, tsk, opt, testSources(t, memSource{n: 4}, 2), logger)
	require.Error(t, err)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"speechtrain/internal/config"
	"speechtrain/internal/dataset"
	"speechtrain/internal/logging"
	"speechtrain/internal/sampler"
	"speechtrain/internal/task"
	"speechtrain/internal/trainer"
)

type args struct {
	DataRoot string `arg:"positional,required" help:"root directory containing train.tsv, valid.tsv, and test.tsv"`
	SaveDir  string `arg:"positional,required" help:"directory checkpoints are saved under"`
	Config   string `arg:"--config" help:"optional YAML config file"`

	TotalSteps int `arg:"--total-steps" help:"step budget for the run (default 200000)"`
	LogStep    int `arg:"--log-step" help:"log the training window every N steps (default 100)"`
	EvalStep   int `arg:"--eval-step" help:"drain the validation split every N steps (default 5000)"`
	SaveStep   int `arg:"--save-step" help:"save checkpoints every N steps (default 100)"`

	BatchSize     int     `arg:"--batch-size" help:"training batch size"`
	EvalBatchSize int     `arg:"--eval-batch-size" help:"validation/test batch size"`
	Duplicate     int     `arg:"--duplicate" help:"weighted draw multiplier per epoch"`
	Seed          int64   `arg:"--seed" help:"seed for sampling and initialization"`
	NumWorkers    int     `arg:"--num-workers" help:"data loader workers"`
	FeatureBins   int     `arg:"--feature-bins" help:"pooled feature vector size"`
	NumReplicas   int     `arg:"--num-replicas" help:"number of parallel replicas"`
	Rank          int     `arg:"--rank" help:"this replica's rank"`
	LearningRate  float64 `arg:"--lr" help:"optimizer learning rate"`
}

func main() {
	var a args
	arg.MustParse(&a)

	logger := logging.New()
	defer logger.Sync()

	cfg := config.Default()
	if a.Config != "" {
		loaded, err := config.Load(a.Config)
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
		cfg = *loaded
	}
	cfg.ApplyOverrides(config.Overrides{
		DataRoot:      a.DataRoot,
		SaveDir:       a.SaveDir,
		TotalSteps:    a.TotalSteps,
		LogStep:       a.LogStep,
		EvalStep:      a.EvalStep,
		SaveStep:      a.SaveStep,
		BatchSize:     a.BatchSize,
		EvalBatchSize: a.EvalBatchSize,
		Duplicate:     a.Duplicate,
		Seed:          a.Seed,
		NumWorkers:    a.NumWorkers,
		FeatureBins:   a.FeatureBins,
		NumReplicas:   a.NumReplicas,
		Rank:          a.Rank,
		LearningRate:  a.LearningRate,
	})
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
		logger.Fatal("failed to create save dir", zap.Error(err))
	}

	splits, err := dataset.DiscoverSplits(cfg.DataRoot)
	if err != nil {
		logger.Fatal("failed to discover dataset splits", zap.Error(err))
	}
	logger.Info("discovered splits",
		zap.String("train", splits.Train),
		zap.String("valid", splits.Valid),
		zap.String("test", splits.Test),
	)

	train, err := dataset.LoadManifest(splits.Train, dataset.ManifestOptions{FeatureBins: cfg.FeatureBins})
	if err != nil {
		logger.Fatal("failed to load train split", zap.Error(err))
	}
	stats := train.Statistics()
	logger.Info("train split ready", zap.Int("utterances", train.Len()), zap.Int("classes", stats.OutputSize()))

	// Valid/test share the train split's statistics so label ids line up.
	valid, err := dataset.LoadManifest(splits.Valid, dataset.ManifestOptions{FeatureBins: cfg.FeatureBins, Statistics: stats})
	if err != nil {
		logger.Fatal("failed to load valid split", zap.Error(err))
	}
	test, err := dataset.LoadManifest(splits.Test, dataset.ManifestOptions{FeatureBins: cfg.FeatureBins, Statistics: stats})
	if err != nil {
		logger.Fatal("failed to load test split", zap.Error(err))
	}

	// Persist the evaluation split definitions once, before training,
	// so later runs evaluate on exactly the same sets.
	if err := valid.SaveCheckpoint(filepath.Join(cfg.SaveDir, trainer.ValidDatasetName)); err != nil {
		logger.Fatal("failed to save valid split checkpoint", zap.Error(err))
	}
	if err := test.SaveCheckpoint(filepath.Join(cfg.SaveDir, trainer.TestDatasetName)); err != nil {
		logger.Fatal("failed to save test split checkpoint", zap.Error(err))
	}

	balanced, err := sampler.NewBalancedWeighted(train, sampler.BalancedOptions{
		BatchSize: cfg.BatchSize,
		Duplicate: cfg.Duplicate,
		Seed:      cfg.Seed,
	})
	if err != nil {
		logger.Fatal("failed to build train sampler", zap.Error(err))
	}
	trainSampler, err := sampler.NewDistributed(balanced, cfg.NumReplicas, cfg.Rank)
	if err != nil {
		logger.Fatal("failed to shard train sampler", zap.Error(err))
	}
	validSampler, err := evalSampler(valid.Len(), cfg.EvalBatchSize)
	if err != nil {
		logger.Fatal("failed to build valid sampler", zap.Error(err))
	}
	testSampler, err := evalSampler(test.Len(), cfg.EvalBatchSize)
	if err != nil {
		logger.Fatal("failed to build test sampler", zap.Error(err))
	}

	tsk, startStep, err := trainer.RestoreOrCreate(cfg.SaveDir, func() (task.Task, error) {
		return task.NewClassifier(task.ClassifierConfig{
			InputSize:  cfg.FeatureBins,
			NumClasses: stats.OutputSize(),
			Labels:     stats.Labels,
			Seed:       cfg.Seed,
		})
	}, logger)
	if err != nil {
		logger.Fatal("failed to restore or create task", zap.Error(err))
	}

	opt := task.NewAdam(tsk.Parameters(), cfg.LearningRate)
	if err := trainer.RestoreOptimizer(cfg.SaveDir, opt, logger); err != nil {
		logger.Fatal("failed to restore optimizer", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.Config{
		SaveDir:     cfg.SaveDir,
		TotalSteps:  int64(cfg.TotalSteps),
		LogStep:     int64(cfg.LogStep),
		EvalStep:    int64(cfg.EvalStep),
		SaveStep:    int64(cfg.SaveStep),
		StartStep:   startStep,
		MaxGradNorm: cfg.MaxGradNorm,
		Workers:     cfg.NumWorkers,
		Device:      task.CPU,
	}
	srcs := trainer.Sources{
		Train: trainer.Source{Data: train, Sampler: trainSampler},
		Valid: trainer.Source{Data: valid, Sampler: validSampler},
		Test:  trainer.Source{Data: test, Sampler: testSampler},
	}
	if err := trainer.Run(ctx, runCfg, tsk, opt, srcs, logger); err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}
}

// evalSampler builds the sequential evaluation sampler. Evaluation runs
// unsharded on every replica, matching a single-replica wrapper.
func evalSampler(n, batchSize int) (sampler.BatchSampler, error) {
	seq, err := sampler.NewSequential(n, batchSize)
	if err != nil {
		return nil, err
	}
	return sampler.NewDistributed(seq, 1, 0)
}

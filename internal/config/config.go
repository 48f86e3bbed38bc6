package config

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DataRoot string `yaml:"data_root"`
	SaveDir  string `yaml:"save_dir"`

	TotalSteps int `yaml:"total_steps"`
	LogStep    int `yaml:"log_step"`
	EvalStep   int `yaml:"eval_step"`
	SaveStep   int `yaml:"save_step"`

	BatchSize     int   `yaml:"batch_size"`
	EvalBatchSize int   `yaml:"eval_batch_size"`
	Duplicate     int   `yaml:"duplicate"`
	Seed          int64 `yaml:"seed"`
	NumWorkers    int   `yaml:"num_workers"`
	FeatureBins   int   `yaml:"feature_bins"`

	NumReplicas int `yaml:"num_replicas"`
	Rank        int `yaml:"rank"`

	LearningRate float64 `yaml:"learning_rate"`
	MaxGradNorm  float64 `yaml:"max_grad_norm"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		TotalSteps:    200000,
		LogStep:       100,
		EvalStep:      5000,
		SaveStep:      100,
		BatchSize:     16,
		EvalBatchSize: 8,
		Duplicate:     1,
		Seed:          12345678,
		NumWorkers:    4,
		FeatureBins:   64,
		NumReplicas:   1,
		Rank:          0,
		LearningRate:  1e-3,
		MaxGradNorm:   1.0,
	}
}

// Overrides captures CLI supplied values; zero values leave the config
// untouched.
type Overrides struct {
	DataRoot      string
	SaveDir       string
	TotalSteps    int
	LogStep       int
	EvalStep      int
	SaveStep      int
	BatchSize     int
	EvalBatchSize int
	Duplicate     int
	Seed          int64
	NumWorkers    int
	FeatureBins   int
	NumReplicas   int
	Rank          int
	LearningRate  float64
}

// Load reads a YAML config overlaid on the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return &cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataRoot != "" {
		c.DataRoot = o.DataRoot
	}
	if o.SaveDir != "" {
		c.SaveDir = o.SaveDir
	}
	if o.TotalSteps > 0 {
		c.TotalSteps = o.TotalSteps
	}
	if o.LogStep > 0 {
		c.LogStep = o.LogStep
	}
	if o.EvalStep > 0 {
		c.EvalStep = o.EvalStep
	}
	if o.SaveStep > 0 {
		c.SaveStep = o.SaveStep
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.EvalBatchSize > 0 {
		c.EvalBatchSize = o.EvalBatchSize
	}
	if o.Duplicate > 0 {
		c.Duplicate = o.Duplicate
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.FeatureBins > 0 {
		c.FeatureBins = o.FeatureBins
	}
	if o.NumReplicas > 0 {
		c.NumReplicas = o.NumReplicas
	}
	if o.Rank > 0 {
		c.Rank = o.Rank
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataRoot == "" {
		return errors.New("data_root must be set")
	}
	if c.SaveDir == "" {
		return errors.New("save_dir must be set")
	}
	if c.TotalSteps <= 0 {
		return errors.Errorf("total_steps must be > 0 (got %d)", c.TotalSteps)
	}
	if c.LogStep <= 0 || c.EvalStep <= 0 || c.SaveStep <= 0 {
		return errors.Errorf("log_step/eval_step/save_step must be > 0 (got %d/%d/%d)", c.LogStep, c.EvalStep, c.SaveStep)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.EvalBatchSize <= 0 {
		return errors.Errorf("eval_batch_size must be > 0 (got %d)", c.EvalBatchSize)
	}
	if c.NumWorkers <= 0 {
		return errors.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.NumReplicas <= 0 {
		return errors.Errorf("num_replicas must be > 0 (got %d)", c.NumReplicas)
	}
	if c.Rank < 0 || c.Rank >= c.NumReplicas {
		return errors.Errorf("rank must be in [0, %d) (got %d)", c.NumReplicas, c.Rank)
	}
	if c.MaxGradNorm <= 0 {
		c.MaxGradNorm = 1.0
	}
	return nil
}

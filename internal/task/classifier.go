package task

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"speechtrain/internal/checkpoint"
	"speechtrain/internal/dataset"
)

// ClassifierTag identifies classifier checkpoints in the registry.
const ClassifierTag = "classifier"

func init() {
	checkpoint.Register(ClassifierTag, func(config, state json.RawMessage) (interface{}, error) {
		var cfg ClassifierConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, errors.Wrap(err, "decode classifier config")
		}
		c, err := NewClassifier(cfg)
		if err != nil {
			return nil, err
		}
		var params map[string][]float64
		if err := json.Unmarshal(state, &params); err != nil {
			return nil, errors.Wrap(err, "decode classifier state")
		}
		if err := c.restore(params); err != nil {
			return nil, err
		}
		return c, nil
	})
}

// ClassifierConfig is the constructor configuration stored alongside the
// weights in a checkpoint.
type ClassifierConfig struct {
	InputSize  int      `json:"input_size"`
	NumClasses int      `json:"num_classes"`
	Labels     []string `json:"labels"`
	Seed       int64    `json:"seed"`
}

// Classifier is an utterance classification task: a frozen upstream
// feature view composed with a trainable linear softmax head. Training
// steps populate gradients; the optimizer applies updates.
type Classifier struct {
	cfg     ClassifierConfig
	weights *Parameter
	bias    *Parameter
}

// NewClassifier builds a fresh task with randomly initialized weights.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.InputSize <= 0 {
		return nil, errors.Errorf("classifier: input size must be positive, got %d", cfg.InputSize)
	}
	if cfg.NumClasses <= 0 {
		return nil, errors.Errorf("classifier: num classes must be positive, got %d", cfg.NumClasses)
	}
	if len(cfg.Labels) > 0 && len(cfg.Labels) != cfg.NumClasses {
		return nil, errors.Errorf("classifier: %d labels for %d classes", len(cfg.Labels), cfg.NumClasses)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	weights := make([]float64, cfg.NumClasses*cfg.InputSize)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * 0.01
	}
	return &Classifier{
		cfg:     cfg,
		weights: NewParameter("head.weights", weights),
		bias:    NewParameter("head.bias", make([]float64, cfg.NumClasses)),
	}, nil
}

// Parameters exposes the trainable parameters for the optimizer.
func (c *Classifier) Parameters() []*Parameter {
	return []*Parameter{c.weights, c.bias}
}

func (c *Classifier) forward(inputs [][]float64) ([][]float64, error) {
	logits := make([][]float64, len(inputs))
	for i, input := range inputs {
		if len(input) != c.cfg.InputSize {
			return nil, errors.Errorf("classifier: input %d has %d features, want %d", i, len(input), c.cfg.InputSize)
		}
		row := make([]float64, c.cfg.NumClasses)
		for k := 0; k < c.cfg.NumClasses; k++ {
			sum := c.bias.Data[k]
			wStart := k * c.cfg.InputSize
			for j, x := range input {
				sum += c.weights.Data[wStart+j] * x
			}
			row[k] = sum
		}
		logits[i] = row
	}
	return logits, nil
}

// TrainStep runs forward and backward over the batch, accumulating
// gradients into the head's parameters, and returns the mean loss.
func (c *Classifier) TrainStep(b dataset.Batch) (Result, error) {
	logits, err := c.forward(b.Inputs)
	if err != nil {
		return Result{}, err
	}
	n := float64(len(b.Inputs))
	if n == 0 {
		return Result{}, errors.New("classifier: empty batch")
	}

	totalLoss := 0.0
	for i, row := range logits {
		label := b.Labels[i]
		if label < 0 || label >= c.cfg.NumClasses {
			return Result{}, errors.Errorf("classifier: label %d out of range [0, %d)", label, c.cfg.NumClasses)
		}
		probs := softmax(row)
		totalLoss += -math.Log(math.Max(probs[label], 1e-9))

		probs[label] -= 1
		for k := 0; k < c.cfg.NumClasses; k++ {
			g := probs[k] / n
			c.bias.Grad[k] += g
			wStart := k * c.cfg.InputSize
			for j, x := range b.Inputs[i] {
				c.weights.Grad[wStart+j] += g * x
			}
		}
	}

	return Result{
		Loss:   totalLoss / n,
		Logits: logits,
	}, nil
}

// ValidStep evaluates one batch without touching gradients.
func (c *Classifier) ValidStep(b dataset.Batch) (Result, error) { return c.evalStep(b) }

// TestStep evaluates one batch without touching gradients.
func (c *Classifier) TestStep(b dataset.Batch) (Result, error) { return c.evalStep(b) }

func (c *Classifier) evalStep(b dataset.Batch) (Result, error) {
	logits, err := c.forward(b.Inputs)
	if err != nil {
		return Result{}, err
	}
	n := float64(len(b.Inputs))
	if n == 0 {
		return Result{}, errors.New("classifier: empty batch")
	}

	totalLoss := 0.0
	correct := 0
	predictions := make([]string, len(logits))
	for i, row := range logits {
		label := b.Labels[i]
		if label < 0 || label >= c.cfg.NumClasses {
			return Result{}, errors.Errorf("classifier: label %d out of range [0, %d)", label, c.cfg.NumClasses)
		}
		probs := softmax(row)
		totalLoss += -math.Log(math.Max(probs[label], 1e-9))

		best := 0
		for k, v := range row {
			if v > row[best] {
				best = k
			}
		}
		if best == label {
			correct++
		}
		if len(c.cfg.Labels) > 0 {
			predictions[i] = c.cfg.Labels[best]
		}
	}

	return Result{
		Loss:    totalLoss / n,
		Scalars: map[string]float64{"accuracy": float64(correct) / n},
		Strings: map[string][]string{"predictions": predictions},
		Logits:  logits,
	}, nil
}

// TrainReduction averages each scalar across the window's results.
func (c *Classifier) TrainReduction(results []Cacheable) (Logs, error) {
	return reduceMeanScalars(results)
}

// ValidReduction averages each scalar across the validation drain.
func (c *Classifier) ValidReduction(results []Cacheable) (Logs, error) {
	return reduceMeanScalars(results)
}

// TestReduction averages each scalar across the test drain.
func (c *Classifier) TestReduction(results []Cacheable) (Logs, error) {
	return reduceMeanScalars(results)
}

// CheckpointTag implements checkpoint.Saveable.
func (c *Classifier) CheckpointTag() string { return ClassifierTag }

// CheckpointConfig implements checkpoint.Saveable.
func (c *Classifier) CheckpointConfig() interface{} { return c.cfg }

// CheckpointState implements checkpoint.Saveable.
func (c *Classifier) CheckpointState() interface{} {
	return map[string][]float64{
		c.weights.Name: c.weights.Data,
		c.bias.Name:    c.bias.Data,
	}
}

func (c *Classifier) restore(params map[string][]float64) error {
	for _, p := range c.Parameters() {
		data, ok := params[p.Name]
		if !ok {
			return errors.Errorf("classifier state is missing parameter %q", p.Name)
		}
		if len(data) != len(p.Data) {
			return errors.Errorf("classifier state size mismatch for %q: have %d, want %d", p.Name, len(data), len(p.Data))
		}
		copy(p.Data, data)
	}
	return nil
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}

func reduceMeanScalars(results []Cacheable) (Logs, error) {
	values := map[string][]float64{}
	for _, r := range results {
		for name, v := range r.Scalars {
			values[name] = append(values[name], v)
		}
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	logs := make(Logs, len(names))
	for _, name := range names {
		mean, err := stats.Mean(values[name])
		if err != nil {
			return nil, errors.Wrapf(err, "reduce %s", name)
		}
		logs[name] = Log{Name: name, Value: mean}
	}
	return logs, nil
}

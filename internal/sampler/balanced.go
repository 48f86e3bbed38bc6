package sampler

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

const defaultSeed = 12345678

// WeightFunc assigns a positive sampling weight to every dataset index.
type WeightFunc func(data Labeled) ([]float64, error)

// InverseFrequencyWeights weights each item by len(dataset)/count(label),
// so under-represented classes are drawn proportionally more often and
// every class is equally represented in expectation.
func InverseFrequencyWeights(data Labeled) ([]float64, error) {
	n := data.Len()
	labels := make([]string, n)
	counts := make(map[string]int, 16)
	for i := 0; i < n; i++ {
		label, err := data.LabelOf(i)
		if err != nil {
			return nil, errors.Wrapf(err, "label of %d", i)
		}
		labels[i] = label
		counts[label]++
	}
	weights := make([]float64, n)
	for i, label := range labels {
		weights[i] = float64(n) / float64(counts[label])
	}
	return weights, nil
}

// BalancedOptions configures a BalancedWeighted sampler.
type BalancedOptions struct {
	BatchSize int
	// Duplicate multiplies the number of draws per epoch. Default 1.
	Duplicate int
	// Seed for the per-epoch generator. Default 12345678.
	Seed int64
	// Weights overrides the default inverse-class-frequency weighting.
	Weights WeightFunc
}

// BalancedWeighted draws len(dataset)*duplicate indices per epoch with
// replacement according to per-item weights, and slices the draw order
// into fixed-size batches. Weights are computed once at construction and
// never mutated. The final short batch, if any, is emitted rather than
// dropped, so Len always agrees with the number of drawn indices.
type BalancedWeighted struct {
	weights   []float64
	cum       []float64
	total     float64
	batchSize int
	duplicate int
	seed      int64
	epoch     int
}

// NewBalancedWeighted builds the sampler and its weight vector.
func NewBalancedWeighted(data Labeled, opts BalancedOptions) (*BalancedWeighted, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.Wrapf(ErrBatchSize, "got %d", opts.BatchSize)
	}
	if data.Len() == 0 {
		return nil, errors.Wrap(ErrEmptyDataset, "weighted sampling is undefined on zero total weight")
	}
	if opts.Duplicate <= 0 {
		opts.Duplicate = 1
	}
	if opts.Seed == 0 {
		opts.Seed = defaultSeed
	}
	weightFn := opts.Weights
	if weightFn == nil {
		weightFn = InverseFrequencyWeights
	}
	weights, err := weightFn(data)
	if err != nil {
		return nil, errors.Wrap(err, "compute weights")
	}
	if len(weights) != data.Len() {
		return nil, errors.Errorf("sampler: got %d weights for %d items", len(weights), data.Len())
	}

	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w <= 0 {
			return nil, errors.Errorf("sampler: weight %g at index %d is not positive", w, i)
		}
		total += w
		cum[i] = total
	}

	return &BalancedWeighted{
		weights:   weights,
		cum:       cum,
		total:     total,
		batchSize: opts.BatchSize,
		duplicate: opts.Duplicate,
		seed:      opts.Seed,
	}, nil
}

// SetEpoch selects the epoch seeding the next draw.
func (s *BalancedWeighted) SetEpoch(epoch int) { s.epoch = epoch }

// Batches draws the epoch's index sequence and accumulates it into
// batches in draw order. Indices repeat only across batches, never
// within one, because accumulation is sequential over a single draw.
func (s *BalancedWeighted) Batches() [][]int {
	rng := rand.New(rand.NewSource(s.seed + int64(s.epoch)))
	draws := len(s.weights) * s.duplicate

	var out [][]int
	batch := make([]int, 0, s.batchSize)
	for d := 0; d < draws; d++ {
		r := rng.Float64() * s.total
		idx := sort.SearchFloat64s(s.cum, r)
		if idx >= len(s.cum) {
			idx = len(s.cum) - 1
		}
		batch = append(batch, idx)
		if len(batch) == s.batchSize {
			out = append(out, batch)
			batch = make([]int, 0, s.batchSize)
		}
	}
	if len(batch) > 0 {
		out = append(out, batch)
	}
	return out
}

// Len materializes one full draw to count its batches. Callers issuing
// repeated length queries should cache the result.
func (s *BalancedWeighted) Len() int { return len(s.Batches()) }

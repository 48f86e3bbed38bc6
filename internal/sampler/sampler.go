// Package sampler produces deterministic batch index sequences over a
// labeled dataset. Samplers are epoch-seeded: the same (seed, epoch) pair
// always yields the same batch sequence, so independent replicas can
// enumerate identical global sequences and shard them.
package sampler

import "github.com/pkg/errors"

// Configuration and data errors raised at sampler construction.
var (
	ErrBatchSize    = errors.New("sampler: batch size must be positive")
	ErrEmptyDataset = errors.New("sampler: dataset is empty")
	ErrBadShard     = errors.New("sampler: rank must be in [0, num_replicas)")
)

// Labeled is the label-only dataset view samplers operate on. LabelOf
// must not materialize the full item.
type Labeled interface {
	Len() int
	LabelOf(i int) (string, error)
}

// BatchSampler emits, per epoch, an ordered sequence of index batches.
type BatchSampler interface {
	// SetEpoch changes the epoch used to seed the per-epoch draw. Callers
	// set it before each pass to vary batches while staying reproducible.
	SetEpoch(epoch int)
	// Batches materializes the current epoch's batch sequence.
	Batches() [][]int
	// Len reports the number of batches Batches will emit.
	Len() int
}

package sampler

import "github.com/pkg/errors"

// Sequential emits the dataset's indices in order, sliced into fixed-size
// batches, with the final short batch emitted. It is the evaluation-side
// sampler: the epoch does not change its output.
type Sequential struct {
	n         int
	batchSize int
}

// NewSequential builds a sequential sampler over n items.
func NewSequential(n, batchSize int) (*Sequential, error) {
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrBatchSize, "got %d", batchSize)
	}
	if n <= 0 {
		return nil, errors.Wrap(ErrEmptyDataset, "sequential sampler over zero items")
	}
	return &Sequential{n: n, batchSize: batchSize}, nil
}

// SetEpoch is a no-op: evaluation order is fixed.
func (s *Sequential) SetEpoch(epoch int) {}

// Batches returns [0..n) in order, batchSize indices at a time.
func (s *Sequential) Batches() [][]int {
	out := make([][]int, 0, s.Len())
	for start := 0; start < s.n; start += s.batchSize {
		end := start + s.batchSize
		if end > s.n {
			end = s.n
		}
		batch := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, i)
		}
		out = append(out, batch)
	}
	return out
}

// Len is the number of batches, counting the short final one.
func (s *Sequential) Len() int { return (s.n + s.batchSize - 1) / s.batchSize }

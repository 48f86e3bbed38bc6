package sampler

import "github.com/pkg/errors"

// Distributed restricts an inner sampler's batch sequence to the batches
// owned by one replica: positions p with p % numReplicas == rank, in
// inner order. The inner sampler must be epoch-deterministic so that all
// replicas enumerate the same global sequence. Reassembling every rank's
// shard in round-robin rank order reconstructs the inner sequence
// exactly; shards are disjoint.
type Distributed struct {
	inner       BatchSampler
	numReplicas int
	rank        int
}

// NewDistributed wraps inner for the replica identified by rank.
func NewDistributed(inner BatchSampler, numReplicas, rank int) (*Distributed, error) {
	if numReplicas <= 0 {
		return nil, errors.Wrapf(ErrBadShard, "num_replicas=%d", numReplicas)
	}
	if rank < 0 || rank >= numReplicas {
		return nil, errors.Wrapf(ErrBadShard, "rank=%d num_replicas=%d", rank, numReplicas)
	}
	return &Distributed{inner: inner, numReplicas: numReplicas, rank: rank}, nil
}

// SetEpoch forwards the epoch to the inner sampler.
func (d *Distributed) SetEpoch(epoch int) { d.inner.SetEpoch(epoch) }

// Batches enumerates the inner sequence and keeps this rank's positions.
func (d *Distributed) Batches() [][]int {
	all := d.inner.Batches()
	out := make([][]int, 0, (len(all)+d.numReplicas-1)/d.numReplicas)
	for p := d.rank; p < len(all); p += d.numReplicas {
		out = append(out, all[p])
	}
	return out
}

// Len is the exact number of batches this rank will emit.
func (d *Distributed) Len() int {
	n := d.inner.Len()
	if d.rank >= n {
		return 0
	}
	return (n - d.rank + d.numReplicas - 1) / d.numReplicas
}

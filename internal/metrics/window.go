package metrics

import (
	"time"

	"speechtrain/internal/task"
)

// Window buffers the cacheable result of every step in the current
// logging window, along with timing for throughput reporting. It is
// owned exclusively by the training loop and reset on Snapshot.
type Window struct {
	results []task.Cacheable
	samples int
	steps   int
	data    time.Duration
	compute time.Duration
}

// Record appends one step's projection and timings to the window.
func (w *Window) Record(c task.Cacheable, batchSize int, dataTime, computeTime time.Duration) {
	w.results = append(w.results, c)
	w.samples += batchSize
	w.steps++
	w.data += dataTime
	w.compute += computeTime
}

// Steps reports how many results are buffered.
func (w *Window) Steps() int { return w.steps }

// Snapshot returns the buffered results and aggregated timings, then
// resets the window for the next logging cadence.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Results: w.results, Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ExamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}

	w.results = nil
	w.samples = 0
	w.steps = 0
	w.data = 0
	w.compute = 0
	return snap
}

// Snapshot is one logging window's worth of results and throughput.
type Snapshot struct {
	Results        []task.Cacheable
	Steps          int
	ExamplesPerSec float64
	AvgDataMS      float64
	AvgComputeMS   float64
}

// Package task defines the contracts between the training loop and the
// model it drives, plus a concrete speech classification task.
package task

import (
	"speechtrain/internal/checkpoint"
	"speechtrain/internal/dataset"
)

// Result is the bundle returned by a single step. Logits are the large
// per-step outputs; Cacheable strips them so the remainder can sit in a
// rolling buffer across many steps.
type Result struct {
	Loss    float64
	Scalars map[string]float64
	Strings map[string][]string
	Logits  [][]float64
}

// Cacheable is a result projection holding only scalars and short
// strings, cheap enough to buffer for a whole logging window.
type Cacheable struct {
	Scalars map[string]float64
	Strings map[string][]string
}

// Cacheable reduces the result to its buffer-safe projection.
func (r Result) Cacheable() Cacheable {
	c := Cacheable{Scalars: map[string]float64{"loss": r.Loss}}
	for k, v := range r.Scalars {
		c.Scalars[k] = v
	}
	if len(r.Strings) > 0 {
		c.Strings = make(map[string][]string, len(r.Strings))
		for k, v := range r.Strings {
			c.Strings[k] = v
		}
	}
	return c
}

// Log is one named summary value produced by a reduction.
type Log struct {
	Name  string
	Value float64
}

// Logs maps log names to their reduced values.
type Logs map[string]Log

// Task is the model/loss/metric collaborator the loop drives. TrainStep
// must populate parameter gradients; the loop owns clipping and the
// optimizer owns updates. Tasks are persisted through the checkpoint
// registry, so every Task is also a checkpoint.Saveable.
type Task interface {
	TrainStep(b dataset.Batch) (Result, error)
	ValidStep(b dataset.Batch) (Result, error)
	TestStep(b dataset.Batch) (Result, error)

	TrainReduction(results []Cacheable) (Logs, error)
	ValidReduction(results []Cacheable) (Logs, error)
	TestReduction(results []Cacheable) (Logs, error)

	Parameters() []*Parameter

	checkpoint.Saveable
}

// Device is the compute context batches are placed on. Placement is a
// no-op in non-accelerated builds.
type Device string

// CPU is the only device in this build.
const CPU Device = "cpu"

// Place moves the batch to the device.
func (d Device) Place(b dataset.Batch) dataset.Batch { return b }

package task

import "math"

// Parameter is a named flat tensor with its gradient buffer. The task
// owns Data; the optimizer reads Grad and writes Data.
type Parameter struct {
	Name string
	Data []float64
	Grad []float64
}

// NewParameter allocates a parameter with a zeroed gradient.
func NewParameter(name string, data []float64) *Parameter {
	return &Parameter{Name: name, Data: data, Grad: make([]float64, len(data))}
}

// ZeroGrad clears the gradient buffer.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ClipGradNorm computes the global L2 norm over all gradients and, when
// it exceeds maxNorm, scales every gradient down to that norm. It returns
// the pre-clip norm; a NaN norm is returned as-is with gradients left
// untouched so the caller can skip the update.
func ClipGradNorm(params []*Parameter, maxNorm float64) float64 {
	sum := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			sum += g * g
		}
	}
	norm := math.Sqrt(sum)
	if math.IsNaN(norm) {
		return norm
	}
	if norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, p := range params {
			for i := range p.Grad {
				p.Grad[i] *= scale
			}
		}
	}
	return norm
}

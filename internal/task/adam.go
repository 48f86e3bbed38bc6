package task

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// Optimizer is the standard step/zero-grad/save-restore contract.
type Optimizer interface {
	Step()
	ZeroGrad()
	State() ([]byte, error)
	Restore(state []byte) error
}

const defaultLearningRate = 1e-3

// Adam implements the Adam update rule over a fixed parameter set.
type Adam struct {
	params []*Parameter
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64

	t int
	m map[string][]float64
	v map[string][]float64
}

// NewAdam binds an Adam optimizer to params. A non-positive lr selects
// the default 1e-3.
func NewAdam(params []*Parameter, lr float64) *Adam {
	if lr <= 0 {
		lr = defaultLearningRate
	}
	a := &Adam{
		params: params,
		lr:     lr,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		m:      make(map[string][]float64, len(params)),
		v:      make(map[string][]float64, len(params)),
	}
	for _, p := range params {
		a.m[p.Name] = make([]float64, len(p.Data))
		a.v[p.Name] = make([]float64, len(p.Data))
	}
	return a
}

// ZeroGrad clears every bound parameter's gradient.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one Adam update using the current gradients.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))
	for _, p := range a.params {
		m := a.m[p.Name]
		v := a.v[p.Name]
		for i, g := range p.Grad {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g
			v[i] = a.beta2*v[i] + (1-a.beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			p.Data[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}

type adamState struct {
	T int                  `json:"t"`
	M map[string][]float64 `json:"m"`
	V map[string][]float64 `json:"v"`
}

// State serializes the optimizer's internal state.
func (a *Adam) State() ([]byte, error) {
	data, err := json.Marshal(adamState{T: a.t, M: a.m, V: a.v})
	if err != nil {
		return nil, errors.Wrap(err, "marshal adam state")
	}
	return data, nil
}

// Restore loads a state produced by State. The state must cover exactly
// the bound parameters with matching sizes.
func (a *Adam) Restore(state []byte) error {
	var s adamState
	if err := json.Unmarshal(state, &s); err != nil {
		return errors.Wrap(err, "decode adam state")
	}
	for _, p := range a.params {
		m, okM := s.M[p.Name]
		v, okV := s.V[p.Name]
		if !okM || !okV {
			return errors.Errorf("adam state is missing parameter %q", p.Name)
		}
		if len(m) != len(p.Data) || len(v) != len(p.Data) {
			return errors.Errorf("adam state size mismatch for %q: have %d, want %d", p.Name, len(m), len(p.Data))
		}
	}
	a.t = s.T
	a.m = s.M
	a.v = s.V
	return nil
}

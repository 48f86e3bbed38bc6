package task

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdamStepMovesAgainstGradient(t *testing.T) {
	p := NewParameter("w", []float64{1.0, -1.0})
	opt := NewAdam([]*Parameter{p}, 0.1)

	p.Grad[0] = 1.0  // positive gradient: value must decrease
	p.Grad[1] = -1.0 // negative gradient: value must increase
	opt.Step()

	require.Less(t, p.Data[0], 1.0)
	require.Greater(t, p.Data[1], -1.0)
}

func TestAdamZeroGrad(t *testing.T) {
	p := NewParameter("w", []float64{1.0})
	opt := NewAdam([]*Parameter{p}, 0)

	p.Grad[0] = 2.5
	opt.ZeroGrad()
	require.Zero(t, p.Grad[0])
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := NewParameter("w", []float64{1.0, 2.0})
	opt := NewAdam([]*Parameter{p}, 0.01)
	for i := 0; i < 3; i++ {
		p.Grad[0], p.Grad[1] = 0.5, -0.5
		opt.Step()
	}
	state, err := opt.State()
	require.NoError(t, err)

	// A fresh optimizer restored from state continues identically.
	pCopy := NewParameter("w", append([]float64(nil), p.Data...))
	restored := NewAdam([]*Parameter{pCopy}, 0.01)
	require.NoError(t, restored.Restore(state))

	p.Grad[0], p.Grad[1] = 0.5, -0.5
	opt.Step()
	pCopy.Grad[0], pCopy.Grad[1] = 0.5, -0.5
	restored.Step()

	require.InDelta(t, p.Data[0], pCopy.Data[0], 1e-12)
	require.InDelta(t, p.Data[1], pCopy.Data[1], 1e-12)
}

func TestAdamRestoreRejectsMismatch(t *testing.T) {
	p := NewParameter("w", []float64{1.0, 2.0})
	opt := NewAdam([]*Parameter{p}, 0.01)
	state, err := opt.State()
	require.NoError(t, err)

	other := NewAdam([]*Parameter{NewParameter("b", []float64{0})}, 0.01)
	require.Error(t, other.Restore(state))

	shorter := NewAdam([]*Parameter{NewParameter("w", []float64{0})}, 0.01)
	require.Error(t, shorter.Restore(state))

	require.Error(t, opt.Restore([]byte("not json")))
}

func TestClipGradNorm(t *testing.T) {
	p := NewParameter("w", []float64{0, 0})
	p.Grad[0], p.Grad[1] = 3.0, 4.0

	norm := ClipGradNorm([]*Parameter{p}, 1.0)
	require.InDelta(t, 5.0, norm, 1e-9)

	// Gradients are rescaled to (close to) unit norm.
	clipped := math.Hypot(p.Grad[0], p.Grad[1])
	require.InDelta(t, 1.0, clipped, 1e-5)

	// Below the threshold nothing changes.
	p.Grad[0], p.Grad[1] = 0.3, 0.4
	norm = ClipGradNorm([]*Parameter{p}, 1.0)
	require.InDelta(t, 0.5, norm, 1e-9)
	require.InDelta(t, 0.3, p.Grad[0], 1e-12)
}

func TestClipGradNormNaN(t *testing.T) {
	p := NewParameter("w", []float64{0})
	p.Grad[0] = math.NaN()
	require.True(t, math.IsNaN(ClipGradNorm([]*Parameter{p}, 1.0)))
}

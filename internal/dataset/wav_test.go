package dataset

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// mustWAV writes a 16-bit PCM mono WAV file containing samples.
func mustWAV(t *testing.T, path string, samples []int16) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	body := &bytes.Buffer{}
	for _, s := range samples {
		binary.Write(body, binary.LittleEndian, s)
	}

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+body.Len()))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))     // mono
	binary.Write(buf, binary.LittleEndian, uint32(16000)) // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))     // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))    // bits

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(body.Len()))
	buf.Write(body.Bytes())

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestReadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	mustWAV(t, path, []int16{0, 16384, -16384, 32767})

	samples, err := ReadWAV(path)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	require.InDelta(t, 0.0, samples[0], 1e-9)
	require.InDelta(t, 0.5, samples[1], 1e-9)
	require.InDelta(t, -0.5, samples[2], 1e-9)
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.bin")
	require.NoError(t, os.WriteFile(path, []byte("definitely not audio"), 0o644))

	_, err := ReadWAV(path)
	require.Error(t, err)
}

func TestLogEnergyShape(t *testing.T) {
	samples := make([]float64, 1000)
	for i := range samples {
		samples[i] = math.Sin(float64(i) * 0.1)
	}
	features := LogEnergy(samples, 16)
	require.Len(t, features, 16)
	for _, f := range features {
		require.False(t, math.IsNaN(f))
		require.LessOrEqual(t, f, 0.0)
	}
}

func TestLogEnergyEmptyInput(t *testing.T) {
	features := LogEnergy(nil, 8)
	require.Len(t, features, 8)
	for _, f := range features {
		require.InDelta(t, math.Log(energyFloor), f, 1e-9)
	}
}

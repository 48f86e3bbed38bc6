package dataset

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"
)

// ReadWAV reads a 16-bit PCM RIFF/WAVE file and returns its samples
// normalized to [-1, 1]. Channels are kept interleaved.
func ReadWAV(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read wav %s", path)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.Errorf("wav %s: not a RIFF/WAVE file", path)
	}

	var sawFormat bool
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			return nil, errors.Errorf("wav %s: truncated %q chunk", path, chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, errors.Errorf("wav %s: short fmt chunk", path)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if audioFormat != 1 || bits != 16 {
				return nil, errors.Errorf("wav %s: only 16-bit PCM supported (format=%d bits=%d)", path, audioFormat, bits)
			}
			sawFormat = true
		case "data":
			if !sawFormat {
				return nil, errors.Errorf("wav %s: data chunk before fmt chunk", path)
			}
			n := chunkSize / 2
			samples := make([]float64, n)
			for i := 0; i < n; i++ {
				raw := int16(binary.LittleEndian.Uint16(data[body+2*i : body+2*i+2]))
				samples[i] = float64(raw) / 32768.0
			}
			return samples, nil
		}

		// chunks are word aligned
		offset = body + chunkSize + chunkSize%2
	}
	return nil, errors.Errorf("wav %s: no data chunk", path)
}

const energyFloor = 1e-10

// LogEnergy pools samples into bins windows of equal size and returns
// the log mean-square energy of each window.
func LogEnergy(samples []float64, bins int) []float64 {
	features := make([]float64, bins)
	if len(samples) == 0 {
		for i := range features {
			features[i] = math.Log(energyFloor)
		}
		return features
	}
	window := (len(samples) + bins - 1) / bins
	for b := 0; b < bins; b++ {
		start := b * window
		end := start + window
		if end > len(samples) {
			end = len(samples)
		}
		energy := energyFloor
		if start < end {
			sum := 0.0
			for _, s := range samples[start:end] {
				sum += s * s
			}
			energy += sum / float64(end-start)
		}
		features[b] = math.Log(energy)
	}
	return features
}

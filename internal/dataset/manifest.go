package dataset

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"speechtrain/internal/checkpoint"
)

const defaultFeatureBins = 64

type entry struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

// Manifest is a dataset backed by a TSV manifest of utterances. Labels
// are resident in memory so the label-only view is cheap; audio features
// are materialized lazily on item access.
type Manifest struct {
	entries []entry
	stats   *Statistics
	bins    int
}

// ManifestOptions configures manifest loading.
type ManifestOptions struct {
	// FeatureBins is the size of the pooled feature vector.
	FeatureBins int
	// Statistics, when set, is shared from another split (the training
	// split) instead of being computed from this manifest's labels.
	Statistics *Statistics
}

// LoadManifest reads a manifest of "audio_path<TAB>label" rows.
func LoadManifest(path string, opts ManifestOptions) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open manifest %s", path)
	}
	defer f.Close()

	dir := filepath.Dir(path)
	var entries []entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("manifest %s line %d: want audio_path<TAB>label", path, lineNo)
		}
		audio := parts[0]
		if !filepath.IsAbs(audio) {
			audio = filepath.Join(dir, audio)
		}
		entries = append(entries, entry{Path: audio, Label: strings.TrimSpace(parts[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan manifest %s", path)
	}
	if len(entries) == 0 {
		return nil, errors.Errorf("manifest %s has no entries", path)
	}
	return newManifest(entries, opts), nil
}

func newManifest(entries []entry, opts ManifestOptions) *Manifest {
	bins := opts.FeatureBins
	if bins <= 0 {
		bins = defaultFeatureBins
	}
	stats := opts.Statistics
	if stats == nil {
		labels := make([]string, len(entries))
		for i, e := range entries {
			labels[i] = e.Label
		}
		stats = NewStatistics(labels)
	}
	return &Manifest{entries: entries, stats: stats, bins: bins}
}

// Len returns the number of utterances.
func (m *Manifest) Len() int { return len(m.entries) }

// LabelOf returns the label without touching the audio file.
func (m *Manifest) LabelOf(i int) (string, error) {
	if i < 0 || i >= len(m.entries) {
		return "", errors.Errorf("index %d out of range [0, %d)", i, len(m.entries))
	}
	return m.entries[i].Label, nil
}

// Item reads the utterance's audio and extracts its feature vector.
func (m *Manifest) Item(i int) (Item, error) {
	if i < 0 || i >= len(m.entries) {
		return Item{}, errors.Errorf("index %d out of range [0, %d)", i, len(m.entries))
	}
	e := m.entries[i]
	samples, err := ReadWAV(e.Path)
	if err != nil {
		return Item{}, err
	}
	return Item{
		Utterance: e.Path,
		Features:  LogEnergy(samples, m.bins),
		Label:     e.Label,
	}, nil
}

// Collate assembles items into a batch, mapping labels to class ids
// through the manifest's statistics.
func (m *Manifest) Collate(items []Item) (Batch, error) {
	b := Batch{
		Utterances: make([]string, len(items)),
		Inputs:     make([][]float64, len(items)),
		Labels:     make([]int, len(items)),
	}
	for i, item := range items {
		id, err := m.stats.LabelID(item.Label)
		if err != nil {
			return Batch{}, errors.Wrapf(err, "collate %s", item.Utterance)
		}
		b.Utterances[i] = item.Utterance
		b.Inputs[i] = item.Features
		b.Labels[i] = id
	}
	return b, nil
}

// Statistics returns the label statistics in effect for this split.
func (m *Manifest) Statistics() *Statistics { return m.stats }

type manifestState struct {
	Entries    []entry     `json:"entries"`
	Bins       int         `json:"feature_bins"`
	Statistics *Statistics `json:"statistics"`
}

// SaveCheckpoint persists the split definition so the evaluation set can
// be reproduced exactly on a later run.
func (m *Manifest) SaveCheckpoint(path string) error {
	return checkpoint.SaveJSON(path, manifestState{
		Entries:    m.entries,
		Bins:       m.bins,
		Statistics: m.stats,
	})
}

// LoadManifestCheckpoint restores a split saved with SaveCheckpoint.
func LoadManifestCheckpoint(path string) (*Manifest, error) {
	var state manifestState
	if err := checkpoint.LoadJSON(path, &state); err != nil {
		return nil, err
	}
	if len(state.Entries) == 0 || state.Statistics == nil {
		return nil, errors.Wrapf(checkpoint.ErrCorrupt, "dataset checkpoint %s is incomplete", path)
	}
	state.Statistics.buildIndex()
	return newManifest(state.Entries, ManifestOptions{
		FeatureBins: state.Bins,
		Statistics:  state.Statistics,
	}), nil
}

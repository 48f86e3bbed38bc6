package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, path string, rows []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := ""
	for _, row := range rows {
		content += row + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func fixtureManifest(t *testing.T, dir string) string {
	t.Helper()
	mustWAV(t, filepath.Join(dir, "utt0.wav"), []int16{100, 200, 300, 400})
	mustWAV(t, filepath.Join(dir, "utt1.wav"), []int16{-100, -200, -300, -400})
	mustWAV(t, filepath.Join(dir, "utt2.wav"), []int16{1, 2, 3, 4})
	path := filepath.Join(dir, "train.tsv")
	writeManifest(t, path, []string{
		"utt0.wav\tyes",
		"utt1.wav\tno",
		"utt2.wav\tyes",
	})
	return path
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := fixtureManifest(t, dir)

	m, err := LoadManifest(path, ManifestOptions{FeatureBins: 4})
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	label, err := m.LabelOf(1)
	require.NoError(t, err)
	require.Equal(t, "no", label)

	item, err := m.Item(0)
	require.NoError(t, err)
	require.Len(t, item.Features, 4)
	require.Equal(t, "yes", item.Label)

	stats := m.Statistics()
	require.Equal(t, 2, stats.OutputSize())
	require.Equal(t, []string{"no", "yes"}, stats.Labels)
}

func TestLabelOfDoesNotTouchAudio(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.tsv")
	writeManifest(t, path, []string{"missing.wav\tghost"})

	m, err := LoadManifest(path, ManifestOptions{})
	require.NoError(t, err)

	// The audio file does not exist: the label-only view must still work.
	label, err := m.LabelOf(0)
	require.NoError(t, err)
	require.Equal(t, "ghost", label)

	_, err = m.Item(0)
	require.Error(t, err)
}

func TestLoadManifestRejectsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.tsv")
	writeManifest(t, path, []string{"no-tab-here"})

	_, err := LoadManifest(path, ManifestOptions{})
	require.Error(t, err)
}

func TestLoadManifestRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.tsv")
	writeManifest(t, path, []string{"# comment only"})

	_, err := LoadManifest(path, ManifestOptions{})
	require.Error(t, err)
}

func TestCollateMapsLabels(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadManifest(fixtureManifest(t, dir), ManifestOptions{FeatureBins: 4})
	require.NoError(t, err)

	var items []Item
	for i := 0; i < m.Len(); i++ {
		item, err := m.Item(i)
		require.NoError(t, err)
		items = append(items, item)
	}
	batch, err := m.Collate(items)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Size())
	require.Equal(t, []int{1, 0, 1}, batch.Labels) // no=0, yes=1

	_, err = m.Collate([]Item{{Utterance: "x", Label: "unknown"}})
	require.Error(t, err)
}

func TestSharedStatisticsAcrossSplits(t *testing.T) {
	dir := t.TempDir()
	train, err := LoadManifest(fixtureManifest(t, dir), ManifestOptions{FeatureBins: 4})
	require.NoError(t, err)

	validPath := filepath.Join(dir, "valid.tsv")
	mustWAV(t, filepath.Join(dir, "vutt.wav"), []int16{5, 6, 7, 8})
	writeManifest(t, validPath, []string{"vutt.wav\tyes"})

	valid, err := LoadManifest(validPath, ManifestOptions{
		FeatureBins: 4,
		Statistics:  train.Statistics(),
	})
	require.NoError(t, err)

	item, err := valid.Item(0)
	require.NoError(t, err)
	batch, err := valid.Collate([]Item{item})
	require.NoError(t, err)
	require.Equal(t, []int{1}, batch.Labels) // "yes" keeps the train split's id
}

func TestManifestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadManifest(fixtureManifest(t, dir), ManifestOptions{FeatureBins: 4})
	require.NoError(t, err)

	ckpt := filepath.Join(dir, "valid_dataset.ckpt")
	require.NoError(t, m.SaveCheckpoint(ckpt))

	restored, err := LoadManifestCheckpoint(ckpt)
	require.NoError(t, err)
	require.Equal(t, m.Len(), restored.Len())
	require.Equal(t, m.Statistics().Labels, restored.Statistics().Labels)

	// Label ids must survive the round trip.
	item, err := restored.Item(0)
	require.NoError(t, err)
	batch, err := restored.Collate([]Item{item})
	require.NoError(t, err)
	require.Equal(t, []int{1}, batch.Labels)
}

func TestDiscoverSplits(t *testing.T) {
	dir := t.TempDir()
	for _, split := range []string{"train", "valid", "test"} {
		writeManifest(t, filepath.Join(dir, split+".tsv"), []string{"a.wav\tx"})
	}
	splits, err := DiscoverSplits(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "train.tsv"), splits.Train)
	require.Equal(t, filepath.Join(dir, "valid.tsv"), splits.Valid)
	require.Equal(t, filepath.Join(dir, "test.tsv"), splits.Test)
}

func TestDiscoverSplitsMissingSplit(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, filepath.Join(dir, "train.tsv"), []string{"a.wav\tx"})

	_, err := DiscoverSplits(dir)
	require.Error(t, err)
}

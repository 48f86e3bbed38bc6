package dataset

import (
	"io/fs"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

var manifestRegexp = regexp.MustCompile(`^(train|valid|test)\.tsv$`)

// Splits holds the manifest paths for the three dataset splits.
type Splits struct {
	Train string
	Valid string
	Test  string
}

// DiscoverSplits walks root and locates the train/valid/test manifests.
func DiscoverSplits(root string) (Splits, error) {
	found := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := manifestRegexp.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		split := m[1]
		if prev, ok := found[split]; ok {
			return errors.Errorf("duplicate %s manifest: %s and %s", split, prev, path)
		}
		found[split] = path
		return nil
	})
	if err != nil {
		return Splits{}, errors.Wrapf(err, "discover manifests under %s", root)
	}
	for _, split := range []string{"train", "valid", "test"} {
		if _, ok := found[split]; !ok {
			return Splits{}, errors.Errorf("no %s.tsv manifest under %s", split, root)
		}
	}
	return Splits{Train: found["train"], Valid: found["valid"], Test: found["test"]}, nil
}

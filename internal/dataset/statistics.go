package dataset

import (
	"sort"

	"github.com/pkg/errors"
)

// Statistics holds the label vocabulary computed from a training split.
// Validation and test datasets must be built with the training split's
// statistics so that label ids stay consistent across splits.
type Statistics struct {
	Labels []string `json:"labels"`

	index map[string]int
}

// NewStatistics builds statistics from raw label values. Duplicates are
// collapsed and the vocabulary is sorted for a stable id assignment.
func NewStatistics(labels []string) *Statistics {
	seen := make(map[string]struct{}, len(labels))
	vocab := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		vocab = append(vocab, l)
	}
	sort.Strings(vocab)
	s := &Statistics{Labels: vocab}
	s.buildIndex()
	return s
}

func (s *Statistics) buildIndex() {
	s.index = make(map[string]int, len(s.Labels))
	for i, l := range s.Labels {
		s.index[l] = i
	}
}

// OutputSize is the number of classes, used to size downstream heads.
func (s *Statistics) OutputSize() int { return len(s.Labels) }

// LabelID maps a label value to its class id.
func (s *Statistics) LabelID(label string) (int, error) {
	id, ok := s.index[label]
	if !ok {
		return 0, errors.Errorf("label %q not in vocabulary", label)
	}
	return id, nil
}

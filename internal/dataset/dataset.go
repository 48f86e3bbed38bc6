package dataset

// Item is one fully materialized utterance.
type Item struct {
	Utterance string
	Features  []float64
	Label     string
}

// Batch is an ordered collation of items, ready for a task step.
type Batch struct {
	Utterances []string
	Inputs     [][]float64
	Labels     []int
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int { return len(b.Inputs) }

// Dataset is an ordered, indexable sequence of labeled items. LabelOf is
// the label-only view: it must not materialize features.
type Dataset interface {
	Len() int
	Item(i int) (Item, error)
	LabelOf(i int) (string, error)
}

// Collater turns a slice of items into a structured batch.
type Collater interface {
	Collate(items []Item) (Batch, error)
}

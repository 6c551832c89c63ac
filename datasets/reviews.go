package datasets

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/types/tensors"

	"github.com/meridian-analytics/lingua/util"
	"github.com/meridian-analytics/lingua/vocab"
)

type reviewExample struct {
	path  string
	label float32
}

// ReviewDataset yields batches of movie reviews with binary sentiment labels.
// It expects a directory with pos/ and neg/ subdirectories of plain-text
// files, one review per file, as in the usual sentiment corpus layout.
type ReviewDataset struct {
	Path       string
	BatchSize  int
	vectorizer *vocab.Vectorizer
	examples   []reviewExample
	cursor     int
	batchN     int
	verbose    bool
}

// NewReviewDataset scans the pos/ and neg/ subdirectories of path and adapts
// a new vectorizer on the full corpus with the given configuration. The
// example order is shuffled once with a fixed seed so epochs are
// reproducible.
func NewReviewDataset(path string, batchSize int, config vocab.Config) (*ReviewDataset, error) {
	d := &ReviewDataset{
		Path:      path,
		BatchSize: batchSize,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := d.scan(); err != nil {
		return nil, err
	}

	vectorizer, err := vocab.NewVectorizer(config)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(d.examples))
	for _, example := range d.examples {
		data, err := util.ReadFileBytes(example.path)
		if err != nil {
			return nil, err
		}
		texts = append(texts, string(data))
	}
	vectorizer.Adapt(texts)
	d.vectorizer = vectorizer
	return d, nil
}

// NewReviewDatasetWithVectorizer is like NewReviewDataset but reuses an
// already adapted vectorizer, typically the training set's one for an
// evaluation split.
func NewReviewDatasetWithVectorizer(path string, batchSize int, vectorizer *vocab.Vectorizer) (*ReviewDataset, error) {
	d := &ReviewDataset{
		Path:       path,
		BatchSize:  batchSize,
		vectorizer: vectorizer,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := d.scan(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *ReviewDataset) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("dataset path is required")
	}
	if d.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}

func (d *ReviewDataset) scan() error {
	for _, split := range []struct {
		dir   string
		label float32
	}{{"neg", 0}, {"pos", 1}} {
		splitPath := util.PathJoinSafe(d.Path, split.dir)
		label := split.label
		walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
			if filepath.Ext(info.Name()) == ".txt" {
				d.examples = append(d.examples, reviewExample{
					path:  util.PathJoinSafe(splitPath, parent, info.Name()),
					label: label,
				})
			}
			return true, nil
		}
		if err := util.WalkDir()(context.Background(), splitPath, walker); err != nil {
			return err
		}
	}
	if len(d.examples) == 0 {
		return fmt.Errorf("no .txt review files found under %s", d.Path)
	}

	shuffler := rand.New(rand.NewSource(42))
	shuffler.Shuffle(len(d.examples), func(i, j int) {
		d.examples[i], d.examples[j] = d.examples[j], d.examples[i]
	})
	return nil
}

// Vectorizer returns the vectorizer used to encode reviews.
func (d *ReviewDataset) Vectorizer() *vocab.Vectorizer {
	return d.vectorizer
}

func (d *ReviewDataset) SetVerbose(v bool) {
	d.verbose = v
}

func (d *ReviewDataset) Name() string {
	return "reviews"
}

func (d *ReviewDataset) Reset() {
	if d.verbose {
		fmt.Printf("completed epoch in %d batches (batch size %d), resetting dataset\n", d.batchN, d.BatchSize)
	}
	d.cursor = 0
	d.batchN = 0
}

func (d *ReviewDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.cursor >= len(d.examples) {
		return nil, nil, nil, io.EOF // return error for reset
	}

	seqLen := d.vectorizer.Config.SequenceLength
	var ids []int64
	var scores []float32

	for d.cursor < len(d.examples) && len(scores) < d.BatchSize {
		example := d.examples[d.cursor]
		d.cursor++

		data, readErr := util.ReadFileBytes(example.path)
		if readErr != nil {
			return nil, nil, nil, readErr
		}
		ids = append(ids, d.vectorizer.Vectorize(string(data))...)
		scores = append(scores, example.label)
	}

	inputTensor := tensors.FromFlatDataAndDimensions(ids, len(scores), seqLen)
	labelTensor := tensors.FromFlatDataAndDimensions(scores, len(scores), 1)

	if d.verbose {
		fmt.Printf("processing batch %d\n", d.batchN)
	}
	d.batchN++
	return nil, []*tensors.Tensor{inputTensor}, []*tensors.Tensor{labelTensor}, nil
}

func (d *ReviewDataset) Close() error {
	d.examples = nil
	return nil
}

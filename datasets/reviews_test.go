package datasets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"

	"github.com/meridian-analytics/lingua/vocab"
)

func writeReviewCorpus(t *testing.T, numPerLabel int) string {
	t.Helper()
	root := t.TempDir()
	for _, split := range []string{"pos", "neg"} {
		dir := filepath.Join(root, split)
		assert.NoError(t, os.MkdirAll(dir, os.ModePerm))
		for i := 0; i < numPerLabel; i++ {
			text := fmt.Sprintf("this movie was terrible number %d", i)
			if split == "pos" {
				text = fmt.Sprintf("this movie was great number %d", i)
			}
			path := filepath.Join(dir, fmt.Sprintf("%d_review.txt", i))
			assert.NoError(t, os.WriteFile(path, []byte(text), os.ModePerm))
		}
	}
	return root
}

func TestReviewDatasetYield(t *testing.T) {
	root := writeReviewCorpus(t, 5)
	dataset, err := NewReviewDataset(root, 4, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.NoError(t, err)
	defer dataset.Close()

	_, inputs, labels, err := dataset.Yield()
	assert.NoError(t, err)
	assert.Len(t, inputs, 1)
	assert.Len(t, labels, 1)
	assert.Equal(t, []int{4, 8}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{4, 1}, labels[0].Shape().Dimensions)

	scores := tensors.CopyFlatData[float32](labels[0])
	for _, score := range scores {
		assert.Contains(t, []float32{0, 1}, score)
	}
}

func TestReviewDatasetEpoch(t *testing.T) {
	root := writeReviewCorpus(t, 5)
	dataset, err := NewReviewDataset(root, 4, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.NoError(t, err)
	defer dataset.Close()

	// 10 examples in batches of 4: two full batches, one short batch, EOF.
	seen := 0
	for {
		_, inputs, _, yieldErr := dataset.Yield()
		if yieldErr == io.EOF {
			break
		}
		assert.NoError(t, yieldErr)
		seen += inputs[0].Shape().Dimensions[0]
	}
	assert.Equal(t, 10, seen)

	dataset.Reset()
	_, inputs, _, err := dataset.Yield()
	assert.NoError(t, err)
	assert.Equal(t, 4, inputs[0].Shape().Dimensions[0])
}

func TestReviewDatasetVerboseReset(t *testing.T) {
	root := writeReviewCorpus(t, 3)
	dataset, err := NewReviewDataset(root, 4, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.NoError(t, err)
	defer dataset.Close()
	dataset.SetVerbose(true)

	for {
		if _, _, _, yieldErr := dataset.Yield(); yieldErr == io.EOF {
			break
		}
	}

	stdout := os.Stdout
	read, write, err := os.Pipe()
	assert.NoError(t, err)
	os.Stdout = write
	dataset.Reset()
	assert.NoError(t, write.Close())
	os.Stdout = stdout

	message, err := io.ReadAll(read)
	assert.NoError(t, err)
	assert.Contains(t, string(message), "completed epoch in 2 batches (batch size 4)")
}

func TestReviewDatasetVocabulary(t *testing.T) {
	root := writeReviewCorpus(t, 3)
	dataset, err := NewReviewDataset(root, 2, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.NoError(t, err)
	defer dataset.Close()

	vectorizer := dataset.Vectorizer()
	assert.NotEqual(t, vocab.UnkID, vectorizer.TokenID("great"))
	assert.NotEqual(t, vocab.UnkID, vectorizer.TokenID("terrible"))
}

func TestReviewDatasetErrors(t *testing.T) {
	_, err := NewReviewDataset("", 4, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.Error(t, err)

	root := writeReviewCorpus(t, 2)
	_, err = NewReviewDataset(root, 0, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.Error(t, err)

	_, err = NewReviewDataset(t.TempDir(), 4, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.Error(t, err)
}

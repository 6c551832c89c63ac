package datasets

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"

	"github.com/meridian-analytics/lingua/vocab"
)

func writePairsFile(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairs.txt")
	data := ""
	for _, line := range lines {
		data += line + "\n"
	}
	assert.NoError(t, os.WriteFile(path, []byte(data), os.ModePerm))
	return path
}

func TestPairsDatasetYield(t *testing.T) {
	path := writePairsFile(t, []string{
		"the cat sleeps\tel gato duerme",
		"the dog runs\tel perro corre",
		"the bird sings\tel pajaro canta",
	})
	dataset, err := NewPairsDataset(path, 2, 50, 6)
	assert.NoError(t, err)
	defer dataset.Close()

	_, inputs, labels, err := dataset.Yield()
	assert.NoError(t, err)
	assert.Len(t, inputs, 2)
	assert.Len(t, labels, 1)
	assert.Equal(t, []int{2, 6}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, 6}, inputs[1].Shape().Dimensions)
	assert.Equal(t, []int{2, 6}, labels[0].Shape().Dimensions)

	// decoder inputs start at the start marker, and the labels are the
	// decoder inputs shifted one token to the left.
	startID := dataset.TargetVectorizer().TokenID(vocab.StartToken)
	decoderIDs := tensors.CopyFlatData[int64](inputs[1])
	labelIDs := tensors.CopyFlatData[int64](labels[0])
	for row := 0; row < 2; row++ {
		assert.Equal(t, startID, decoderIDs[row*6])
		assert.Equal(t, decoderIDs[row*6+1:(row+1)*6], labelIDs[row*6:(row+1)*6-1])
	}

	// 3 pairs in batches of 2: the second batch is cut short.
	_, inputs, _, err = dataset.Yield()
	assert.NoError(t, err)
	assert.Equal(t, 1, inputs[0].Shape().Dimensions[0])

	_, _, _, err = dataset.Yield()
	assert.Equal(t, io.EOF, err)

	dataset.Reset()
	_, inputs, _, err = dataset.Yield()
	assert.NoError(t, err)
	assert.Equal(t, 2, inputs[0].Shape().Dimensions[0])
}

func TestPairsDatasetVocabularies(t *testing.T) {
	path := writePairsFile(t, []string{
		"good morning\tbuenos dias",
		"good night\tbuenas noches",
	})
	dataset, err := NewPairsDataset(path, 2, 50, 5)
	assert.NoError(t, err)
	defer dataset.Close()

	source := dataset.SourceVectorizer()
	target := dataset.TargetVectorizer()
	assert.Equal(t, 5, source.Config.SequenceLength)
	assert.Equal(t, 6, target.Config.SequenceLength)
	assert.NotEqual(t, vocab.UnkID, source.TokenID("morning"))
	assert.NotEqual(t, vocab.UnkID, target.TokenID("dias"))
	assert.NotEqual(t, vocab.UnkID, target.TokenID(vocab.StartToken))
	assert.NotEqual(t, vocab.UnkID, target.TokenID(vocab.EndToken))
	// markers belong to the target language only
	assert.Equal(t, vocab.UnkID, source.TokenID(vocab.StartToken))
}

func TestPairsDatasetErrors(t *testing.T) {
	_, err := NewPairsDataset("", 2, 50, 5)
	assert.Error(t, err)

	path := writePairsFile(t, []string{"a\tb"})
	_, err = NewPairsDataset(path, 0, 50, 5)
	assert.Error(t, err)

	malformed := writePairsFile(t, []string{"no tab on this line"})
	_, err = NewPairsDataset(malformed, 2, 50, 5)
	assert.Error(t, err)
}

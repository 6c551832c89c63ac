package pipelines

import (
	"math/rand"
	"testing"

	gotensors "github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"

	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/vocab"
)

func TestTranslationValidate(t *testing.T) {
	source, err := vocab.NewVectorizer(vocab.Config{MaxTokens: 20, SequenceLength: 20})
	assert.NoError(t, err)
	target, err := vocab.NewVectorizer(vocab.Config{
		MaxTokens:      20,
		SequenceLength: 21,
		Reserved:       []string{vocab.StartToken, vocab.EndToken},
	})
	assert.NoError(t, err)

	pipeline := &TranslationPipeline{
		BasePipeline: &BasePipeline{
			PipelineName: "spanish",
			Model:        &models.Model{Config: models.DefaultTranslatorConfig()},
		},
		SourceVectorizer: source,
		TargetVectorizer: target,
		MaxNewTokens:     20,
		Temperature:      1.0,
	}
	assert.NoError(t, pipeline.Validate())

	pipeline.Model.Config = models.DefaultSentimentConfig()
	assert.ErrorContains(t, pipeline.Validate(), "pipeline spanish loaded a sentiment model")

	pipeline.Model.Config = models.DefaultTranslatorConfig()
	pipeline.MaxNewTokens = 0
	assert.ErrorContains(t, pipeline.Validate(), "max new tokens")

	pipeline.MaxNewTokens = 20
	noMarkers, err := vocab.NewVectorizer(vocab.Config{MaxTokens: 20, SequenceLength: 21})
	assert.NoError(t, err)
	pipeline.TargetVectorizer = noMarkers
	assert.ErrorContains(t, pipeline.Validate(), "marker")
}

func TestLogitsAtStep(t *testing.T) {
	// batch 2, seqLen 2, vocab 3
	logits := gotensors.FromFlatDataAndDimensions([]float32{
		0.1, 0.2, 0.3,
		1.1, 1.2, 1.3,
		2.1, 2.2, 2.3,
		3.1, 3.2, 3.3,
	}, 2, 2, 3)
	defer logits.FinalizeAll()

	stepLogits, vocabSize, err := logitsAtStep(logits, 2, 1)
	assert.NoError(t, err)
	assert.Equal(t, 3, vocabSize)
	assert.Equal(t, []float32{1.1, 1.2, 1.3, 3.1, 3.2, 3.3}, stepLogits)

	_, _, err = logitsAtStep(logits, 2, 5)
	assert.Error(t, err)

	flat := gotensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 1, 3)
	defer flat.FinalizeAll()
	_, _, err = logitsAtStep(flat, 1, 0)
	assert.Error(t, err)
}

func TestArgmaxFromLogits(t *testing.T) {
	logits := gotensors.FromFlatDataAndDimensions([]float32{
		0.1, 0.9, 0.2,
		0.8, 0.1, 0.3,
	}, 2, 1, 3)
	defer logits.FinalizeAll()

	tokens, err := argmaxFromLogits(logits, 2, 0)
	assert.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, tokens)
}

func TestArgmaxFromLogitsSingleItem(t *testing.T) {
	logits := gotensors.FromFlatDataAndDimensions([]float32{0.1, 0.2, 0.7}, 1, 1, 3)
	defer logits.FinalizeAll()

	tokens, err := argmaxFromLogits(logits, 1, 0)
	assert.NoError(t, err)
	assert.Equal(t, []int64{2}, tokens)
}

func TestSampleTopP(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	// with a peaked distribution and a small topP the nucleus holds only
	// the highest-probability token
	probs := []float32{0.05, 0.9, 0.05}
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, sampleTopP(probs, 0.5, rng))
	}

	// with topP = 1 every sampled index must still be valid
	uniform := []float32{0.25, 0.25, 0.25, 0.25}
	for i := 0; i < 20; i++ {
		index := sampleTopP(uniform, 1.0, rng)
		assert.GreaterOrEqual(t, index, 0)
		assert.Less(t, index, 4)
	}
}

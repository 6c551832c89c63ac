package pipelines

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/vocab"
)

func TestSentimentValidate(t *testing.T) {
	vectorizer, err := vocab.NewVectorizer(vocab.Config{MaxTokens: 10, SequenceLength: 200})
	assert.NoError(t, err)

	pipeline := &SentimentPipeline{
		BasePipeline: &BasePipeline{
			PipelineName: "reviews",
			Model:        &models.Model{Config: models.DefaultSentimentConfig()},
		},
		IDLabelMap: map[int]string{0: "negative", 1: "positive"},
		Vectorizer: vectorizer,
	}
	assert.NoError(t, pipeline.Validate())

	pipeline.Model.Config = models.DefaultTranslatorConfig()
	err = pipeline.Validate()
	assert.ErrorContains(t, err, "pipeline reviews loaded a translator model")

	pipeline.Model.Config = models.DefaultSentimentConfig()
	pipeline.IDLabelMap = map[int]string{0: "negative"}
	assert.ErrorContains(t, pipeline.Validate(), "exactly two labels")

	pipeline.IDLabelMap = map[int]string{0: "negative", 1: "positive"}
	pipeline.Model.Config.SequenceLength = 100
	assert.ErrorContains(t, pipeline.Validate(), "sequence length")
}

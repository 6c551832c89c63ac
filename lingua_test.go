package lingua

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-analytics/lingua/datasets"
	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/pipelines"
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

func trainSentimentModel(t *testing.T) string {
	t.Helper()
	corpus := writeReviewCorpus(t, 5)
	dataset, err := datasets.NewReviewDataset(corpus, 4, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.NoError(t, err)

	modelConfig := models.DefaultSentimentConfig()
	modelConfig.EmbedDim = 8
	modelConfig.HiddenDim = 4

	session, err := NewGoTrainingSession[*pipelines.SentimentPipeline](TrainingConfig{
		ModelConfig: modelConfig,
		Dataset:     dataset,
		Options:     []TrainingOption{WithEpochs(1)},
	})
	assert.NoError(t, err)
	assert.NoError(t, session.Train())

	statistics := session.Statistics()
	assert.Len(t, statistics.EpochTrainLosses, 1)

	modelDir := t.TempDir()
	assert.NoError(t, session.Save(modelDir))
	assert.NoError(t, session.Destroy())
	assert.NoError(t, dataset.Close())
	return modelDir
}

func TestSentimentTrainingAndInference(t *testing.T) {
	modelDir := trainSentimentModel(t)

	session, err := NewGoSession()
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, session.Destroy())
	}()

	pipeline, err := NewPipeline(session, SentimentConfig{
		ModelPath: modelDir,
		Name:      "sentiment-test",
	})
	assert.NoError(t, err)

	result, err := pipeline.RunPipeline([]string{
		"this movie was great",
		"this movie was terrible",
	})
	assert.NoError(t, err)
	assert.Len(t, result.ClassificationOutputs, 2)
	for _, outputs := range result.ClassificationOutputs {
		assert.Len(t, outputs, 2)
		assert.GreaterOrEqual(t, outputs[0].Score, outputs[1].Score)
		var total float32
		for _, output := range outputs {
			assert.Contains(t, []string{"negative", "positive"}, output.Label)
			assert.GreaterOrEqual(t, output.Score, float32(0))
			assert.LessOrEqual(t, output.Score, float32(1))
			total += output.Score
		}
		assert.InDelta(t, 1.0, total, 1e-5)
	}

	assert.NotEmpty(t, session.GetStats())
}

func TestTrainingWithEvalAndEarlyStopping(t *testing.T) {
	corpus := writeReviewCorpus(t, 5)
	dataset, err := datasets.NewReviewDataset(corpus, 4, vocab.Config{MaxTokens: 50, SequenceLength: 8})
	assert.NoError(t, err)
	defer dataset.Close()

	evalCorpus := writeReviewCorpus(t, 3)
	evalDataset, err := datasets.NewReviewDatasetWithVectorizer(evalCorpus, 4, dataset.Vectorizer())
	assert.NoError(t, err)
	defer evalDataset.Close()

	modelConfig := models.DefaultSentimentConfig()
	modelConfig.EmbedDim = 8
	modelConfig.HiddenDim = 4

	// a tolerance no loss delta can reach forces the patience to run out
	// after the second epoch
	session, err := NewGoTrainingSession[*pipelines.SentimentPipeline](TrainingConfig{
		ModelConfig: modelConfig,
		Dataset:     dataset,
		EvalDataset: evalDataset,
		Options: []TrainingOption{
			WithEpochs(4),
			WithEarlyStoppingParams(1, 10),
		},
	})
	assert.NoError(t, err)
	assert.NoError(t, session.Train())
	defer func() {
		assert.NoError(t, session.Destroy())
	}()

	statistics := session.Statistics()
	assert.Len(t, statistics.EpochTrainLosses, 2)
	assert.Len(t, statistics.EpochEvalLosses, 2)
	for _, loss := range statistics.EpochEvalLosses {
		assert.Greater(t, loss, float32(0))
	}
}

func TestTranslationTrainingAndInference(t *testing.T) {
	path := writePairsFile(t, []string{
		"the cat sleeps\tel gato duerme",
		"the dog runs\tel perro corre",
		"the bird sings\tel pajaro canta",
	})
	dataset, err := datasets.NewPairsDataset(path, 2, 50, 6)
	assert.NoError(t, err)

	modelConfig := models.DefaultTranslatorConfig()
	modelConfig.EmbedDim = 8
	modelConfig.LatentDim = 16
	modelConfig.NumHeads = 2

	trainingSession, err := NewGoTrainingSession[*pipelines.TranslationPipeline](TrainingConfig{
		ModelConfig: modelConfig,
		Dataset:     dataset,
		Options:     []TrainingOption{WithEpochs(1)},
	})
	assert.NoError(t, err)
	assert.NoError(t, trainingSession.Train())

	modelDir := t.TempDir()
	assert.NoError(t, trainingSession.Save(modelDir))
	assert.NoError(t, trainingSession.Destroy())
	assert.NoError(t, dataset.Close())

	session, err := NewGoSession()
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, session.Destroy())
	}()

	pipeline, err := NewPipeline(session, TranslationConfig{
		ModelPath: modelDir,
		Name:      "translation-test",
	})
	assert.NoError(t, err)

	result, err := pipeline.RunPipeline([]string{"the cat sleeps"})
	assert.NoError(t, err)
	assert.Len(t, result.Translations, 1)
}

func TestSessionPipelineManagement(t *testing.T) {
	modelDir := trainSentimentModel(t)

	session, err := NewGoSession()
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, session.Destroy())
	}()

	config := SentimentConfig{ModelPath: modelDir, Name: "managed"}
	created, err := NewPipeline(session, config)
	assert.NoError(t, err)

	// a name is required and duplicates are rejected
	_, err = NewPipeline(session, SentimentConfig{ModelPath: modelDir})
	assert.Error(t, err)
	_, err = NewPipeline(session, config)
	assert.Error(t, err)

	fetched, err := GetPipeline[*pipelines.SentimentPipeline](session, "managed")
	assert.NoError(t, err)
	assert.Equal(t, created, fetched)

	_, err = GetPipeline[*pipelines.SentimentPipeline](session, "missing")
	assert.Error(t, err)

	assert.NoError(t, ClosePipeline[*pipelines.SentimentPipeline](session, "managed"))
	_, err = GetPipeline[*pipelines.SentimentPipeline](session, "managed")
	assert.Error(t, err)
}

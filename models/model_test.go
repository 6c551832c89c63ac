package models

import (
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"

	"github.com/meridian-analytics/lingua/options"
)

func tinySentimentConfig() *Config {
	return &Config{
		Kind:           KindSentiment,
		SequenceLength: 6,
		EmbedDim:       8,
		VocabSize:      50,
		HiddenDim:      4,
		IDLabelMap:     map[int]string{0: "negative", 1: "positive"},
	}
}

func tinyTranslatorConfig() *Config {
	return &Config{
		Kind:            KindTranslator,
		SequenceLength:  6,
		EmbedDim:        8,
		SourceVocabSize: 30,
		TargetVocabSize: 30,
		LatentDim:       16,
		NumHeads:        2,
	}
}

func TestCausalMask(t *testing.T) {
	exec := graph.NewExec(backends.New(), func(g *graph.Graph) *graph.Node {
		return CausalMask(g, 3)
	})
	mask := exec.Call()[0]
	assert.Equal(t, []int{3, 3}, mask.Shape().Dimensions)

	// lower triangular: position q may attend to positions k <= q
	expected := []bool{
		true, false, false,
		true, true, false,
		true, true, true,
	}
	assert.Equal(t, expected, tensors.CopyFlatData[bool](mask))
}

func TestClassifierForward(t *testing.T) {
	model, err := New(tinySentimentConfig(), "", options.Defaults())
	assert.NoError(t, err)
	defer model.Destroy()
	model.CompileInference()

	ids := tensors.FromFlatDataAndDimensions([]int64{
		3, 7, 12, 0, 0, 0,
		5, 5, 9, 22, 1, 0,
	}, 2, 6)
	outputs, err := model.Forward([]*tensors.Tensor{ids})
	assert.NoError(t, err)
	assert.Len(t, outputs, 1)
	assert.Equal(t, []int{2, 1}, outputs[0].Shape().Dimensions)
}

func TestTranslatorForward(t *testing.T) {
	model, err := New(tinyTranslatorConfig(), "", options.Defaults())
	assert.NoError(t, err)
	defer model.Destroy()
	model.CompileInference()

	sourceIDs := tensors.FromFlatDataAndDimensions([]int64{
		2, 8, 11, 0, 0, 0,
	}, 1, 6)
	targetIDs := tensors.FromFlatDataAndDimensions([]int64{
		2, 0, 0, 0, 0, 0,
	}, 1, 6)
	outputs, err := model.Forward([]*tensors.Tensor{sourceIDs, targetIDs})
	assert.NoError(t, err)
	assert.Len(t, outputs, 1)
	assert.Equal(t, []int{1, 6, 30}, outputs[0].Shape().Dimensions)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	model, err := New(tinySentimentConfig(), "", options.Defaults())
	assert.NoError(t, err)
	model.CompileInference()

	// forward pass materializes the variables that the checkpoint stores
	ids := tensors.FromFlatDataAndDimensions([]int64{1, 2, 3, 4, 5, 6}, 1, 6)
	before, err := model.Forward([]*tensors.Tensor{ids})
	assert.NoError(t, err)
	beforeLogit := tensors.CopyFlatData[float32](before[0])[0]

	assert.NoError(t, model.Save(dir))
	model.Destroy()

	restored, err := Load(dir, options.Defaults())
	assert.NoError(t, err)
	defer restored.Destroy()
	restored.CompileInference()

	after, err := restored.Forward([]*tensors.Tensor{ids})
	assert.NoError(t, err)
	assert.InDelta(t, beforeLogit, tensors.CopyFlatData[float32](after[0])[0], 1e-5)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	config := tinySentimentConfig()
	config.HiddenDim = 0
	_, err := New(config, "", options.Defaults())
	assert.Error(t, err)
}

package pipelines

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gomlx/gomlx/types/tensors"

	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/options"
	"github.com/meridian-analytics/lingua/util"
	"github.com/meridian-analytics/lingua/util/safeconv"
	"github.com/meridian-analytics/lingua/vocab"
)

// SentimentPipeline classifies texts as positive or negative using a trained
// sentiment model directory.
type SentimentPipeline struct {
	*BasePipeline
	IDLabelMap map[int]string
	Vectorizer *vocab.Vectorizer
}

type ClassificationOutput struct {
	Label string
	Score float32
}

type SentimentOutput struct {
	ClassificationOutputs [][]ClassificationOutput
}

func (t *SentimentOutput) GetOutput() []any {
	out := make([]any, len(t.ClassificationOutputs))
	for i, classificationOutput := range t.ClassificationOutputs {
		out[i] = any(classificationOutput)
	}
	return out
}

// NewSentimentPipeline initializes a sentiment classification pipeline from a
// model directory holding a checkpoint, config.json and vectorizer.json.
func NewSentimentPipeline(config PipelineConfig[*SentimentPipeline], opts *options.Options) (*SentimentPipeline, error) {
	defaultPipeline, err := NewBasePipeline(config.Name, config.ModelPath, opts)
	if err != nil {
		return nil, err
	}

	vectorizer, err := vocab.Load(util.PathJoinSafe(config.ModelPath, vocab.VectorizerFile))
	if err != nil {
		return nil, err
	}

	pipeline := &SentimentPipeline{
		BasePipeline: defaultPipeline,
		IDLabelMap:   defaultPipeline.Model.Config.IDLabelMap,
		Vectorizer:   vectorizer,
	}
	for _, o := range config.Options {
		o(pipeline)
	}

	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return pipeline, nil
}

// INTERFACE IMPLEMENTATIONS

func (p *SentimentPipeline) GetMetadata() PipelineMetadata {
	return PipelineMetadata{
		OutputsInfo: []OutputInfo{
			{
				Name:       "logits",
				Dimensions: []int64{-1, 1},
			},
		},
	}
}

// Validate checks that the pipeline is valid.
func (p *SentimentPipeline) Validate() error {
	var validationErrors []error

	if p.Model.Config.Kind != models.KindSentiment {
		validationErrors = append(validationErrors, fmt.Errorf("pipeline %s loaded a %s model, not a sentiment model", p.PipelineName, p.Model.Config.Kind))
	}
	if len(p.IDLabelMap) != 2 {
		validationErrors = append(validationErrors, fmt.Errorf("pipeline configuration invalid: id2label map must have exactly two labels"))
	}
	if p.Vectorizer.Config.SequenceLength != p.Model.Config.SequenceLength {
		validationErrors = append(validationErrors, fmt.Errorf("vectorizer sequence length %d does not match model sequence length %d",
			p.Vectorizer.Config.SequenceLength, p.Model.Config.SequenceLength))
	}
	return errors.Join(validationErrors...)
}

// Preprocess vectorizes the input strings into the batch input tensor.
func (p *SentimentPipeline) Preprocess(batch *PipelineBatch, inputs []string) error {
	start := time.Now()
	seqLen := p.Vectorizer.Config.SequenceLength
	ids := make([]int64, 0, len(inputs)*seqLen)
	for _, input := range inputs {
		ids = append(ids, p.Vectorizer.Vectorize(input)...)
	}
	batch.Input = inputs
	batch.InputValues = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(ids, len(inputs), seqLen),
	}
	atomic.AddUint64(&p.VectorizerTimings.NumCalls, 1)
	atomic.AddUint64(&p.VectorizerTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	return nil
}

// Forward performs the forward inference of the pipeline.
func (p *SentimentPipeline) Forward(batch *PipelineBatch) error {
	start := time.Now()
	outputs, err := p.Model.Forward(batch.InputValues)
	if err != nil {
		return err
	}
	batch.OutputValues = outputs
	atomic.AddUint64(&p.PipelineTimings.NumCalls, 1)
	atomic.AddUint64(&p.PipelineTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	return nil
}

// Postprocess converts the logits into per-label scores.
func (p *SentimentPipeline) Postprocess(batch *PipelineBatch) (*SentimentOutput, error) {
	if len(batch.OutputValues) == 0 {
		return nil, fmt.Errorf("no model outputs to postprocess")
	}
	logits := tensors.CopyFlatData[float32](batch.OutputValues[0])
	if len(logits) != len(batch.Input) {
		return nil, fmt.Errorf("expected %d logits, got %d", len(batch.Input), len(logits))
	}

	outputs := make([][]ClassificationOutput, len(logits))
	for i, logit := range logits {
		positive := util.Sigmoid(logit)
		scored := []ClassificationOutput{
			{Label: p.IDLabelMap[0], Score: 1 - positive},
			{Label: p.IDLabelMap[1], Score: positive},
		}
		// winning label first
		best, _, err := util.ArgMax([]float32{scored[0].Score, scored[1].Score})
		if err != nil {
			return nil, err
		}
		outputs[i] = []ClassificationOutput{scored[best], scored[1-best]}
	}
	return &SentimentOutput{ClassificationOutputs: outputs}, nil
}

// Run the pipeline on a batch of strings.
func (p *SentimentPipeline) Run(inputs []string) (PipelineBatchOutput, error) {
	return p.RunPipeline(inputs)
}

// RunPipeline is like Run, but returns the concrete sentiment output type
// rather than the interface.
func (p *SentimentPipeline) RunPipeline(inputs []string) (*SentimentOutput, error) {
	var runErrors []error
	batch := NewBatch()
	defer func() {
		runErrors = append(runErrors, batch.Destroy())
	}()

	runErrors = append(runErrors, p.Preprocess(batch, inputs))
	if e := errors.Join(runErrors...); e != nil {
		return nil, e
	}
	runErrors = append(runErrors, p.Forward(batch))
	if e := errors.Join(runErrors...); e != nil {
		return nil, e
	}
	result, postErr := p.Postprocess(batch)
	runErrors = append(runErrors, postErr)
	return result, errors.Join(runErrors...)
}

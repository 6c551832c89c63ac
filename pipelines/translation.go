package pipelines

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	gotensors "github.com/gomlx/gomlx/types/tensors"
	"gorgonia.org/tensor"

	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/options"
	"github.com/meridian-analytics/lingua/util"
	"github.com/meridian-analytics/lingua/util/safeconv"
	"github.com/meridian-analytics/lingua/vocab"
)

// TranslationPipeline translates texts with a trained translator model
// directory. Decoding is autoregressive: the target sentence starts with the
// start marker and the model is re-run on the growing prefix until it emits
// the end marker or the sequence length is exhausted.
type TranslationPipeline struct {
	*BasePipeline
	SourceVectorizer *vocab.Vectorizer
	TargetVectorizer *vocab.Vectorizer
	MaxNewTokens     int
	DoSample         bool
	TopP             float32
	Temperature      float32
}

type TranslationOutput struct {
	Translations []string
}

func (t *TranslationOutput) GetOutput() []any {
	out := make([]any, len(t.Translations))
	for i, translation := range t.Translations {
		out[i] = any(translation)
	}
	return out
}

// PIPELINE OPTIONS

// WithMaxNewTokens caps the number of generated target tokens. The cap can
// never exceed the model's sequence length.
func WithMaxNewTokens(maxNewTokens int) PipelineOption[*TranslationPipeline] {
	return func(pipeline *TranslationPipeline) {
		pipeline.MaxNewTokens = maxNewTokens
	}
}

// WithSampling switches decoding from greedy argmax to nucleus sampling.
func WithSampling(topP, temperature float32) PipelineOption[*TranslationPipeline] {
	return func(pipeline *TranslationPipeline) {
		pipeline.DoSample = true
		pipeline.TopP = topP
		pipeline.Temperature = temperature
	}
}

// NewTranslationPipeline initializes a translation pipeline from a model
// directory holding a checkpoint, config.json and the source and target
// vectorizer files.
func NewTranslationPipeline(config PipelineConfig[*TranslationPipeline], opts *options.Options) (*TranslationPipeline, error) {
	defaultPipeline, err := NewBasePipeline(config.Name, config.ModelPath, opts)
	if err != nil {
		return nil, err
	}

	sourceVectorizer, err := vocab.Load(util.PathJoinSafe(config.ModelPath, vocab.SourceVectorizerFile))
	if err != nil {
		return nil, err
	}
	targetVectorizer, err := vocab.Load(util.PathJoinSafe(config.ModelPath, vocab.TargetVectorizerFile))
	if err != nil {
		return nil, err
	}

	pipeline := &TranslationPipeline{
		BasePipeline:     defaultPipeline,
		SourceVectorizer: sourceVectorizer,
		TargetVectorizer: targetVectorizer,
		MaxNewTokens:     defaultPipeline.Model.Config.SequenceLength,
		Temperature:      1.0,
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

func (p *TranslationPipeline) GetMetadata() PipelineMetadata {
	return PipelineMetadata{
		OutputsInfo: []OutputInfo{
			{
				Name:       "logits",
				Dimensions: []int64{-1, int64(p.Model.Config.SequenceLength), int64(p.Model.Config.TargetVocabSize)},
			},
		},
	}
}

func (p *TranslationPipeline) Validate() error {
	var validationErrors []error

	if p.Model.Config.Kind != models.KindTranslator {
		validationErrors = append(validationErrors, fmt.Errorf("pipeline %s loaded a %s model, not a translator model", p.PipelineName, p.Model.Config.Kind))
	}
	if p.SourceVectorizer.Config.SequenceLength != p.Model.Config.SequenceLength {
		validationErrors = append(validationErrors, fmt.Errorf("source vectorizer sequence length %d does not match model sequence length %d",
			p.SourceVectorizer.Config.SequenceLength, p.Model.Config.SequenceLength))
	}
	if p.TargetVectorizer.TokenID(vocab.StartToken) == vocab.UnkID || p.TargetVectorizer.TokenID(vocab.EndToken) == vocab.UnkID {
		validationErrors = append(validationErrors, fmt.Errorf("target vocabulary is missing the %s or %s marker", vocab.StartToken, vocab.EndToken))
	}
	if p.MaxNewTokens <= 0 || p.MaxNewTokens > p.Model.Config.SequenceLength {
		validationErrors = append(validationErrors, fmt.Errorf("max new tokens must be between 1 and the sequence length %d", p.Model.Config.SequenceLength))
	}
	if p.DoSample && (p.TopP <= 0 || p.TopP > 1) {
		validationErrors = append(validationErrors, fmt.Errorf("top-p must be in (0, 1]"))
	}
	return errors.Join(validationErrors...)
}

// Preprocess vectorizes the source sentences.
func (p *TranslationPipeline) Preprocess(batch *PipelineBatch, inputs []string) error {
	start := time.Now()
	seqLen := p.SourceVectorizer.Config.SequenceLength
	ids := make([]int64, 0, len(inputs)*seqLen)
	for _, input := range inputs {
		ids = append(ids, p.SourceVectorizer.Vectorize(input)...)
	}
	batch.Input = inputs
	batch.InputValues = []*gotensors.Tensor{
		gotensors.FromFlatDataAndDimensions(ids, len(inputs), seqLen),
	}
	atomic.AddUint64(&p.VectorizerTimings.NumCalls, 1)
	atomic.AddUint64(&p.VectorizerTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	return nil
}

// Forward runs the autoregressive generation loop. The target prefix tensor
// is rebuilt each step with the token chosen at the previous step, then the
// full encoder-decoder graph is re-executed on it.
func (p *TranslationPipeline) Forward(batch *PipelineBatch) error {
	start := time.Now()

	batchSize := len(batch.Input)
	seqLen := p.Model.Config.SequenceLength
	startID := p.TargetVectorizer.TokenID(vocab.StartToken)
	endID := p.TargetVectorizer.TokenID(vocab.EndToken)

	targetIDs := make([]int64, batchSize*seqLen)
	for i := 0; i < batchSize; i++ {
		targetIDs[i*seqLen] = startID
	}
	finished := make([]bool, batchSize)
	finishedCount := 0

	maxSteps := p.MaxNewTokens
	if maxSteps > seqLen-1 {
		maxSteps = seqLen - 1
	}

	for step := 0; step < maxSteps && finishedCount < batchSize; step++ {
		targetTensor := gotensors.FromFlatDataAndDimensions(targetIDs, batchSize, seqLen)
		outputs, err := p.Model.Forward([]*gotensors.Tensor{batch.InputValues[0], targetTensor})
		if err != nil {
			targetTensor.FinalizeAll()
			return fmt.Errorf("decoder step %d failed: %w", step, err)
		}
		logits := outputs[0]

		var nextTokens []int64
		if p.DoSample {
			nextTokens, err = p.sampleFromLogits(logits, batchSize, step)
		} else {
			nextTokens, err = argmaxFromLogits(logits, batchSize, step)
		}
		targetTensor.FinalizeAll()
		logits.FinalizeAll()
		if err != nil {
			return fmt.Errorf("failed to get next tokens at step %d: %w", step, err)
		}

		for i := 0; i < batchSize; i++ {
			if finished[i] {
				continue
			}
			token := nextTokens[i]
			targetIDs[i*seqLen+step+1] = token
			if token == endID {
				finished[i] = true
				finishedCount++
			}
		}
	}

	batch.OutputValues = []*gotensors.Tensor{
		gotensors.FromFlatDataAndDimensions(targetIDs, batchSize, seqLen),
	}
	atomic.AddUint64(&p.PipelineTimings.NumCalls, 1)
	atomic.AddUint64(&p.PipelineTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	return nil
}

// argmaxFromLogits picks the highest-scoring token at the given step for
// every batch item. logits is [batch, seqLen, vocabSize].
func argmaxFromLogits(logits *gotensors.Tensor, batchSize, step int) ([]int64, error) {
	stepLogits, vocabSize, err := logitsAtStep(logits, batchSize, step)
	if err != nil {
		return nil, err
	}

	dense := tensor.New(tensor.WithShape(batchSize, vocabSize), tensor.WithBacking(stepLogits))
	argmax, err := tensor.Argmax(dense, 1)
	if err != nil {
		return nil, err
	}
	tokens := make([]int64, batchSize)
	switch indices := argmax.Data().(type) {
	case []int:
		for i, index := range indices {
			tokens[i] = int64(index)
		}
	case int: // a single-element result is unwrapped to a scalar
		tokens[0] = int64(indices)
	default:
		return nil, fmt.Errorf("unexpected argmax result type %T", argmax.Data())
	}
	return tokens, nil
}

func (p *TranslationPipeline) sampleFromLogits(logits *gotensors.Tensor, batchSize, step int) ([]int64, error) {
	stepLogits, vocabSize, err := logitsAtStep(logits, batchSize, step)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- not used for crypto

	tokens := make([]int64, batchSize)
	for i := 0; i < batchSize; i++ {
		batchLogits := stepLogits[i*vocabSize : (i+1)*vocabSize]
		if p.Temperature != 1.0 && p.Temperature > 0 {
			scaled := make([]float32, vocabSize)
			for j, l := range batchLogits {
				scaled[j] = l / p.Temperature
			}
			batchLogits = scaled
		}
		probs := util.SoftMax(batchLogits)
		tokens[i] = int64(sampleTopP(probs, p.TopP, rng))
	}
	return tokens, nil
}

// logitsAtStep extracts the [batch, vocabSize] slice of logits for the
// current decode position from the [batch, seqLen, vocabSize] output.
func logitsAtStep(logits *gotensors.Tensor, batchSize, step int) ([]float32, int, error) {
	shape := logits.Shape()
	if shape.Rank() != 3 {
		return nil, 0, fmt.Errorf("expected logits rank 3, got %d", shape.Rank())
	}
	seqLen := shape.Dimensions[1]
	vocabSize := shape.Dimensions[2]
	if step >= seqLen {
		return nil, 0, fmt.Errorf("step %d out of range for sequence length %d", step, seqLen)
	}

	logitsData := gotensors.CopyFlatData[float32](logits)
	stepLogits := make([]float32, batchSize*vocabSize)
	for i := 0; i < batchSize; i++ {
		offset := i*seqLen*vocabSize + step*vocabSize
		copy(stepLogits[i*vocabSize:(i+1)*vocabSize], logitsData[offset:offset+vocabSize])
	}
	return stepLogits, vocabSize, nil
}

// sampleTopP implements nucleus (top-p) sampling over a probability
// distribution, using the provided random source.
func sampleTopP(probs []float32, topP float32, rng *rand.Rand) int {
	type indexedProb struct {
		index int
		prob  float32
	}
	indexed := make([]indexedProb, len(probs))
	for i, prob := range probs {
		indexed[i] = indexedProb{i, prob}
	}
	sort.Slice(indexed, func(i, j int) bool {
		return indexed[i].prob > indexed[j].prob
	})

	// Find the smallest set of tokens with cumulative probability >= topP
	var cumSum float32
	cutoff := 0
	for i, ip := range indexed {
		cumSum += ip.prob
		if cumSum >= topP {
			cutoff = i + 1
			break
		}
	}
	if cutoff == 0 {
		cutoff = 1
	}

	nucleus := indexed[:cutoff]
	var nucSum float32
	for _, ip := range nucleus {
		nucSum += ip.prob
	}

	r := rng.Float32() * nucSum
	var cumProb float32
	for _, ip := range nucleus {
		cumProb += ip.prob
		if r <= cumProb {
			return ip.index
		}
	}
	return nucleus[len(nucleus)-1].index
}

// Postprocess turns the generated token ids back into text, stripping the
// start and end markers and padding.
func (p *TranslationPipeline) Postprocess(batch *PipelineBatch) (*TranslationOutput, error) {
	if len(batch.OutputValues) == 0 {
		return nil, fmt.Errorf("no generated tokens to postprocess")
	}
	seqLen := p.Model.Config.SequenceLength
	endID := p.TargetVectorizer.TokenID(vocab.EndToken)
	generated := gotensors.CopyFlatData[int64](batch.OutputValues[0])

	translations := make([]string, len(batch.Input))
	for i := range translations {
		row := generated[i*seqLen : (i+1)*seqLen]
		var kept []int64
		for _, id := range row[1:] { // skip the start marker
			if id == endID || id == vocab.PadID {
				break
			}
			kept = append(kept, id)
		}
		translations[i] = p.TargetVectorizer.Detokenize(kept)
	}
	return &TranslationOutput{Translations: translations}, nil
}

// Run the pipeline on a batch of strings.
func (p *TranslationPipeline) Run(inputs []string) (PipelineBatchOutput, error) {
	return p.RunPipeline(inputs)
}

// RunPipeline is like Run, but returns the concrete translation output type
// rather than the interface.
func (p *TranslationPipeline) RunPipeline(inputs []string) (*TranslationOutput, error) {
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

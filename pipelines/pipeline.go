package pipelines

import (
	"fmt"
	"math"
	"time"

	"github.com/gomlx/gomlx/types/tensors"

	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/options"
	"github.com/meridian-analytics/lingua/util/safeconv"
)

// BasePipeline can be embedded by a pipeline.
type BasePipeline struct {
	PipelineName      string
	Model             *models.Model
	PipelineTimings   *Timings
	VectorizerTimings *Timings
}

type Timings struct {
	NumCalls uint64
	TotalNS  uint64
}

type OutputInfo struct {
	Name       string
	Dimensions []int64
}

type PipelineMetadata struct {
	OutputsInfo []OutputInfo
}

type PipelineBatchOutput interface {
	GetOutput() []any
}

// Pipeline is the interface that any pipeline must implement.
type Pipeline interface {
	GetStats() []string                        // Get the pipeline running stats
	Validate() error                           // Validate the pipeline for correctness
	GetMetadata() PipelineMetadata             // Return metadata information for the pipeline
	GetModel() *models.Model                   // Return the model used by the pipeline
	Run([]string) (PipelineBatchOutput, error) // Run the pipeline on an input
}

// PipelineOption is an option for a pipeline type.
type PipelineOption[T Pipeline] func(eo T)

// PipelineConfig is a configuration for a pipeline type that can be used
// to create that pipeline.
type PipelineConfig[T Pipeline] struct {
	ModelPath string
	Name      string
	Options   []PipelineOption[T]
}

// PipelineBatch represents a batch of inputs that runs through the pipeline.
type PipelineBatch struct {
	Input        []string
	InputValues  []*tensors.Tensor
	OutputValues []*tensors.Tensor
}

func NewBatch() *PipelineBatch {
	return &PipelineBatch{}
}

// Destroy releases the input and output tensors of the batch.
func (b *PipelineBatch) Destroy() error {
	for _, tensor := range b.InputValues {
		tensor.FinalizeAll()
	}
	for _, tensor := range b.OutputValues {
		tensor.FinalizeAll()
	}
	b.InputValues = nil
	b.OutputValues = nil
	return nil
}

// NewBasePipeline loads the model from modelPath and compiles it for
// inference on the backend selected by opts.
func NewBasePipeline(name string, modelPath string, opts *options.Options) (*BasePipeline, error) {
	model, err := models.Load(modelPath, opts)
	if err != nil {
		return nil, err
	}
	model.CompileInference()
	return &BasePipeline{
		PipelineName:      name,
		Model:             model,
		PipelineTimings:   &Timings{},
		VectorizerTimings: &Timings{},
	}, nil
}

func (p *BasePipeline) GetModel() *models.Model {
	return p.Model
}

// GetStats returns the runtime statistics for the pipeline.
func (p *BasePipeline) GetStats() []string {
	return []string{
		fmt.Sprintf("Statistics for pipeline: %s", p.PipelineName),
		fmt.Sprintf("Vectorizer: Total time=%s, Execution count=%d, Average query time=%s",
			safeconv.U64ToDuration(p.VectorizerTimings.TotalNS),
			p.VectorizerTimings.NumCalls,
			time.Duration(float64(p.VectorizerTimings.TotalNS)/math.Max(1, float64(p.VectorizerTimings.NumCalls)))),
		fmt.Sprintf("Model: Total time=%s, Execution count=%d, Average query time=%s",
			safeconv.U64ToDuration(p.PipelineTimings.TotalNS),
			p.PipelineTimings.NumCalls,
			time.Duration(float64(p.PipelineTimings.TotalNS)/math.Max(1, float64(p.PipelineTimings.NumCalls)))),
	}
}

package lingua

import (
	"fmt"
	"io"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/pipelines"
)

type GOMLXTrainingOptions struct {
	Optimizer optimizers.Interface
	Loss      losses.LossFn
}

func NewGoTrainingSession[T pipelines.Pipeline](config TrainingConfig) (*TrainingSession, error) {
	s, err := newTrainingSession[T]("GO", config)
	if err != nil {
		return nil, err
	}
	return newGoMLXTrainingSession(s)
}

func NewXLATrainingSession[T pipelines.Pipeline](config TrainingConfig) (*TrainingSession, error) {
	s, err := newTrainingSession[T]("XLA", config)
	if err != nil {
		return nil, err
	}
	return newGoMLXTrainingSession(s)
}

func newGoMLXTrainingSession(s *TrainingSession) (*TrainingSession, error) {

	// set defaults
	if s.config.GOMLXTrainingOptions == nil {
		s.config.GOMLXTrainingOptions = &GOMLXTrainingOptions{}
	}
	if s.config.GOMLXTrainingOptions.Optimizer == nil {
		s.config.GOMLXTrainingOptions.Optimizer = optimizers.Adam().Done()
	}
	if s.config.GOMLXTrainingOptions.Loss == nil {
		switch s.model.Config.Kind {
		case models.KindSentiment:
			s.config.GOMLXTrainingOptions.Loss = losses.BinaryCrossentropyLogits
		case models.KindTranslator:
			s.config.GOMLXTrainingOptions.Loss = MaskedSparseCategoricalCrossEntropy
		default:
			return nil, fmt.Errorf("loss function is required")
		}
	}
	return s, nil
}

func TrainGoMLX(s *TrainingSession) error {
	model := s.model
	backend := model.Backend
	ctx := model.Ctx

	modelFn := func(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
		return model.Call(ctx, inputs)
	}

	gomlxTrainer := train.NewTrainer(backend,
		ctx,
		modelFn,
		s.config.GOMLXTrainingOptions.Loss,
		s.config.GOMLXTrainingOptions.Optimizer,
		nil,
		nil)

	loop := train.NewLoop(gomlxTrainer)

	if s.config.Verbose {
		fmt.Printf("Training for up to %d epochs\n", s.maxEpochs)
	}

	var bestEvalLoss float32
	epochsWithoutImprovement := 0

	for epoch := 0; epoch < s.maxEpochs; epoch++ {
		var metrics []*tensors.Tensor

		// we rely on try catch because an error is returned if there is an initialization error but
		// a panic will be thrown if e.g. dataset reset fails.
		err := exceptions.TryCatch[error](func() {
			var runErr error
			metrics, runErr = loop.RunEpochs(s.config.Dataset, 1)
			if runErr != nil {
				panic(runErr)
			}
		})
		if err != nil {
			return err
		}

		trainLoss := float32(0)
		if len(metrics) > 0 {
			trainLoss = tensors.CopyFlatData[float32](metrics[0])[0]
		}
		s.statistics.EpochTrainLosses = append(s.statistics.EpochTrainLosses, trainLoss)
		if s.config.Verbose {
			fmt.Printf("epoch %d: train loss %f\n", epoch, trainLoss)
		}

		if s.config.EvalDataset == nil {
			continue
		}

		evalLoss, err := s.evalLoss()
		if err != nil {
			return err
		}
		s.statistics.EpochEvalLosses = append(s.statistics.EpochEvalLosses, evalLoss)
		if s.config.Verbose {
			fmt.Printf("epoch %d: eval loss %f\n", epoch, evalLoss)
		}

		if s.earlyStopping != nil {
			if epoch == 0 || bestEvalLoss-evalLoss > s.earlyStopping.tolerance {
				bestEvalLoss = evalLoss
				epochsWithoutImprovement = 0
			} else {
				epochsWithoutImprovement++
				if epochsWithoutImprovement >= s.earlyStopping.patience {
					if s.config.Verbose {
						fmt.Printf("stopping early after %d epochs without improvement\n", epochsWithoutImprovement)
					}
					break
				}
			}
		}
	}

	if s.config.Verbose {
		fmt.Println("Training complete")
	}
	return nil
}

// evalLoss runs a full pass over the evaluation dataset and returns the mean
// batch loss, without updating any weights.
func (s *TrainingSession) evalLoss() (float32, error) {
	model := s.model
	lossFn := s.config.GOMLXTrainingOptions.Loss

	numInputs := 1
	if model.Config.Kind == models.KindTranslator {
		numInputs = 2
	}

	lossExec := context.NewExec(model.Backend, model.Ctx.Reuse(), func(ctx *context.Context, nodes []*graph.Node) *graph.Node {
		predictions := model.Call(ctx, nodes[:numInputs])
		loss := lossFn(nodes[numInputs:], predictions)
		if loss.Shape().Rank() != 0 {
			// loss functions may return per-example losses
			loss = graph.ReduceAllMean(loss)
		}
		return loss
	})
	lossExec.SetMaxCache(-1)
	defer lossExec.Finalize()

	var totalLoss float32
	batches := 0
	for {
		_, inputs, labels, err := s.config.EvalDataset.Yield()
		if err == io.EOF {
			s.config.EvalDataset.Reset()
			break
		}
		if err != nil {
			return 0, err
		}

		var outputs []*tensors.Tensor
		execErr := exceptions.TryCatch[error](func() {
			outputs = lossExec.Call(append(inputs, labels...))
		})
		finalizeBatchTensors(inputs, labels)
		if execErr != nil {
			return 0, execErr
		}
		totalLoss += tensors.CopyFlatData[float32](outputs[0])[0]
		outputs[0].FinalizeAll()
		batches++
	}
	if batches == 0 {
		return 0, fmt.Errorf("evaluation dataset yielded no batches")
	}
	return totalLoss / float32(batches), nil
}

func finalizeBatchTensors(inputs, labels []*tensors.Tensor) {
	for _, t := range inputs {
		t.FinalizeAll()
	}
	for _, t := range labels {
		t.FinalizeAll()
	}
}

// MaskedSparseCategoricalCrossEntropy is the loss for next-token prediction
// over padded sequences. labels[0] is [batch, seqLen] int64 token ids,
// predictions[0] is [batch, seqLen, vocabSize] float32 logits. Positions
// where the label is the padding id do not contribute to the loss.
func MaskedSparseCategoricalCrossEntropy(labels, predictions []*graph.Node) *graph.Node {
	labelIDs := labels[0]
	logits := predictions[0]
	if labelIDs.Shape().Rank() != 2 {
		exceptions.Panicf("expected rank 2 labels, got %d (shape=%s)", labelIDs.Shape().Rank(), labelIDs.Shape())
	}
	if logits.Shape().Rank() != 3 {
		exceptions.Panicf("expected rank 3 logits, got %d (shape=%s)", logits.Shape().Rank(), logits.Shape())
	}
	vocabSize := logits.Shape().Dimensions[2]

	logProbs := graph.LogSoftmax(logits, -1)
	oneHot := graph.OneHot(labelIDs, vocabSize, dtypes.Float32)
	perToken := graph.Neg(graph.ReduceSum(graph.Mul(oneHot, logProbs), -1))

	mask := graph.NotEqual(labelIDs, graph.ZerosLike(labelIDs))
	return graph.MaskedReduceMean(perToken, mask)
}

package lingua

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/meridian-analytics/lingua/datasets"
	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/options"
	"github.com/meridian-analytics/lingua/pipelines"
	"github.com/meridian-analytics/lingua/util"
	"github.com/meridian-analytics/lingua/vocab"
)

type earlyStopping struct {
	patience  int     // number of epochs to wait for improvement before stopping
	tolerance float32 // tolerance for loss comparison
}

type TrainingStatistics struct {
	EpochTrainLosses []float32 `json:"epochTrainLosses"` // stores the training loss for each epoch
	EpochEvalLosses  []float32 `json:"epochEvalLosses"`  // stores the evaluation loss for each epoch
}

type TrainingSession struct {
	backend       string
	model         *models.Model
	config        TrainingConfig
	cuda          bool
	maxEpochs     int
	earlyStopping *earlyStopping
	statistics    TrainingStatistics
}

// GetModel returns the model being trained.
func (s *TrainingSession) GetModel() *models.Model {
	return s.model
}

// Statistics returns the per-epoch losses recorded so far.
func (s *TrainingSession) Statistics() TrainingStatistics {
	return s.statistics
}

func (s *TrainingSession) Destroy() error {
	if s.model != nil {
		s.model.Destroy()
		s.model = nil
	}
	return nil
}

type TrainingOption func(eo *TrainingSession) error

func WithEpochs(epochs int) TrainingOption {
	return func(eo *TrainingSession) error {
		if epochs <= 0 {
			return fmt.Errorf("epochs must be greater than 0")
		}
		eo.maxEpochs = epochs
		return nil
	}
}

func WithCuda() TrainingOption {
	return func(eo *TrainingSession) error {
		eo.cuda = true
		return nil
	}
}

func WithEarlyStopping() TrainingOption {
	return WithEarlyStoppingParams(3, 1e-4) // default patience and tolerance
}

func WithEarlyStoppingParams(patience int, tolerance float32) TrainingOption {
	return func(eo *TrainingSession) error {
		if eo.config.EvalDataset == nil {
			return fmt.Errorf("early stopping requires an evaluation dataset")
		}
		if patience <= 0 {
			return fmt.Errorf("patience must be greater than 0")
		}
		if tolerance <= 0 {
			return fmt.Errorf("tolerance must be greater than 0")
		}
		eo.earlyStopping = &earlyStopping{
			patience:  patience,
			tolerance: tolerance,
		}
		return nil
	}
}

type TrainingConfig struct {
	ModelConfig          *models.Config
	Dataset              datasets.Dataset
	EvalDataset          datasets.Dataset // optional, used for early stopping and eval metrics
	Options              []TrainingOption
	Verbose              bool
	GOMLXTrainingOptions *GOMLXTrainingOptions
}

func newTrainingSession[T pipelines.Pipeline](backend string, config TrainingConfig) (*TrainingSession, error) {
	session := &TrainingSession{
		config:  config,
		backend: backend,
	}

	var trainingPipeline T
	var err error

	opts := options.Defaults()
	opts.Backend = backend

	for _, opt := range config.Options {
		if err = opt(session); err != nil {
			return nil, err
		}
	}

	switch backend {
	case "XLA":
		opts.GoMLXOptions.XLA = true
		opts.GoMLXOptions.Cuda = session.cuda
	case "GO":
	default:
		return nil, fmt.Errorf("runtime %s is not supported", backend)
	}

	if session.maxEpochs <= 0 {
		session.maxEpochs = 100 // default to 100 epochs if not set
	}
	if config.Dataset == nil {
		return nil, fmt.Errorf("a training dataset is required")
	}
	if config.ModelConfig == nil {
		return nil, fmt.Errorf("a model config is required")
	}

	// hook the model architecture up with the dataset vocabularies
	switch any(trainingPipeline).(type) {
	case *pipelines.SentimentPipeline:
		if config.ModelConfig.Kind != models.KindSentiment {
			return nil, fmt.Errorf("sentiment training requires a %s model config, got %s", models.KindSentiment, config.ModelConfig.Kind)
		}
		trainDS, ok := config.Dataset.(*datasets.ReviewDataset)
		if !ok {
			return nil, fmt.Errorf("expected ReviewDataset for train dataset, got %T", config.Dataset)
		}
		config.ModelConfig.VocabSize = trainDS.Vectorizer().Config.MaxTokens
		config.ModelConfig.SequenceLength = trainDS.Vectorizer().Config.SequenceLength
		if config.EvalDataset != nil {
			if _, ok := config.EvalDataset.(*datasets.ReviewDataset); !ok {
				return nil, fmt.Errorf("expected ReviewDataset for eval dataset, got %T", config.EvalDataset)
			}
		}
	case *pipelines.TranslationPipeline:
		if config.ModelConfig.Kind != models.KindTranslator {
			return nil, fmt.Errorf("translation training requires a %s model config, got %s", models.KindTranslator, config.ModelConfig.Kind)
		}
		trainDS, ok := config.Dataset.(*datasets.PairsDataset)
		if !ok {
			return nil, fmt.Errorf("expected PairsDataset for train dataset, got %T", config.Dataset)
		}
		config.ModelConfig.SourceVocabSize = trainDS.SourceVectorizer().Config.MaxTokens
		config.ModelConfig.TargetVocabSize = trainDS.TargetVectorizer().Config.MaxTokens
		config.ModelConfig.SequenceLength = trainDS.SourceVectorizer().Config.SequenceLength
		if config.EvalDataset != nil {
			if _, ok := config.EvalDataset.(*datasets.PairsDataset); !ok {
				return nil, fmt.Errorf("expected PairsDataset for eval dataset, got %T", config.EvalDataset)
			}
		}
	default:
		return nil, fmt.Errorf("training for pipeline type is not supported")
	}
	session.config = config

	model, err := models.New(config.ModelConfig, "", opts)
	if err != nil {
		return nil, err
	}
	session.model = model

	if config.Verbose {
		config.Dataset.SetVerbose(true)
		if config.EvalDataset != nil {
			config.EvalDataset.SetVerbose(true)
		}
	}
	return session, nil
}

func (s *TrainingSession) Train() error {
	switch s.backend {
	case "GO", "XLA":
		return TrainGoMLX(s)
	default:
		return fmt.Errorf("training runtime %s is not supported", s.backend)
	}
}

// Save writes the trained model directory: checkpoint, config.json, the
// vectorizer files from the training dataset and the per-epoch training
// statistics. The directory can afterwards be loaded by a pipeline.
func (s *TrainingSession) Save(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}

	if err := s.model.Save(path); err != nil {
		return err
	}

	switch dataset := s.config.Dataset.(type) {
	case *datasets.ReviewDataset:
		if err := dataset.Vectorizer().Save(util.PathJoinSafe(path, vocab.VectorizerFile)); err != nil {
			return err
		}
	case *datasets.PairsDataset:
		if err := dataset.SourceVectorizer().Save(util.PathJoinSafe(path, vocab.SourceVectorizerFile)); err != nil {
			return err
		}
		if err := dataset.TargetVectorizer().Save(util.PathJoinSafe(path, vocab.TargetVectorizerFile)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot persist vectorizers for dataset type %T", dataset)
	}

	var writeErr error
	statisticsWriter, err := util.NewFileWriter(util.PathJoinSafe(path, "statistics.json"))
	if err != nil {
		return err
	}
	defer func() {
		writeErr = errors.Join(writeErr, statisticsWriter.Close())
	}()

	statisticsBytes, err := jsoniter.Marshal(s.statistics)
	if err != nil {
		return fmt.Errorf("failed to marshal training statistics: %w", err)
	}
	if _, err = statisticsWriter.Write(statisticsBytes); err != nil {
		return fmt.Errorf("failed to write training statistics: %w", err)
	}
	return writeErr
}

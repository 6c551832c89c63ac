package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/meridian-analytics/lingua"
	"github.com/meridian-analytics/lingua/datasets"
	"github.com/meridian-analytics/lingua/models"
	"github.com/meridian-analytics/lingua/options"
	"github.com/meridian-analytics/lingua/pipelines"
	"github.com/meridian-analytics/lingua/vocab"
)

// Known corpus download locations.
var corpusURLs = map[string]string{
	"reviews": "https://ai.stanford.edu/~amaas/data/sentiment/aclImdb_v1.tar.gz",
	"pairs":   "https://storage.googleapis.com/download.tensorflow.org/data/spa-eng.zip",
}

var corpusName string
var corpusURL string
var outputPath string
var taskName string
var dataPath string
var evalPath string
var modelPath string
var epochs int
var batchSize int
var maxTokens int
var sequenceLength int
var useXLA bool
var useCuda bool
var verbose bool
var doSample bool
var topP float64
var temperature float64

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download and extract a training corpus",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "corpus",
			Usage:       "Corpus to download: reviews (sentiment) or pairs (translation)",
			Aliases:     []string{"c"},
			Destination: &corpusName,
		},
		&cli.StringFlag{
			Name:        "url",
			Usage:       "Download from an explicit archive URL instead of a named corpus",
			Aliases:     []string{"u"},
			Destination: &corpusURL,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Directory to extract the corpus into",
			Aliases:     []string{"o"},
			Destination: &outputPath,
			Required:    true,
		},
	},
	Action: func(ctx *cli.Context) error {
		url := corpusURL
		if url == "" {
			known, ok := corpusURLs[corpusName]
			if !ok {
				return fmt.Errorf("unknown corpus %q, use --url or one of: reviews, pairs", corpusName)
			}
			url = known
		}
		downloadOptions := datasets.NewDownloadOptions()
		downloadOptions.Verbose = true
		return datasets.Download(url, outputPath, downloadOptions)
	},
}

var trainCommand = &cli.Command{
	Name:  "train",
	Usage: "Train a sentiment or translation model from scratch",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "task",
			Usage:       "Task to train: sentiment or translation",
			Aliases:     []string{"t"},
			Destination: &taskName,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "data",
			Usage:       "Training data: a review directory with pos/ and neg/ for sentiment, a tab-separated pairs file for translation",
			Aliases:     []string{"d"},
			Destination: &dataPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "eval",
			Usage:       "Optional evaluation data in the same format as --data",
			Destination: &evalPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Directory to save the trained model into",
			Aliases:     []string{"o"},
			Destination: &outputPath,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "epochs",
			Usage:       "Number of training epochs",
			Aliases:     []string{"e"},
			Destination: &epochs,
			Value:       10,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Number of examples per training batch",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Value:       32,
		},
		&cli.IntFlag{
			Name:        "maxTokens",
			Usage:       "Vocabulary size, 0 keeps the task default",
			Destination: &maxTokens,
		},
		&cli.IntFlag{
			Name:        "sequenceLength",
			Usage:       "Sequence length in tokens, 0 keeps the task default",
			Destination: &sequenceLength,
		},
		&cli.BoolFlag{
			Name:        "xla",
			Usage:       "Train on the XLA backend (requires the XLA build tag)",
			Destination: &useXLA,
		},
		&cli.BoolFlag{
			Name:        "cuda",
			Usage:       "Enable CUDA acceleration (XLA only)",
			Destination: &useCuda,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Usage:       "Print per-epoch progress",
			Aliases:     []string{"v"},
			Destination: &verbose,
		},
	},
	Action: func(ctx *cli.Context) error {
		switch taskName {
		case "sentiment":
			return trainSentiment()
		case "translation":
			return trainTranslation()
		default:
			return fmt.Errorf("unknown task %q, expected sentiment or translation", taskName)
		}
	},
}

func trainingOptions() []lingua.TrainingOption {
	opts := []lingua.TrainingOption{lingua.WithEpochs(epochs)}
	if useCuda {
		opts = append(opts, lingua.WithCuda())
	}
	return opts
}

func trainSentiment() error {
	modelConfig := models.DefaultSentimentConfig()
	vocabConfig := vocab.Config{
		MaxTokens:      modelConfig.VocabSize,
		SequenceLength: modelConfig.SequenceLength,
	}
	if maxTokens > 0 {
		vocabConfig.MaxTokens = maxTokens
	}
	if sequenceLength > 0 {
		vocabConfig.SequenceLength = sequenceLength
	}

	dataset, err := datasets.NewReviewDataset(dataPath, batchSize, vocabConfig)
	if err != nil {
		return err
	}
	defer dataset.Close()

	config := lingua.TrainingConfig{
		ModelConfig: modelConfig,
		Dataset:     dataset,
		Options:     trainingOptions(),
		Verbose:     verbose,
	}
	if evalPath != "" {
		evalDataset, err := datasets.NewReviewDatasetWithVectorizer(evalPath, batchSize, dataset.Vectorizer())
		if err != nil {
			return err
		}
		defer evalDataset.Close()
		config.EvalDataset = evalDataset
	}
	return runTraining[*pipelines.SentimentPipeline](config)
}

func trainTranslation() error {
	modelConfig := models.DefaultTranslatorConfig()
	vocabSize := modelConfig.SourceVocabSize
	if maxTokens > 0 {
		vocabSize = maxTokens
	}
	seqLen := modelConfig.SequenceLength
	if sequenceLength > 0 {
		seqLen = sequenceLength
	}

	dataset, err := datasets.NewPairsDataset(dataPath, batchSize, vocabSize, seqLen)
	if err != nil {
		return err
	}
	defer dataset.Close()

	config := lingua.TrainingConfig{
		ModelConfig: modelConfig,
		Dataset:     dataset,
		Options:     trainingOptions(),
		Verbose:     verbose,
	}
	if evalPath != "" {
		evalDataset, err := datasets.NewPairsDatasetWithVectorizers(evalPath, batchSize,
			dataset.SourceVectorizer(), dataset.TargetVectorizer())
		if err != nil {
			return err
		}
		defer evalDataset.Close()
		config.EvalDataset = evalDataset
	}
	return runTraining[*pipelines.TranslationPipeline](config)
}

func runTraining[T pipelines.Pipeline](config lingua.TrainingConfig) error {
	var session *lingua.TrainingSession
	var err error
	if useXLA {
		session, err = lingua.NewXLATrainingSession[T](config)
	} else {
		session, err = lingua.NewGoTrainingSession[T](config)
	}
	if err != nil {
		return err
	}
	defer session.Destroy()

	if err := session.Train(); err != nil {
		return err
	}
	return session.Save(outputPath)
}

var classifyCommand = &cli.Command{
	Name:  "classify",
	Usage: "Classify the sentiment of input texts",
	Description: `Classify reads one text per line from the arguments or from stdin and prints
one json object per input with the label scores.`,
	Flags: inferenceFlags(),
	Action: func(ctx *cli.Context) error {
		inputs, err := collectInputs(ctx)
		if err != nil {
			return err
		}

		session, err := newInferenceSession()
		if err != nil {
			return err
		}
		defer session.Destroy()

		pipeline, err := lingua.NewPipeline(session, lingua.SentimentConfig{
			Name:      "sentiment",
			ModelPath: modelPath,
		})
		if err != nil {
			return err
		}

		output, err := pipeline.RunPipeline(inputs)
		if err != nil {
			return err
		}
		for i, scores := range output.ClassificationOutputs {
			if err := printJSON(map[string]any{"input": inputs[i], "scores": scores}); err != nil {
				return err
			}
		}
		if verbose {
			printStats(session)
		}
		return nil
	},
}

var translateCommand = &cli.Command{
	Name:  "translate",
	Usage: "Translate input texts",
	Description: `Translate reads one sentence per line from the arguments or from stdin and
prints one json object per input with the translation.`,
	Flags: append(inferenceFlags(),
		&cli.BoolFlag{
			Name:        "sample",
			Usage:       "Use nucleus sampling instead of greedy decoding",
			Destination: &doSample,
		},
		&cli.Float64Flag{
			Name:        "topP",
			Usage:       "Nucleus sampling probability mass",
			Destination: &topP,
			Value:       0.9,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Usage:       "Sampling temperature",
			Destination: &temperature,
			Value:       1.0,
		}),
	Action: func(ctx *cli.Context) error {
		inputs, err := collectInputs(ctx)
		if err != nil {
			return err
		}

		session, err := newInferenceSession()
		if err != nil {
			return err
		}
		defer session.Destroy()

		config := lingua.TranslationConfig{
			Name:      "translation",
			ModelPath: modelPath,
		}
		if doSample {
			config.Options = append(config.Options,
				pipelines.WithSampling(float32(topP), float32(temperature)))
		}

		pipeline, err := lingua.NewPipeline(session, config)
		if err != nil {
			return err
		}

		output, err := pipeline.RunPipeline(inputs)
		if err != nil {
			return err
		}
		for i, translation := range output.Translations {
			if err := printJSON(map[string]any{"input": inputs[i], "translation": translation}); err != nil {
				return err
			}
		}
		if verbose {
			printStats(session)
		}
		return nil
	},
}

func inferenceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Path to the trained model directory",
			Aliases:     []string{"m"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "xla",
			Usage:       "Run on the XLA backend (requires the XLA build tag)",
			Destination: &useXLA,
		},
		&cli.BoolFlag{
			Name:        "cuda",
			Usage:       "Enable CUDA acceleration (XLA only)",
			Destination: &useCuda,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Usage:       "Print pipeline statistics after the run",
			Aliases:     []string{"v"},
			Destination: &verbose,
		},
	}
}

func newInferenceSession() (*lingua.Session, error) {
	if useXLA {
		if useCuda {
			return lingua.NewXLASession(options.WithCuda())
		}
		return lingua.NewXLASession()
	}
	return lingua.NewGoSession()
}

// collectInputs takes the inputs from the command line arguments, or from
// stdin when arguments are absent and stdin is not a terminal.
func collectInputs(ctx *cli.Context) ([]string, error) {
	inputs := ctx.Args().Slice()
	if len(inputs) > 0 {
		return inputs, nil
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				inputs = append(inputs, line)
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			return nil, err
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs: pass texts as arguments or pipe them on stdin")
	}
	return inputs, nil
}

func printJSON(record map[string]any) error {
	data, err := jsoniter.Marshal(record)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func printStats(session *lingua.Session) {
	for _, line := range session.GetStats() {
		fmt.Fprintln(os.Stderr, line)
	}
}

func main() {
	app := &cli.App{
		Name:     "lingua",
		Usage:    "Train and run sentiment and translation models from the command line",
		Commands: []*cli.Command{downloadCommand, trainCommand, classifyCommand, translateCommand},
	}
	if err := app.Run(os.Args); err != nil {
		panic(err)
	}
}

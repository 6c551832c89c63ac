package datasets

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/gomlx/gomlx/types/tensors"

	"github.com/meridian-analytics/lingua/util"
	"github.com/meridian-analytics/lingua/vocab"
)

// PairsDataset yields batches of sentence pairs for translation training.
// The source file is tab-separated with one pair per line: the source
// sentence, a tab, then the target sentence.
//
// The target side is wrapped in the start and end markers and vectorized one
// token longer than the source side. Each batch carries two inputs, the
// source ids and the target ids without their last token, and one label
// tensor, the target ids without their first token, so the model is trained
// to predict every next token of the target sentence.
type PairsDataset struct {
	TrainingPath     string
	BatchSize        int
	sourceVectorizer *vocab.Vectorizer
	targetVectorizer *vocab.Vectorizer
	reader           *bufio.Reader
	sourceFile       io.ReadCloser
	batchN           int
	verbose          bool
}

// NewPairsDataset opens a tab-separated pairs file and adapts a source and a
// target vectorizer on its two columns. sequenceLength applies to the source
// side; the target vectorizer uses sequenceLength+1 to allow the
// offset-by-one split into decoder inputs and labels.
func NewPairsDataset(trainingPath string, batchSize int, maxTokens, sequenceLength int) (*PairsDataset, error) {
	d := &PairsDataset{
		TrainingPath: trainingPath,
		BatchSize:    batchSize,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	sourceTexts, targetTexts, err := d.readColumns()
	if err != nil {
		return nil, err
	}

	sourceVectorizer, err := vocab.NewVectorizer(vocab.Config{
		MaxTokens:      maxTokens,
		SequenceLength: sequenceLength,
	})
	if err != nil {
		return nil, err
	}
	sourceVectorizer.Adapt(sourceTexts)

	targetVectorizer, err := vocab.NewVectorizer(vocab.Config{
		MaxTokens:      maxTokens,
		SequenceLength: sequenceLength + 1,
		Reserved:       []string{vocab.StartToken, vocab.EndToken},
	})
	if err != nil {
		return nil, err
	}
	targetVectorizer.Adapt(targetTexts)

	d.sourceVectorizer = sourceVectorizer
	d.targetVectorizer = targetVectorizer

	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewPairsDatasetWithVectorizers reuses already adapted vectorizers, for an
// evaluation split sharing the training vocabularies.
func NewPairsDatasetWithVectorizers(trainingPath string, batchSize int, source, target *vocab.Vectorizer) (*PairsDataset, error) {
	d := &PairsDataset{
		TrainingPath:     trainingPath,
		BatchSize:        batchSize,
		sourceVectorizer: source,
		targetVectorizer: target,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *PairsDataset) Validate() error {
	if d.TrainingPath == "" {
		return fmt.Errorf("training path is required")
	}
	if d.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}

func (d *PairsDataset) readColumns() ([]string, []string, error) {
	file, err := util.OpenFile(d.TrainingPath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	var sourceTexts, targetTexts []string
	reader := bufio.NewReader(file)
	for {
		lineBytes, readErr := util.ReadLine(reader)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, nil, readErr
		}
		source, target, err := splitPair(string(lineBytes))
		if err != nil {
			return nil, nil, err
		}
		sourceTexts = append(sourceTexts, source)
		targetTexts = append(targetTexts, wrapTarget(target))
	}
	if len(sourceTexts) == 0 {
		return nil, nil, fmt.Errorf("no sentence pairs found in %s", d.TrainingPath)
	}
	return sourceTexts, targetTexts, nil
}

func splitPair(line string) (string, string, error) {
	source, target, found := strings.Cut(line, "\t")
	if !found {
		return "", "", fmt.Errorf("expected tab-separated pair, got %q", line)
	}
	return source, target, nil
}

func wrapTarget(text string) string {
	return vocab.StartToken + " " + text + " " + vocab.EndToken
}

func (d *PairsDataset) open() error {
	sourceReadCloser, err := util.OpenFile(d.TrainingPath)
	if err != nil {
		return err
	}
	d.sourceFile = sourceReadCloser
	d.reader = bufio.NewReader(sourceReadCloser)
	return nil
}

// SourceVectorizer returns the vectorizer for the source language.
func (d *PairsDataset) SourceVectorizer() *vocab.Vectorizer {
	return d.sourceVectorizer
}

// TargetVectorizer returns the vectorizer for the target language.
func (d *PairsDataset) TargetVectorizer() *vocab.Vectorizer {
	return d.targetVectorizer
}

func (d *PairsDataset) SetVerbose(v bool) {
	d.verbose = v
}

func (d *PairsDataset) Name() string {
	return "pairs"
}

func (d *PairsDataset) Reset() {
	if d.verbose {
		fmt.Printf("completed epoch in %d batches (batch size %d), resetting dataset\n", d.batchN, d.BatchSize)
	}
	d.batchN = 0
	if err := d.sourceFile.Close(); err != nil {
		panic(err)
	}
	if err := d.open(); err != nil {
		panic(err)
	}
}

func (d *PairsDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	sequenceLength := d.sourceVectorizer.Config.SequenceLength

	var sourceIDs, decoderIDs, labelIDs []int64
	batchCounter := 0

	for batchCounter < d.BatchSize {
		lineBytes, readErr := util.ReadLine(d.reader)
		if readErr == io.EOF {
			if batchCounter == 0 {
				return nil, nil, nil, io.EOF // return error for reset
			}
			break // batch was cut short but we still process what is left
		}
		if readErr != nil {
			return nil, nil, nil, readErr
		}

		source, target, splitErr := splitPair(string(lineBytes))
		if splitErr != nil {
			return nil, nil, nil, splitErr
		}

		targetIDs := d.targetVectorizer.Vectorize(wrapTarget(target))
		sourceIDs = append(sourceIDs, d.sourceVectorizer.Vectorize(source)...)
		decoderIDs = append(decoderIDs, targetIDs[:sequenceLength]...)
		labelIDs = append(labelIDs, targetIDs[1:]...)
		batchCounter++
	}

	sourceTensor := tensors.FromFlatDataAndDimensions(sourceIDs, batchCounter, sequenceLength)
	decoderTensor := tensors.FromFlatDataAndDimensions(decoderIDs, batchCounter, sequenceLength)
	labelTensor := tensors.FromFlatDataAndDimensions(labelIDs, batchCounter, sequenceLength)

	if d.verbose {
		fmt.Printf("processing batch %d\n", d.batchN)
	}
	d.batchN++
	return nil, []*tensors.Tensor{sourceTensor, decoderTensor}, []*tensors.Tensor{labelTensor}, nil
}

func (d *PairsDataset) Close() error {
	if d.sourceFile != nil {
		return d.sourceFile.Close()
	}
	return nil
}

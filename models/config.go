package models

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/meridian-analytics/lingua/util"
)

// Kind discriminates the two model architectures this package can build.
type Kind string

const (
	KindSentiment  Kind = "sentiment"
	KindTranslator Kind = "translator"
)

// Config describes a model architecture. It is serialized as config.json next
// to the checkpoint and vocabulary files so that a saved model directory is
// self-contained.
type Config struct {
	Kind Kind `json:"kind"`

	// SequenceLength is the fixed input length in tokens. For the translator
	// it applies to both the source and the target side.
	SequenceLength int `json:"sequence_length"`
	EmbedDim       int `json:"embed_dim"`

	// Classifier fields.
	VocabSize  int            `json:"vocab_size,omitempty"`
	HiddenDim  int            `json:"hidden_dim,omitempty"`
	IDLabelMap map[int]string `json:"id2label,omitempty"`

	// Translator fields.
	SourceVocabSize int `json:"source_vocab_size,omitempty"`
	TargetVocabSize int `json:"target_vocab_size,omitempty"`
	LatentDim       int `json:"latent_dim,omitempty"`
	NumHeads        int `json:"num_heads,omitempty"`
}

// DefaultSentimentConfig is a bidirectional-LSTM sentiment classifier: 20k
// vocabulary, 200-token reviews, 128-dim embeddings and two bidirectional
// LSTM layers of 64 units.
func DefaultSentimentConfig() *Config {
	return &Config{
		Kind:           KindSentiment,
		SequenceLength: 200,
		EmbedDim:       128,
		VocabSize:      20000,
		HiddenDim:      64,
		IDLabelMap:     map[int]string{0: "negative", 1: "positive"},
	}
}

// DefaultTranslatorConfig is a sequence-to-sequence Transformer: 15k
// vocabularies, 20-token sequences, 256-dim embeddings, 2048-dim
// feed-forward projection and 8 attention heads.
func DefaultTranslatorConfig() *Config {
	return &Config{
		Kind:            KindTranslator,
		SequenceLength:  20,
		EmbedDim:        256,
		SourceVocabSize: 15000,
		TargetVocabSize: 15000,
		LatentDim:       2048,
		NumHeads:        8,
	}
}

func (c *Config) Validate() error {
	if c.SequenceLength <= 0 {
		return fmt.Errorf("sequence length must be positive")
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	switch c.Kind {
	case KindSentiment:
		if c.VocabSize <= 0 {
			return fmt.Errorf("vocab size must be positive")
		}
		if c.HiddenDim <= 0 {
			return fmt.Errorf("hidden dimension must be positive")
		}
		if len(c.IDLabelMap) != 2 {
			return fmt.Errorf("sentiment classification requires exactly two labels, got %d", len(c.IDLabelMap))
		}
	case KindTranslator:
		if c.SourceVocabSize <= 0 || c.TargetVocabSize <= 0 {
			return fmt.Errorf("source and target vocab sizes must be positive")
		}
		if c.LatentDim <= 0 {
			return fmt.Errorf("latent dimension must be positive")
		}
		if c.NumHeads <= 0 || c.EmbedDim%c.NumHeads != 0 {
			return fmt.Errorf("embedding dimension %d must be divisible by the number of heads %d", c.EmbedDim, c.NumHeads)
		}
	default:
		return fmt.Errorf("unknown model kind %q", c.Kind)
	}
	return nil
}

// LoadConfig reads config.json from a model directory.
func LoadConfig(modelDir string) (*Config, error) {
	data, err := util.ReadFileBytes(util.PathJoinSafe(modelDir, "config.json"))
	if err != nil {
		return nil, err
	}
	config := &Config{}
	if err := jsoniter.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes config.json into the model directory.
func (c *Config) Save(modelDir string) error {
	data, err := jsoniter.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal model config: %w", err)
	}
	writer, err := util.NewFileWriter(util.PathJoinSafe(modelDir, "config.json"))
	if err != nil {
		return err
	}
	if _, err = writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

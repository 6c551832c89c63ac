// Package vocab implements corpus-derived word-level vectorization: texts are
// standardized (lowercased, punctuation stripped), split on whitespace, mapped
// to integer ids from a frequency-capped vocabulary, and padded or truncated
// to a fixed sequence length.
package vocab

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/exp/maps"

	"github.com/meridian-analytics/lingua/util"
)

// Reserved vocabulary entries. Id 0 is the padding id and is never produced
// for a real token; id 1 is the out-of-vocabulary id.
const (
	PadID = int64(0)
	UnkID = int64(1)

	PadToken   = ""
	UnkToken   = "[UNK]"
	StartToken = "[start]"
	EndToken   = "[end]"
)

// File names under which vectorizers are persisted in a model directory.
const (
	VectorizerFile       = "vectorizer.json"
	SourceVectorizerFile = "source_vectorizer.json"
	TargetVectorizerFile = "target_vectorizer.json"
)

// stripChars are removed during standardization. Square brackets are kept so
// that the [start] and [end] markers survive standardization on the target
// side of a translation pair.
const stripChars = "!\"#$%&'()*+,-./:;<=>?@\\^_`{|}~¿¡«»"

type Config struct {
	// MaxTokens caps the vocabulary size, reserved entries included.
	MaxTokens int `json:"max_tokens"`
	// SequenceLength is the fixed output length of Vectorize.
	SequenceLength int `json:"sequence_length"`
	// Reserved lists tokens given fixed ids directly after pad and [UNK],
	// e.g. [start] and [end] for a translation target vocabulary.
	Reserved []string `json:"reserved,omitempty"`
}

// Vectorizer maps between token strings and integer indices.
type Vectorizer struct {
	Config    Config
	tokenToID map[string]int64
	idToToken []string
}

func NewVectorizer(config Config) (*Vectorizer, error) {
	if config.MaxTokens <= 2+len(config.Reserved) {
		return nil, fmt.Errorf("max tokens must exceed the %d reserved entries", 2+len(config.Reserved))
	}
	if config.SequenceLength <= 0 {
		return nil, errors.New("sequence length must be positive")
	}
	v := &Vectorizer{Config: config}
	v.reset()
	return v, nil
}

func (v *Vectorizer) reset() {
	v.idToToken = append([]string{PadToken, UnkToken}, v.Config.Reserved...)
	v.tokenToID = make(map[string]int64, len(v.idToToken))
	for i, tok := range v.idToToken {
		v.tokenToID[tok] = int64(i)
	}
}

// Standardize lowercases text and strips punctuation. Exported because the
// datasets apply the same normalization when attaching start/end markers.
func Standardize(text string) string {
	lowered := strings.ToLower(text)
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(stripChars, r) {
			return -1
		}
		return r
	}, lowered)
}

func tokenize(text string) []string {
	return strings.Fields(Standardize(text))
}

// Adapt builds the vocabulary from a corpus: tokens are ranked by frequency
// (ties broken alphabetically for determinism) and the top entries are kept
// up to MaxTokens. Adapt replaces any previously adapted vocabulary.
func (v *Vectorizer) Adapt(texts []string) {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, tok := range tokenize(text) {
			counts[tok]++
		}
	}
	v.reset()
	for _, tok := range v.idToToken {
		delete(counts, tok)
	}

	ranked := maps.Keys(counts)
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	budget := v.Config.MaxTokens - len(v.idToToken)
	if budget > len(ranked) {
		budget = len(ranked)
	}
	for _, tok := range ranked[:budget] {
		v.tokenToID[tok] = int64(len(v.idToToken))
		v.idToToken = append(v.idToToken, tok)
	}
}

// Vectorize maps text to exactly SequenceLength token ids, truncating long
// inputs and right-padding short ones with the padding id.
func (v *Vectorizer) Vectorize(text string) []int64 {
	out := make([]int64, v.Config.SequenceLength)
	for i, tok := range tokenize(text) {
		if i >= v.Config.SequenceLength {
			break
		}
		out[i] = v.TokenID(tok)
	}
	return out
}

// TokenID returns the id for a single already-standardized token, or the
// out-of-vocabulary id.
func (v *Vectorizer) TokenID(token string) int64 {
	if id, ok := v.tokenToID[token]; ok {
		return id
	}
	return UnkID
}

// Lookup returns the token string for an id. Unknown ids map to [UNK].
func (v *Vectorizer) Lookup(id int64) string {
	if id < 0 || id >= int64(len(v.idToToken)) {
		return UnkToken
	}
	return v.idToToken[id]
}

// Detokenize joins the tokens for a sequence of ids, skipping padding.
func (v *Vectorizer) Detokenize(ids []int64) string {
	var tokens []string
	for _, id := range ids {
		if id == PadID {
			continue
		}
		tokens = append(tokens, v.Lookup(id))
	}
	return strings.Join(tokens, " ")
}

func (v *Vectorizer) VocabSize() int {
	return len(v.idToToken)
}

type vectorizerFile struct {
	Config Config   `json:"config"`
	Tokens []string `json:"tokens"`
}

// Save writes the vectorizer configuration and vocabulary as JSON.
func (v *Vectorizer) Save(path string) error {
	data, err := jsoniter.Marshal(vectorizerFile{Config: v.Config, Tokens: v.idToToken})
	if err != nil {
		return fmt.Errorf("failed to marshal vocabulary: %w", err)
	}
	writer, err := util.NewFileWriter(path)
	if err != nil {
		return err
	}
	_, writeErr := writer.Write(data)
	return errors.Join(writeErr, writer.Close())
}

// Load reads a vectorizer previously written with Save.
func Load(path string) (*Vectorizer, error) {
	data, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	var file vectorizerFile
	if err := jsoniter.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file %s: %w", path, err)
	}
	v := &Vectorizer{Config: file.Config}
	v.idToToken = file.Tokens
	v.tokenToID = make(map[string]int64, len(file.Tokens))
	for i, tok := range file.Tokens {
		v.tokenToID[tok] = int64(i)
	}
	return v, nil
}

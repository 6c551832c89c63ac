package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigsValidate(t *testing.T) {
	assert.NoError(t, DefaultSentimentConfig().Validate())
	assert.NoError(t, DefaultTranslatorConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	config := DefaultSentimentConfig()
	config.VocabSize = 0
	assert.Error(t, config.Validate())

	config = DefaultSentimentConfig()
	config.IDLabelMap = map[int]string{0: "negative"}
	assert.Error(t, config.Validate())

	config = DefaultTranslatorConfig()
	config.NumHeads = 7 // 256 is not divisible by 7
	assert.Error(t, config.Validate())

	config = DefaultTranslatorConfig()
	config.Kind = "autoencoder"
	assert.Error(t, config.Validate())
}

func TestConfigSaveLoad(t *testing.T) {
	dir := t.TempDir()
	config := DefaultTranslatorConfig()
	assert.NoError(t, config.Save(dir))

	loaded, err := LoadConfig(dir)
	assert.NoError(t, err)
	assert.Equal(t, config, loaded)

	_, err = LoadConfig(t.TempDir())
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12, cfg.MaxWidth)
	assert.Equal(t, 512, cfg.MaxLen)
	assert.Zero(t, cfg.MaxWords)
	assert.Equal(t, 0.5, cfg.Threshold)
	assert.True(t, cfg.FlatNER)
	assert.False(t, cfg.MultiLabel)
	assert.GreaterOrEqual(t, cfg.Parallelism, 1)
}

func TestValidateReportsAllFields(t *testing.T) {
	cfg := Default()
	cfg.Threshold = 1.5
	cfg.MaxWidth = 0
	cfg.Backend = "gpu"
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "Threshold")
	assert.Contains(t, msg, "MaxWidth")
	assert.Contains(t, msg, "Backend")
}

func TestLoadModelConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ModelConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{
  "model_name": "microsoft/deberta-v3-small",
  "max_width": 8,
  "max_len": 384,
  "ent_token": "<<ENT>>",
  "sep_token": "<<SEP>>",
  "hidden_size": 512
}`), 0o644))

	base := Default()
	base.Threshold = 0.3
	cfg, err := LoadModelConfig(path, base)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxWidth)
	assert.Equal(t, 384, cfg.MaxWords)
	assert.Equal(t, DefaultMaxLen, cfg.MaxLen)
	assert.Equal(t, 0.3, cfg.Threshold)
	assert.True(t, cfg.FlatNER)
}

func TestLoadModelConfigMissingFile(t *testing.T) {
	base := Default()
	cfg, err := LoadModelConfig(filepath.Join(t.TempDir(), ModelConfigFile), base)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)
}

func TestLoadModelConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ModelConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadModelConfig(path, Default())
	assert.ErrorContains(t, err, "parse model config")
}

func TestModelConfigPath(t *testing.T) {
	assert.Equal(t, filepath.Join("models", "gliner", ModelConfigFile), ModelConfigPath(filepath.Join("models", "gliner", "model.onnx")))
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got := ExpandHome("~/models")
	assert.True(t, strings.HasPrefix(got, home))
}

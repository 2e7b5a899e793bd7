package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultMaxWidth     = 12
	DefaultMaxLen       = 512
	DefaultThreshold    = 0.5
	DefaultBatchSize    = 8
	DefaultMaxTextBytes = 1 << 20
	DefaultEntToken     = "<<ENT>>"
	DefaultSepToken     = "<<SEP>>"
	ModelConfigFile     = "gliner_config.json"
)

var validate = validator.New()

// Config holds the engine settings. Model-shape fields can be overridden by a
// gliner_config.json shipped next to the weights. MaxLen counts model input
// positions in sub-word tokens, MaxWords counts words of one text and 0
// disables that limit.
type Config struct {
	MaxWidth         int     `json:"max_width" mapstructure:"max_width" yaml:"max_width" validate:"gte=1,lte=128"`
	MaxLen           int     `json:"max_len" mapstructure:"max_len" yaml:"max_len" validate:"gte=4"`
	MaxWords         int     `json:"max_words" mapstructure:"max_words" yaml:"max_words" validate:"gte=0"`
	Threshold        float64 `json:"threshold" mapstructure:"threshold" yaml:"threshold" validate:"gte=0,lte=1"`
	FlatNER          bool    `json:"flat_ner" mapstructure:"flat_ner" yaml:"flat_ner"`
	MultiLabel       bool    `json:"multi_label" mapstructure:"multi_label" yaml:"multi_label"`
	BatchSize        int     `json:"batch_size" mapstructure:"batch_size" yaml:"batch_size" validate:"gte=1"`
	Parallelism      int     `json:"parallelism" mapstructure:"parallelism" yaml:"parallelism" validate:"gte=1"`
	MaxTextBytes     int     `json:"max_text_bytes" mapstructure:"max_text_bytes" yaml:"max_text_bytes" validate:"gte=0"`
	EntToken         string  `json:"ent_token" mapstructure:"ent_token" yaml:"ent_token" validate:"required"`
	SepToken         string  `json:"sep_token" mapstructure:"sep_token" yaml:"sep_token" validate:"required"`
	Backend          string  `json:"backend" mapstructure:"backend" yaml:"backend" validate:"oneof=auto onnxruntime python"`
	ONNXRuntimeLib   string  `json:"onnxruntime_lib" mapstructure:"onnxruntime_lib" yaml:"onnxruntime_lib"`
	IntraOpThreads   int     `json:"intra_op_threads" mapstructure:"intra_op_threads" yaml:"intra_op_threads" validate:"gte=0"`
	PythonExecutable string  `json:"python" mapstructure:"python" yaml:"python"`
}

func Default() Config {
	return Config{
		MaxWidth:         DefaultMaxWidth,
		MaxLen:           DefaultMaxLen,
		Threshold:        DefaultThreshold,
		FlatNER:          true,
		BatchSize:        DefaultBatchSize,
		Parallelism:      runtime.GOMAXPROCS(0),
		MaxTextBytes:     DefaultMaxTextBytes,
		EntToken:         DefaultEntToken,
		SepToken:         DefaultSepToken,
		Backend:          "auto",
		PythonExecutable: "python3",
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("config %s: must satisfy %s %s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return errors.Join(msgs...)
}

type modelConfigJSON struct {
	MaxWidth   *int    `json:"max_width"`
	MaxLen     *int    `json:"max_len"`
	FlatNER    *bool   `json:"flat_ner"`
	MultiLabel *bool   `json:"multi_label"`
	EntToken   *string `json:"ent_token"`
	SepToken   *string `json:"sep_token"`
}

// LoadModelConfig overlays the model-shape keys of a gliner_config.json onto
// base. A missing file leaves base untouched. The file's max_len is a word
// count and lands in MaxWords.
func LoadModelConfig(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return Config{}, fmt.Errorf("read model config: %w", err)
	}
	var mc modelConfigJSON
	if err := json.Unmarshal(data, &mc); err != nil {
		return Config{}, fmt.Errorf("parse model config %s: %w", path, err)
	}
	cfg := base
	if mc.MaxWidth != nil {
		cfg.MaxWidth = *mc.MaxWidth
	}
	if mc.MaxLen != nil {
		cfg.MaxWords = *mc.MaxLen
	}
	if mc.FlatNER != nil {
		cfg.FlatNER = *mc.FlatNER
	}
	if mc.MultiLabel != nil {
		cfg.MultiLabel = *mc.MultiLabel
	}
	if mc.EntToken != nil && *mc.EntToken != "" {
		cfg.EntToken = *mc.EntToken
	}
	if mc.SepToken != nil && *mc.SepToken != "" {
		cfg.SepToken = *mc.SepToken
	}
	return cfg, nil
}

// ModelConfigPath is where a gliner_config.json for modelPath is expected.
func ModelConfigPath(modelPath string) string {
	return filepath.Join(filepath.Dir(modelPath), ModelConfigFile)
}

func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gliner"), nil
}

func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func EnsureConfigDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func ExpandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

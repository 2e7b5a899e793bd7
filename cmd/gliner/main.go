package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"gliner/internal/config"
	"gliner/internal/logging"
	"gliner/internal/models"
	"gliner/pkg/gliner"
)

var (
	cfgFile string
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "gliner",
	Short: "Zero-shot named entity recognition with GLiNER models",
	Long: `Run GLiNER span models exported to ONNX against arbitrary texts and
label sets.

Examples:
  gliner predict --model-dir ./gliner_small --labels person,city "Alice lives in Paris."
  gliner batch --model-dir ./gliner_small --labels person --input texts.txt
  gliner redact --model-dir ./gliner_small --labels person,email "Mail Bob at bob@acme.io"
  gliner inspect --model-dir ./gliner_small`,
	SilenceUsage: true,
}

func main() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	d := config.Default()
	flags.StringVar(&cfgFile, "config", "", "config file path (default ~/.gliner/config.yaml)")
	flags.String("log-level", "warn", "logging level (debug, info, warn, error)")
	flags.String("log-style", "terminal", "logging output style (terminal, json, noop)")
	flags.String("model-dir", "", "directory holding tokenizer.json and the ONNX weights")
	flags.String("model-file", models.ModelFile, "weights file name inside the model directory")
	flags.String("tokenizer", "", "explicit tokenizer.json path")
	flags.String("model", "", "explicit ONNX weights path")
	flags.Float64("threshold", d.Threshold, "minimum entity score")
	flags.Int("max-width", d.MaxWidth, "maximum span width in words")
	flags.Int("max-len", d.MaxLen, "maximum model sequence length in tokens")
	flags.Int("max-words", d.MaxWords, "maximum words per text, 0 for no limit")
	flags.Bool("flat-ner", d.FlatNER, "forbid overlapping entities")
	flags.Bool("multi-label", d.MultiLabel, "allow several labels on one span")
	flags.Int("batch-size", d.BatchSize, "texts per forward pass")
	flags.Int("parallelism", d.Parallelism, "concurrent forward passes")
	flags.String("backend", d.Backend, "inference backend (auto, onnxruntime, python)")

	for key, flag := range map[string]string{
		"log.level":   "log-level",
		"log.style":   "log-style",
		"model_dir":   "model-dir",
		"model_file":  "model-file",
		"tokenizer":   "tokenizer",
		"model":       "model",
		"threshold":   "threshold",
		"max_width":   "max-width",
		"max_len":     "max-len",
		"max_words":   "max-words",
		"flat_ner":    "flat-ner",
		"multi_label": "multi-label",
		"batch_size":  "batch-size",
		"parallelism": "parallelism",
		"backend":     "backend",
	} {
		mustBindPFlag(key, flags.Lookup(flag))
	}
	setDefaults(d)

	rootCmd.AddCommand(predictCmd, batchCmd, redactCmd, inspectCmd, demoCmd, configCmd)
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func setDefaults(d config.Config) {
	viper.SetDefault("max_text_bytes", d.MaxTextBytes)
	viper.SetDefault("ent_token", d.EntToken)
	viper.SetDefault("sep_token", d.SepToken)
	viper.SetDefault("onnxruntime_lib", d.ONNXRuntimeLib)
	viper.SetDefault("intra_op_threads", d.IntraOpThreads)
	viper.SetDefault("python", d.PythonExecutable)
}

func initConfig() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", cfgFile)
			os.Exit(1)
		}
		viper.SetConfigFile(cfgFile)
	} else if path, err := config.ConfigPath(); err == nil {
		viper.SetConfigFile(path)
	}
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("GLINER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file [%s]: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}

// settings merges defaults, config file, environment and flags.
func settings() (config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("decode settings: %w", err)
	}
	return cfg, cfg.Validate()
}

func newLogger() (*zap.Logger, error) {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}

// modelPaths are the files an engine is built from. ModelConfig is only set
// when the model directory was resolved and holds a gliner_config.json that
// is not next to the weights.
type modelPaths struct {
	Tokenizer   string
	Model       string
	ModelConfig string
}

// modelFiles returns the model files from --tokenizer and --model, falling
// back to --model-dir.
func modelFiles() (modelPaths, error) {
	tokenizer, model := viper.GetString("tokenizer"), viper.GetString("model")
	if tokenizer != "" && model != "" {
		return modelPaths{Tokenizer: config.ExpandHome(tokenizer), Model: config.ExpandHome(model)}, nil
	}
	dir := viper.GetString("model_dir")
	if dir == "" {
		return modelPaths{}, fmt.Errorf("set --model-dir or both --tokenizer and --model")
	}
	layout, err := models.Resolve(dir, viper.GetString("model_file"))
	if err != nil {
		return modelPaths{}, err
	}
	paths := modelPaths{Tokenizer: tokenizer, Model: model}
	if paths.Tokenizer == "" {
		paths.Tokenizer = layout.Tokenizer
	}
	if paths.Model == "" {
		paths.Model = layout.Model
		paths.ModelConfig = layout.ModelConfig
	}
	paths.Tokenizer = config.ExpandHome(paths.Tokenizer)
	paths.Model = config.ExpandHome(paths.Model)
	return paths, nil
}

var openEngine = func(paths modelPaths, cfg config.Config, logger *zap.Logger) (*gliner.Engine, error) {
	opts := []gliner.Option{gliner.WithConfig(cfg), gliner.WithLogger(logger)}
	if paths.ModelConfig != "" {
		opts = append(opts, gliner.WithModelConfigPath(paths.ModelConfig))
	}
	return gliner.New(paths.Tokenizer, paths.Model, opts...)
}

func loadEngine() (*gliner.Engine, *zap.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := settings()
	if err != nil {
		return nil, nil, err
	}
	paths, err := modelFiles()
	if err != nil {
		return nil, nil, err
	}
	engine, err := openEngine(paths, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}

func parseLabels(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, l := range strings.Split(r, ",") {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, l)
			}
		}
	}
	return out
}

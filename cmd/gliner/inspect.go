package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gliner/internal/config"
	"gliner/internal/models"
	"gliner/pkg/gliner"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the model files, effective settings and tensor signatures",
	Args:  cobra.NoArgs,
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().String("verify", "", "expected sha256 of the weights file")
	inspectCmd.Flags().Bool("no-load", false, "only inspect files, do not open the model")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	verify, _ := cmd.Flags().GetString("verify")
	noLoad, _ := cmd.Flags().GetBool("no-load")
	out := cmd.OutOrStdout()

	paths, err := modelFiles()
	if err != nil {
		return err
	}
	model := paths.Model
	fmt.Fprintf(out, "GLiNER model\n%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(out, "Tokenizer:      %s (%s)\n", paths.Tokenizer, fileSize(paths.Tokenizer))
	fmt.Fprintf(out, "Weights:        %s (%s)\n", model, fileSize(model))
	modelConfig := paths.ModelConfig
	if modelConfig == "" {
		if _, err := os.Stat(config.ModelConfigPath(model)); err == nil {
			modelConfig = config.ModelConfigPath(model)
		}
	}
	if modelConfig != "" {
		fmt.Fprintf(out, "Model config:   %s\n", modelConfig)
	}
	sum, err := models.Checksum(model)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Checksum:       %s\n", sum)
	if verify != "" {
		if err := models.VerifyChecksum(model, verify); err != nil {
			return err
		}
		fmt.Fprintln(out, "Checksum OK")
	}
	if noLoad {
		return nil
	}

	engine, _, err := loadEngine()
	if err != nil {
		return err
	}
	defer engine.Close()
	renderEngine(out, engine)
	return nil
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return humanize.Bytes(uint64(info.Size()))
}

func renderEngine(w io.Writer, engine *gliner.Engine) {
	cfg := engine.Config()
	fmt.Fprintf(w, "Max width:      %d words\n", cfg.MaxWidth)
	fmt.Fprintf(w, "Max length:     %s tokens\n", humanize.Comma(int64(cfg.MaxLen)))
	if cfg.MaxWords > 0 {
		fmt.Fprintf(w, "Max words:      %s\n", humanize.Comma(int64(cfg.MaxWords)))
	}
	fmt.Fprintf(w, "Threshold:      %.2f\n", cfg.Threshold)
	fmt.Fprintf(w, "Flat NER:       %t\n", cfg.FlatNER)
	fmt.Fprintf(w, "Multi label:    %t\n", cfg.MultiLabel)
	fmt.Fprintf(w, "Batch size:     %d (parallelism %d)\n", cfg.BatchSize, cfg.Parallelism)
	fmt.Fprintf(w, "Text limit:     %s\n", humanize.Bytes(uint64(cfg.MaxTextBytes)))
	fmt.Fprintln(w, "Inputs:")
	for _, in := range engine.InputInfo() {
		fmt.Fprintf(w, "  %-16s %-8s %v\n", in.Name, in.DataType, in.Shape)
	}
	fmt.Fprintln(w, "Outputs:")
	for _, o := range engine.OutputInfo() {
		fmt.Fprintf(w, "  %-16s %-8s %v\n", o.Name, o.DataType, o.Shape)
	}
}

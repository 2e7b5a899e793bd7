package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gliner/internal/redact"
)

var redactCmd = &cobra.Command{
	Use:   "redact [text]",
	Short: "Replace recognized entities with placeholders such as [PERSON_1]",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRedact,
}

func init() {
	redactCmd.Flags().StringSliceP("labels", "l", nil, "entity labels, comma separated")
	_ = redactCmd.MarkFlagRequired("labels")
	redactCmd.Flags().Float64("min-score", 0, "drop entities scoring below this value")
	redactCmd.Flags().Int("max-replacements", 0, "maximum replacements, 0 for no limit")
	redactCmd.Flags().Bool("mapping", false, "print the placeholder mapping as YAML after the text")
}

type redactReport struct {
	Text         string        `yaml:"text"`
	Replacements []redact.Item `yaml:"replacements"`
}

func runRedact(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetStringSlice("labels")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	maxRepl, _ := cmd.Flags().GetInt("max-replacements")
	withMapping, _ := cmd.Flags().GetBool("mapping")

	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		text = strings.TrimRight(string(data), "\n")
	}

	engine, _, err := loadEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := signalContext()
	defer cancel()
	r := redact.New(engine, parseLabels(raw)).WithMinScore(minScore).WithMaxReplacements(maxRepl)
	out, items, err := r.Redact(ctx, text)
	if err != nil {
		return err
	}
	return writeRedaction(cmd.OutOrStdout(), out, items, withMapping)
}

func writeRedaction(w io.Writer, text string, items []redact.Item, withMapping bool) error {
	if !withMapping {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(redactReport{Text: text, Replacements: items}); err != nil {
		return err
	}
	return enc.Close()
}

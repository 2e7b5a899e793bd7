package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gliner/pkg/gliner"
)

type demoCase struct {
	texts  []string
	labels []string
}

var demoCases = []demoCase{
	{
		texts: []string{
			"My name is James Bond.",
			"I drive an Aston Martin.",
			"Alice met Bob in Paris before flying to New York.",
		},
		labels: []string{"person", "vehicle"},
	},
	{
		texts:  []string{"Mary and John visited Berlin."},
		labels: []string{"person", "city"},
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a few sample texts through the model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, _, err := loadEngine()
		if err != nil {
			return err
		}
		defer engine.Close()
		ctx, cancel := signalContext()
		defer cancel()
		return runDemo(ctx, cmd.OutOrStdout(), engine)
	},
}

type batchPredictor interface {
	PredictBatch(ctx context.Context, texts []string, labels []string) ([][]gliner.EntitySpan, error)
}

func runDemo(ctx context.Context, w io.Writer, p batchPredictor) error {
	for _, c := range demoCases {
		fmt.Fprintf(w, "=== Labels: %s ===\n", strings.Join(c.labels, ", "))
		start := time.Now()
		results, err := p.PredictBatch(ctx, c.texts, c.labels)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d texts in %v\n\n", len(c.texts), time.Since(start).Round(time.Millisecond))
		for i, spans := range results {
			fmt.Fprintf(w, "Text: %q\n", c.texts[i])
			renderTable(w, spans)
			fmt.Fprintln(w)
		}
	}
	return nil
}

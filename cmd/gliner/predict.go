package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gliner/pkg/gliner"
)

var predictCmd = &cobra.Command{
	Use:   "predict [text]",
	Short: "Recognize entities in one text (reads stdin when no text is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPredict,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Recognize entities in many texts, one per input line, as JSON lines",
	Args:  cobra.NoArgs,
	RunE:  runBatch,
}

func init() {
	for _, c := range []*cobra.Command{predictCmd, batchCmd} {
		c.Flags().StringSliceP("labels", "l", nil, "entity labels, comma separated")
		_ = c.MarkFlagRequired("labels")
	}
	predictCmd.Flags().Bool("json", false, "print JSON instead of a table")
	batchCmd.Flags().StringP("input", "i", "-", "input file, - for stdin")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPredict(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetStringSlice("labels")
	asJSON, _ := cmd.Flags().GetBool("json")
	labels := parseLabels(raw)

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

	engine, logger, err := loadEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()
	spans, err := engine.PredictSingle(ctx, text, labels)
	if err != nil {
		return err
	}
	logger.Info("Prediction finished", zap.Int("entities", len(spans)), zap.Duration("took", time.Since(start)))

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(spans)
	}
	renderTable(out, spans)
	return nil
}

func renderTable(w io.Writer, spans []gliner.EntitySpan) {
	if len(spans) == 0 {
		fmt.Fprintln(w, "No entities found")
		return
	}
	fmt.Fprintf(w, "%-5s %-16s %-30s %-6s %-6s %-8s\n", "#", "Label", "Text", "Start", "End", "Score")
	fmt.Fprintln(w, strings.Repeat("─", 76))
	for i, s := range spans {
		text := s.Text
		if len(text) > 28 {
			text = truncate(text, 25) + "..."
		}
		fmt.Fprintf(w, "%-5d %-16s %-30s %-6d %-6d %.2f\n", i+1, s.Label, text, s.Start, s.End, s.Score)
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}

type batchLine struct {
	Index    int                 `json:"index"`
	Entities []gliner.EntitySpan `json:"entities"`
}

func runBatch(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetStringSlice("labels")
	input, _ := cmd.Flags().GetString("input")
	labels := parseLabels(raw)

	var r io.Reader = cmd.InOrStdin()
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	texts, err := readLines(r)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return fmt.Errorf("no input texts")
	}

	engine, logger, err := loadEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()
	results, err := engine.PredictBatch(ctx, texts, labels)
	if err != nil {
		return err
	}
	logger.Info("Batch finished", zap.Int("texts", len(texts)), zap.Duration("took", time.Since(start)))
	return writeJSONLines(cmd.OutOrStdout(), results)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	return lines, sc.Err()
}

func writeJSONLines(w io.Writer, results [][]gliner.EntitySpan) error {
	enc := json.NewEncoder(w)
	for i, spans := range results {
		if err := enc.Encode(batchLine{Index: i, Entities: spans}); err != nil {
			return err
		}
	}
	return nil
}

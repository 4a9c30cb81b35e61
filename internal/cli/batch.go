package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/pipeline"
	"github.com/ppiankov/medfuse/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	metricsFile  string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Answer many questions from a JSONL file in parallel",
	Long: `Batch runs the pipeline for every request in a JSONL file:
- One {"patient_id": "...", "question": "..."} object per line
- Blank lines and lines starting with # are skipped
- Requests run concurrently with a configurable worker count
- Each result is written as JSON and Markdown to the output directory

Example:
  medfuse batch questions.jsonl
  medfuse batch questions.jsonl --workers 8 --output-dir ./answers
  medfuse batch questions.jsonl --metrics-file medfuse.prom`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "workers", 0, "number of concurrent runs (default from config)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./medfuse-answers", "output directory for results")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file when done")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if concurrency > 0 {
		cfg.Concurrency.Workers = concurrency
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, batchTimeout)
	defer cancelTimeout()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  medfuse Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "  LLM:          %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	processor := worker.NewBatchProcessor(a.pipeline, cfg.Concurrency.Workers)

	fmt.Fprintf(os.Stderr, "⚙️  Processing requests with %d workers...\n\n", cfg.Concurrency.Workers)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	counts := writeBatchResults(results, outputDir)

	if metricsFile != "" {
		if err := a.metrics.WriteTextfile(metricsFile); err != nil {
			fmt.Fprintf(os.Stderr, "✗ write metrics: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "✓ Metrics written to %s\n", metricsFile)
		}
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d requests\n", len(results))
	fmt.Fprintf(os.Stderr, "  OK:        %d\n", counts[model.StatusOK])
	fmt.Fprintf(os.Stderr, "  Degraded:  %d\n", counts[model.StatusDegraded])
	fmt.Fprintf(os.Stderr, "  Refused:   %d\n", counts[model.StatusRefused])
	fmt.Fprintf(os.Stderr, "  Failed:    %d\n", counts[model.StatusFailed])
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if counts[model.StatusFailed] > 0 {
		return fmt.Errorf("%d of %d requests failed", counts[model.StatusFailed], len(results))
	}
	return nil
}

// writeBatchResults writes each result as JSON and Markdown and tallies statuses
func writeBatchResults(results []*worker.AskResult, dir string) map[model.Status]int {
	counts := make(map[model.Status]int)
	renderer := pipeline.NewRenderer(true)

	for _, r := range results {
		res := r.Result
		if res == nil {
			counts[model.StatusFailed]++
			continue
		}
		counts[res.Status]++

		base := filepath.Join(dir, fmt.Sprintf("%04d-%s", r.Index+1, sanitizeFilename(res.PatientID)))
		if err := writeFile(base+".json", func(f *os.File) error { return renderer.RenderJSON(f, res) }); err != nil {
			fmt.Fprintf(os.Stderr, "✗ #%d %s: failed to write JSON: %v\n", r.Index+1, res.PatientID, err)
			continue
		}
		if err := writeFile(base+".md", func(f *os.File) error { return renderer.RenderMarkdown(f, res) }); err != nil {
			fmt.Fprintf(os.Stderr, "✗ #%d %s: failed to write Markdown: %v\n", r.Index+1, res.PatientID, err)
			continue
		}

		if err := r.GetError(); err != nil {
			fmt.Fprintf(os.Stderr, "✗ #%d %s: %v\n", r.Index+1, res.PatientID, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ #%d %s (%s, %d claims, %d findings)\n",
			r.Index+1, res.PatientID, res.Status, len(res.Claims), len(res.Findings))
	}
	return counts
}

func writeFile(path string, write func(f *os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return write(f)
}

// sanitizeFilename sanitizes a string for use as a filename
func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "-",
		"..", "_",
	)
	s = replacer.Replace(strings.TrimSpace(s))
	if s == "" {
		s = "unknown"
	}

	// Limit length
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

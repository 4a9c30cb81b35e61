package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/pipeline"
)

var (
	askPatient  string
	askFormat   string
	askOutput   string
	askNoColor  bool
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question about one patient",
	Long: `Ask runs the full pipeline for a single question:
- Fetch the patient's record from the knowledge graph
- Retrieve research passages from the vector index
- Generate an answer in the required section format
- Check each claim against the fused evidence
- Apply the safety gate

The exit code is non-zero unless the run ends with status ok.

Example:
  medfuse ask --patient p-001 "Is my blood pressure a concern with my current medication?"
  medfuse ask --patient p-001 --format json -o answer.json "Can I take ibuprofen?"
  medfuse ask --patient p-001 --llm-provider openai --llm-model gpt-4o-mini "..."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVarP(&askPatient, "patient", "p", "", "patient id (required)")
	askCmd.Flags().StringVar(&askFormat, "format", "markdown", "output format (markdown, json, summary)")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "", "write output to file instead of stdout")
	askCmd.Flags().BoolVar(&askNoColor, "no-color", false, "disable colored summary")
	_ = askCmd.MarkFlagRequired("patient")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if verbose {
		fmt.Fprintf(os.Stderr, "Patient:  %s\n", askPatient)
		fmt.Fprintf(os.Stderr, "LLM:      %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Fprintf(os.Stderr, "Graph:    %s\n", cfg.Graph.URI)
		fmt.Fprintf(os.Stderr, "Vector:   %s (%s)\n\n", cfg.Vector.URL, cfg.Vector.Class)
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.pipeline.Run(ctx, model.Request{
		PatientID: askPatient,
		Question:  strings.Join(args, " "),
	})

	out := cmd.OutOrStdout()
	if askOutput != "" {
		f, err := os.Create(askOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := render(out, res, askFormat, askNoColor); err != nil {
		return err
	}
	if askOutput != "" {
		fmt.Fprintf(os.Stderr, "✓ Wrote %s (%s)\n", askOutput, res.Status)
	}

	if res.Status != model.StatusOK {
		return fmt.Errorf("%w: %s", errRunNotOK, res.Status)
	}
	return nil
}

func render(w io.Writer, res *model.PipelineResult, format string, noColor bool) error {
	r := pipeline.NewRenderer(noColor)
	switch strings.ToLower(format) {
	case "json":
		return r.RenderJSON(w, res)
	case "markdown", "md":
		return r.RenderMarkdown(w, res)
	case "summary":
		r.RenderSummary(w, res)
		return nil
	default:
		return fmt.Errorf("unknown format %q (supported: markdown, json, summary)", format)
	}
}

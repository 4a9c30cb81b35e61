package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ppiankov/medfuse/internal/model"
)

// Renderer writes pipeline results for people and machines
type Renderer struct {
	// NoColor disables ANSI colors in the summary line
	NoColor bool
}

// NewRenderer creates a renderer
func NewRenderer(noColor bool) *Renderer {
	return &Renderer{NoColor: noColor}
}

// RenderJSON writes the result as indented JSON. The answer is preserved verbatim.
func (r *Renderer) RenderJSON(w io.Writer, res *model.PipelineResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// RenderMarkdown writes a human-readable report
func (r *Renderer) RenderMarkdown(w io.Writer, res *model.PipelineResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# medfuse answer\n\n")
	fmt.Fprintf(&b, "- **Patient:** %s\n", res.PatientID)
	fmt.Fprintf(&b, "- **Question:** %s\n", res.Question)
	fmt.Fprintf(&b, "- **Status:** %s\n", res.Status)
	fmt.Fprintf(&b, "- **Run:** %s\n\n", res.RunID)

	switch res.Status {
	case model.StatusFailed:
		fmt.Fprintf(&b, "## Failed\n\nThe run stopped while **%s**: %s\n\n", res.FailedStage, res.Error)
	case model.StatusRefused:
		b.WriteString("## Refused\n\nA high-severity safety finding applies to this patient. ")
		b.WriteString("Talk to a clinician before acting on any of the information below.\n\n")
	}

	if len(res.Findings) > 0 {
		b.WriteString("## Safety Findings\n\n")
		b.WriteString("| Severity | Kind | Description |\n")
		b.WriteString("|----------|------|-------------|\n")
		for _, f := range res.Findings {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", f.Severity, f.Kind, escapeCell(f.Description))
		}
		b.WriteString("\n")
	}

	if res.Answer != "" {
		b.WriteString("## Answer\n\n")
		b.WriteString(res.Answer)
		b.WriteString("\n\n")
	}

	if len(res.Claims) > 0 {
		b.WriteString("## Claims\n\n")
		b.WriteString("| # | Section | Verdict | Claim | Evidence |\n")
		b.WriteString("|---|---------|---------|-------|----------|\n")
		for i, c := range res.Claims {
			refs := make([]string, len(c.Verdict.Citations))
			for j, ref := range c.Verdict.Citations {
				refs[j] = string(ref)
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				i+1, c.Tag, c.Verdict.Status, escapeCell(c.Text), strings.Join(refs, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n*This output explains evidence from the patient record and research literature. It is not a diagnosis or a prescription.*\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderSummary writes a one-line status summary
func (r *Renderer) RenderSummary(w io.Writer, res *model.PipelineResult) {
	status := r.statusColor(res.Status).Sprint(strings.ToUpper(string(res.Status)))

	counts := res.CountVerdicts()
	fmt.Fprintf(w, "%s  patient=%s claims=%d (supported %d, contradicted %d, unverified %d) findings=%d duration=%s\n",
		status,
		res.PatientID,
		len(res.Claims),
		counts[model.VerdictSupported],
		counts[model.VerdictContradicted],
		counts[model.VerdictUnverified],
		len(res.Findings),
		res.Duration.Round(time.Millisecond))

	if res.Status == model.StatusFailed {
		fmt.Fprintf(w, "  failed while %s: %s\n", res.FailedStage, res.Error)
	}
}

func (r *Renderer) statusColor(s model.Status) *color.Color {
	var c *color.Color
	switch s {
	case model.StatusOK:
		c = color.New(color.FgGreen, color.Bold)
	case model.StatusDegraded:
		c = color.New(color.FgYellow, color.Bold)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	if r.NoColor {
		c.DisableColor()
	}
	return c
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

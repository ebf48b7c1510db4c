package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/verdict/internal/model"
)

// RenderJSON writes the run view as indented JSON to path
func RenderJSON(run *model.PipelineRun, path string) error {
	data, err := json.MarshalIndent(run.View(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes a human-readable run report to path
func RenderMarkdown(run *model.PipelineRun, path string) error {
	return writeFile(path, []byte(Markdown(run)))
}

// Markdown renders a run report
func Markdown(run *model.PipelineRun) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Moderation run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- **State:** %s\n", run.State)
	if run.Decision != nil {
		fmt.Fprintf(&b, "- **Action:** %s\n", run.Decision.Action)
		fmt.Fprintf(&b, "- **Requires human review:** %t\n", run.Decision.RequiresHumanReview)
		if len(run.Decision.EscalationReasons) > 0 {
			fmt.Fprintf(&b, "- **Escalation reasons:** %s\n", strings.Join(run.Decision.EscalationReasons, ", "))
		}
		fmt.Fprintf(&b, "\n%s\n", run.Decision.Rationale)
	}

	b.WriteString("\n## Claims\n\n")
	if len(run.Claims) == 0 {
		b.WriteString("_No claims extracted._\n")
	}
	factuality := run.Factuality.OrZero()
	for i, c := range run.Claims {
		fmt.Fprintf(&b, "%d. %s _(%s, confidence %.2f)_", i+1, c.Text, c.Domain, c.Confidence)
		if i < len(factuality) {
			fmt.Fprintf(&b, " **%s** (%.2f)", factuality[i].Status, factuality[i].Confidence)
		}
		b.WriteString("\n")
	}

	if run.Risk != nil {
		fmt.Fprintf(&b, "\n## Risk\n\n**%s** (confidence %.2f, %s route)\n\n%s\n",
			run.Risk.Tier, run.Risk.Confidence, run.Risk.Route, run.Risk.Reasoning)
	}

	if ev, ok := run.Evidence.Get(); ok {
		b.WriteString("\n## Evidence\n\n")
		for _, ce := range ev {
			for _, item := range ce.Items {
				src := item.Source
				if item.URL != "" {
					src = fmt.Sprintf("[%s](%s)", item.Source, item.URL)
				}
				fmt.Fprintf(&b, "- claim %d, %s, %s %.2f: %s\n", ce.ClaimIndex+1, item.Origin, item.Stance, item.RelevanceScore, src)
			}
		}
	}

	if run.Policy != nil {
		fmt.Fprintf(&b, "\n## Policy\n\nViolation: **%s** (confidence %.2f, %s route)\n",
			run.Policy.Violation, run.Policy.Confidence, run.Policy.Route)
		if run.Policy.ViolationType != nil {
			fmt.Fprintf(&b, "Type: %s\n", *run.Policy.ViolationType)
		}
		if len(run.Policy.AllowedContexts) > 0 {
			fmt.Fprintf(&b, "Allowed contexts: %s\n", strings.Join(run.Policy.AllowedContexts, ", "))
		}
	}

	b.WriteString("\n## Trace\n\n| Stage | Provider | Route | Confidence | Status | Note |\n|---|---|---|---|---|---|\n")
	for _, e := range run.Trace {
		fmt.Fprintf(&b, "| %s | %s | %s | %.2f | %s | %s |\n",
			e.Stage, e.Provider, e.Route, e.Confidence, e.Status, strings.ReplaceAll(e.Note, "|", "/"))
	}
	return b.String()
}

// RenderSummary prints a short summary of a run
func RenderSummary(w io.Writer, run *model.PipelineRun) {
	fmt.Fprintf(w, "Run %s: %s\n", run.ID, run.State)
	if run.Risk != nil {
		fmt.Fprintf(w, "  Risk:     %s (%.2f)\n", run.Risk.Tier, run.Risk.Confidence)
	}
	if run.Policy != nil {
		fmt.Fprintf(w, "  Policy:   %s (%.2f)\n", run.Policy.Violation, run.Policy.Confidence)
	}
	if run.Decision != nil {
		fmt.Fprintf(w, "  Decision: %s", run.Decision.Action)
		if run.Decision.RequiresHumanReview {
			fmt.Fprint(w, " [human review]")
		}
		fmt.Fprintln(w)
		if len(run.Decision.EscalationReasons) > 0 {
			fmt.Fprintf(w, "  Reasons:  %s\n", strings.Join(run.Decision.EscalationReasons, ", "))
		}
	}
	if run.LowConfidencePath {
		fmt.Fprintln(w, "  Note:     risk confidence too low for evidence analysis")
	}
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

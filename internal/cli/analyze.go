package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/verdict/internal/logging"
	"github.com/ppiankov/verdict/internal/model"
	"github.com/ppiankov/verdict/internal/pipeline"
)

var (
	outJSON        string
	outMD          string
	inputFile      string
	analyzeTimeout time.Duration
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze [transcript]",
	Short: "Analyze one transcript and print the moderation decision",
	Long: `Analyze runs a single transcript through the moderation pipeline:
- Extract factual claims
- Assess transcript-level risk
- Retrieve evidence and assess factuality (Medium and High risk only)
- Interpret the platform policy
- Map the results to one action and escalate when uncertain

The transcript is taken from the arguments, from --file, or from stdin
when --file is "-".

Example:
  verdict analyze "Drinking bleach cures covid"
  verdict analyze --file transcript.txt --json run.json --md run.md
  cat transcript.txt | verdict analyze --file -`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&inputFile, "file", "f", "", `read the transcript from a file ("-" for stdin)`)
	analyzeCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (optional)")
	analyzeCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 3*time.Minute, "overall run deadline")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	transcript, err := readTranscript(args, inputFile, os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	res, err := Resolve(cfg, log, nil)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), analyzeTimeout)
	defer cancel()

	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "⚙️  Analyzing transcript (%d chars)...\n", len(transcript))
	}

	run, runErr := res.Sequencer.Run(ctx, transcript)
	if run != nil {
		if err := writeOutputs(run, outJSON, outMD); err != nil {
			log.Warn("write outputs", zap.Error(err))
		}
		pipeline.RenderSummary(os.Stderr, run)
	}
	if runErr != nil {
		return fmt.Errorf("analysis failed: %w", runErr)
	}
	return nil
}

// readTranscript takes the transcript from args, a file, or stdin
func readTranscript(args []string, file string, stdin io.Reader) (string, error) {
	var text string
	switch {
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read transcript: %w", err)
		}
		text = string(data)
	default:
		text = strings.Join(args, " ")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no transcript given: pass it as an argument or use --file")
	}
	return text, nil
}

func writeOutputs(run *model.PipelineRun, jsonPath, mdPath string) error {
	if jsonPath != "" {
		if err := pipeline.RenderJSON(run, jsonPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ JSON written to %s\n", jsonPath)
	}
	if mdPath != "" {
		if err := pipeline.RenderMarkdown(run, mdPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Markdown written to %s\n", mdPath)
	}
	return nil
}

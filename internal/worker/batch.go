package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ppiankov/verdict/internal/model"
)

// Analyzer runs the moderation pipeline on one transcript
type Analyzer interface {
	Run(ctx context.Context, transcript string) (*model.PipelineRun, error)
}

// Transcript is one batch input
type Transcript struct {
	ID   string `json:"id"`
	Text string `json:"transcript"`
}

// AnalyzeJob analyzes a single transcript
type AnalyzeJob struct {
	Index      int
	Transcript Transcript
	Analyzer   Analyzer
}

// Execute executes the analysis job
func (j *AnalyzeJob) Execute(ctx context.Context) Result {
	run, err := j.Analyzer.Run(ctx, j.Transcript.Text)
	return &AnalyzeResult{
		Index: j.Index,
		ID:    j.Transcript.ID,
		Run:   run,
		Error: err,
	}
}

// AnalyzeResult is the outcome for one transcript. Run is set even on
// failure so the partial trace is kept.
type AnalyzeResult struct {
	Index int
	ID    string
	Run   *model.PipelineRun
	Error error
}

// GetError returns the error from the analysis
func (r *AnalyzeResult) GetError() error {
	return r.Error
}

// BatchProcessor analyzes many transcripts concurrently
type BatchProcessor struct {
	analyzer    Analyzer
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(analyzer Analyzer, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		analyzer:    analyzer,
		concurrency: concurrency,
	}
}

// Process analyzes transcripts concurrently and returns results in input order
func (b *BatchProcessor) Process(ctx context.Context, transcripts []Transcript) []*AnalyzeResult {
	if len(transcripts) == 0 {
		return []*AnalyzeResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, tr := range transcripts {
		if !pool.Submit(&AnalyzeJob{Index: i, Transcript: tr, Analyzer: b.analyzer}) {
			break
		}
	}

	results := pool.Wait()

	out := make([]*AnalyzeResult, 0, len(results))
	for _, r := range results {
		out = append(out, r.(*AnalyzeResult))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ProcessFile reads transcripts from a file and analyzes them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*AnalyzeResult, error) {
	transcripts, err := ReadTranscriptsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read transcripts: %w", err)
	}
	return b.Process(ctx, transcripts), nil
}

// ReadTranscriptsFromFile reads one transcript per line. A line may be a
// JSON object {"id": ..., "transcript": ...} or plain text; blank lines and
// '#' comments are skipped.
func ReadTranscriptsFromFile(filePath string) ([]Transcript, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var transcripts []Transcript

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var tr Transcript
		if strings.HasPrefix(line, "{") {
			if err := json.Unmarshal([]byte(line), &tr); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		} else {
			tr.Text = line
		}
		if strings.TrimSpace(tr.Text) == "" {
			return nil, fmt.Errorf("line %d: empty transcript", lineNo)
		}
		if tr.ID == "" {
			tr.ID = fmt.Sprintf("line-%d", lineNo)
		}
		transcripts = append(transcripts, tr)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return transcripts, nil
}

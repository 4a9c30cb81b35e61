package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ppiankov/medfuse/internal/model"
)

// Runner answers one request. The pipeline satisfies this interface.
type Runner interface {
	Run(ctx context.Context, req model.Request) *model.PipelineResult
}

// AskJob runs one request through the pipeline
type AskJob struct {
	Index   int
	Request model.Request
	Runner  Runner
}

// Execute executes the job
func (j *AskJob) Execute(ctx context.Context) Result {
	return &AskResult{
		Index:   j.Index,
		Request: j.Request,
		Result:  j.Runner.Run(ctx, j.Request),
	}
}

// AskResult is the outcome of one batch request
type AskResult struct {
	Index   int
	Request model.Request
	Result  *model.PipelineResult
}

// GetError returns an error when the run failed
func (r *AskResult) GetError() error {
	if r.Result == nil {
		return errors.New("no result")
	}
	if r.Result.Status == model.StatusFailed {
		return fmt.Errorf("%s: %s", r.Result.FailedStage, r.Result.Error)
	}
	return nil
}

// BatchProcessor answers many requests concurrently
type BatchProcessor struct {
	runner      Runner
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(runner Runner, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		runner:      runner,
		concurrency: concurrency,
	}
}

// ProcessRequests runs all requests and returns results in input order.
// Requests still queued when ctx is cancelled are reported as failed.
func (b *BatchProcessor) ProcessRequests(ctx context.Context, reqs []model.Request) []*AskResult {
	if len(reqs) == 0 {
		return []*AskResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	defer pool.Stop()

	// Submit from a separate goroutine so results drain while the queue fills
	go func() {
		defer pool.Close()
		for i, req := range reqs {
			if !pool.Submit(&AskJob{Index: i, Request: req, Runner: b.runner}) {
				return
			}
		}
	}()

	out := make([]*AskResult, len(reqs))
	for res := range pool.Results() {
		if ask, ok := res.(*AskResult); ok {
			out[ask.Index] = ask
			continue
		}
		slog.Warn("batch job produced no answer", "error", res.GetError())
	}

	for i, r := range out {
		if r == nil {
			out[i] = &AskResult{Index: i, Request: reqs[i], Result: unfinishedResult(reqs[i], ctx.Err())}
		}
	}
	return out
}

// ProcessFile reads requests from a JSONL file and processes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*AskResult, error) {
	reqs, err := ReadRequestsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}

	return b.ProcessRequests(ctx, reqs), nil
}

// maxLineBytes bounds one JSONL line
const maxLineBytes = 1 << 20

// ReadRequestsFromFile reads one JSON request per line. Blank lines and lines
// starting with # are skipped.
func ReadRequestsFromFile(filePath string) ([]model.Request, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var reqs []model.Request

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var req model.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		reqs = append(reqs, req)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return reqs, nil
}

// unfinishedResult stands in for a request that never produced a result
func unfinishedResult(req model.Request, err error) *model.PipelineResult {
	msg := "request was not processed"
	if err != nil {
		msg = err.Error()
	}
	return &model.PipelineResult{
		PatientID:   req.PatientID,
		Question:    req.Question,
		Claims:      []model.Claim{},
		Findings:    []model.SafetyFinding{},
		Status:      model.StatusFailed,
		FailedStage: "queued",
		Error:       msg,
		Stages:      []string{},
	}
}

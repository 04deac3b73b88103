// Package batch processes a dataset through an assemble/invoke/process
// pipeline with a fixed worker pool, appending results to a JSONL output file
// and resuming from it on restart.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llmutils/llmutils/internal/jsonl"
)

// DefaultIDKey is the dataset field that identifies an item.
const DefaultIDKey = "id"

// Item is a single dataset entry.
type Item = jsonl.Record

// Pipeline holds the three per-item stages. Process may return a nil record
// to skip writing the item to the output file.
type Pipeline struct {
	Assemble func(item Item) (interface{}, error)
	Invoke   func(ctx context.Context, input interface{}) (interface{}, error)
	Process  func(item Item, input, result interface{}) (Item, error)
}

// Summary reports what a run did.
type Summary struct {
	Total     int
	Skipped   int
	Processed int
	Failed    int
}

// Runner executes pipelines over datasets.
type Runner struct {
	// Workers sets pool size; values below 1 run sequentially.
	Workers int

	// IDKey selects the identifier field (DefaultIDKey when empty).
	IDKey string

	Logger *zap.Logger
}

// Run processes every dataset item not already present in outputPath.
// Item failures are logged and counted, they do not abort the batch;
// the run stops early only on context cancellation.
func (r *Runner) Run(ctx context.Context, dataset []Item, p Pipeline, outputPath string) (*Summary, error) {
	idKey := r.IDKey
	if idKey == "" {
		idKey = DefaultIDKey
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	completed, err := jsonl.CompletedIDs(outputPath, idKey)
	if err != nil {
		return nil, fmt.Errorf("reading existing results from %q: %w", outputPath, err)
	}

	pending := make([]Item, 0, len(dataset))
	for _, item := range dataset {
		if id, ok := item[idKey]; ok {
			if _, done := completed[fmt.Sprint(id)]; done {
				continue
			}
		}
		pending = append(pending, item)
	}

	summary := &Summary{
		Total:   len(dataset),
		Skipped: len(dataset) - len(pending),
	}

	logger.Info("starting batch run",
		zap.Int("total", summary.Total),
		zap.Int("skipped", summary.Skipped),
		zap.Int("pending", len(pending)),
		zap.Int("workers", r.Workers),
		zap.String("output", outputPath))

	var mu sync.Mutex // guards summary counters and output appends

	worker := func(item Item) {
		record, err := r.processItem(ctx, logger, item, p, idKey)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.Failed++
			logger.Warn("item failed",
				zap.Any(idKey, item[idKey]),
				zap.Error(err))
			return
		}
		summary.Processed++
		if record == nil {
			return
		}
		if err := jsonl.Append(outputPath, []jsonl.Record{record}); err != nil {
			summary.Failed++
			summary.Processed--
			logger.Error("appending result failed",
				zap.Any(idKey, item[idKey]),
				zap.Error(err))
		}
	}

	var runErr error
	if r.Workers <= 1 {
		for _, item := range pending {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
			worker(item)
		}
	} else {
		jobs := make(chan Item)
		var wg sync.WaitGroup
		for i := 0; i < r.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range jobs {
					worker(item)
				}
			}()
		}

	feed:
		for _, item := range pending {
			select {
			case jobs <- item:
			case <-ctx.Done():
				runErr = ctx.Err()
				break feed
			}
		}
		close(jobs)
		wg.Wait()
	}

	logger.Info("batch run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))

	return summary, runErr
}

// processItem runs the three pipeline stages for one item.
func (r *Runner) processItem(ctx context.Context, logger *zap.Logger, item Item, p Pipeline, idKey string) (Item, error) {
	start := time.Now()

	input, err := p.Assemble(item)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	result, err := p.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("invoke: %w", err)
	}

	record, err := p.Process(item, input, result)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}

	logger.Debug("item processed",
		zap.Any(idKey, item[idKey]),
		zap.Duration("elapsed", time.Since(start)))

	return record, nil
}

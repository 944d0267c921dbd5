// internal/batch/scheduler.go
package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SubBatchResult records the outcome of one on-chain transaction covering a
// chunk of recipients.
type SubBatchResult struct {
	Index      int      `json:"index"`
	Recipients []string `json:"recipients"`
	Signature  string   `json:"signature,omitempty"`
	Success    bool     `json:"success"`
	Error      string   `json:"error,omitempty"`
}

// Result aggregates a whole batch run. SuccessCount+FailureCount always
// equals len of the original recipient list.
type Result struct {
	Total        int              `json:"total"`
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
	SubBatches   []SubBatchResult `json:"sub_batches"`
}

// Executor runs one sub-batch end to end (build, sign, submit, confirm) and
// returns the confirmed signature.
type Executor func(ctx context.Context, recipients []string) (signature string, err error)

// Scheduler splits a recipient list into bounded chunks and runs them
// strictly sequentially. A failed chunk is recorded and the run continues;
// recipients in later chunks still get paid.
type Scheduler struct {
	chunkSize     int
	maxRecipients int
	logger        *zap.Logger
}

func New(chunkSize, maxRecipients int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		chunkSize:     chunkSize,
		maxRecipients: maxRecipients,
		logger:        logger.Named("batch"),
	}
}

// Validate rejects recipient lists the scheduler will not run.
func (s *Scheduler) Validate(recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("empty recipient list")
	}
	if len(recipients) > s.maxRecipients {
		return fmt.Errorf("too many recipients: %d exceeds the limit of %d", len(recipients), s.maxRecipients)
	}
	return nil
}

// Run executes the batch. It never aborts between chunks: the result carries
// a per-chunk outcome for every recipient, successful or not.
func (s *Scheduler) Run(ctx context.Context, recipients []string, exec Executor) (*Result, error) {
	if err := s.Validate(recipients); err != nil {
		return nil, err
	}

	chunks := chunk(recipients, s.chunkSize)
	result := &Result{Total: len(recipients)}

	for i, c := range chunks {
		sub := SubBatchResult{Index: i, Recipients: c}

		sig, err := exec(ctx, c)
		if err != nil {
			sub.Error = err.Error()
			result.FailureCount += len(c)
			s.logger.Warn("sub-batch failed, continuing",
				zap.Int("sub_batch", i),
				zap.Int("recipients", len(c)),
				zap.Error(err))
		} else {
			sub.Signature = sig
			sub.Success = true
			result.SuccessCount += len(c)
		}
		result.SubBatches = append(result.SubBatches, sub)
	}

	s.logger.Info("batch complete",
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailureCount))
	return result, nil
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	return append(out, items)
}

package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// ErrorLogger is River's ErrorHandler: it logs failures and panics and
// leaves the retry decision to the RetryPolicy.
type ErrorLogger struct {
	logger *slog.Logger
}

func NewErrorLogger(logger *slog.Logger) *ErrorLogger {
	return &ErrorLogger{logger: logger}
}

func (h *ErrorLogger) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.logger.ErrorContext(ctx, "job failed",
		"job_id", job.ID,
		"kind", job.Kind,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)
	return nil
}

func (h *ErrorLogger) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.logger.ErrorContext(ctx, "job panicked",
		"job_id", job.ID,
		"kind", job.Kind,
		"attempt", job.Attempt,
		"error", fmt.Errorf("panic: %v", panicVal),
		"trace", trace,
	)
	return nil
}

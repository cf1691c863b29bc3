package pipeline

import (
	"context"
	"log/slog"
	"time"

	"medevent/internal/types"
)

// JobTypeCertificateSweep is the job_history type for processor runs.
const JobTypeCertificateSweep = "certificate_sweep"

// JobHistory records sweep executions for operator visibility.
type JobHistory interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// RunSweep executes one processor invocation bracketed by job_history rows.
// Bookkeeping failures are logged and ignored; they must not turn a
// successful sweep into a failed one. Both the cron endpoint and the
// scheduled worker run sweeps through here.
func RunSweep(ctx context.Context, p *BatchProcessor, jobs JobHistory, logger *slog.Logger, now time.Time) (types.ProcessSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var jobID int64
	if jobs != nil {
		var err error
		jobID, err = jobs.Start(ctx, JobTypeCertificateSweep)
		if err != nil {
			logger.ErrorContext(ctx, "failed to record sweep start", "error", err)
			jobs = nil
		}
	}

	summary, err := p.Process(ctx, now)

	if jobs != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		if finishErr := jobs.Finish(ctx, jobID, status, summary.TasksProcessed, err); finishErr != nil {
			logger.ErrorContext(ctx, "failed to record sweep finish", "job_id", jobID, "error", finishErr)
		}
	}
	return summary, err
}

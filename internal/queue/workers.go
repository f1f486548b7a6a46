package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// BridgeRunner is the part of the bridge service the workers drive.
type BridgeRunner interface {
	Execute(ctx context.Context, transferID string) error
	Poll(ctx context.Context, transferID string, attempt int) (bool, error)
}

// TransferWorker executes bridge_transfer jobs.
type TransferWorker struct {
	river.WorkerDefaults[TransferArgs]
	runner BridgeRunner
	logger *slog.Logger
}

// NewTransferWorker creates a TransferWorker.
func NewTransferWorker(runner BridgeRunner, logger *slog.Logger) *TransferWorker {
	return &TransferWorker{runner: runner, logger: logger}
}

// Work hands the transfer to the provider. A missing transfer cancels the
// job instead of retrying it.
func (w *TransferWorker) Work(ctx context.Context, job *river.Job[TransferArgs]) error {
	err := w.runner.Execute(ctx, job.Args.TransferID)
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.WarnContext(ctx, "queue: transfer job for unknown transfer",
			slog.String("transfer_id", job.Args.TransferID),
			slog.Int64("job_id", job.ID),
		)
		return river.JobCancel(err)
	}
	return err
}

// PollWorker executes transfer_poll jobs.
type PollWorker struct {
	river.WorkerDefaults[PollArgs]
	runner BridgeRunner
	logger *slog.Logger
}

// NewPollWorker creates a PollWorker.
func NewPollWorker(runner BridgeRunner, logger *slog.Logger) *PollWorker {
	return &PollWorker{runner: runner, logger: logger}
}

// Work polls the provider once. The bridge service schedules the next
// poll itself, so a failed poll is retried by river only for transient
// errors.
func (w *PollWorker) Work(ctx context.Context, job *river.Job[PollArgs]) error {
	terminal, err := w.runner.Poll(ctx, job.Args.TransferID, job.Args.Attempt)
	if errors.Is(err, domain.ErrNotFound) {
		return river.JobCancel(err)
	}
	if err != nil {
		return err
	}
	if terminal {
		w.logger.DebugContext(ctx, "queue: transfer reached terminal state",
			slog.String("transfer_id", job.Args.TransferID),
			slog.Int("attempt", job.Args.Attempt),
		)
	}
	return nil
}

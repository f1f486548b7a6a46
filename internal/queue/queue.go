package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// Inserter is the insert side of a river client.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Queue implements domain.JobQueue on river.
type Queue struct {
	ins    Inserter
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Queue that inserts through ins.
func New(ins Inserter, logger *slog.Logger) *Queue {
	return &Queue{ins: ins, now: time.Now, logger: logger.With(slog.String("component", "queue"))}
}

// EnqueueTransfer schedules the provider call for a transfer. Repeated
// enqueues of the same transfer collapse into one job.
func (q *Queue) EnqueueTransfer(ctx context.Context, transferID string) error {
	res, err := q.ins.Insert(ctx, TransferArgs{TransferID: transferID}, &river.InsertOpts{
		Queue:       queueBridge,
		MaxAttempts: transferMaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("queue: enqueue transfer %s: %w", transferID, err)
	}
	if res != nil && res.UniqueSkippedAsDuplicate {
		q.logger.DebugContext(ctx, "queue: transfer job already queued", slog.String("transfer_id", transferID))
	}
	return nil
}

// EnqueuePoll schedules a status poll delay from now.
func (q *Queue) EnqueuePoll(ctx context.Context, transferID string, attempt int, delay time.Duration) error {
	_, err := q.ins.Insert(ctx, PollArgs{TransferID: transferID, Attempt: attempt}, &river.InsertOpts{
		Queue:       queueBridge,
		MaxAttempts: pollMaxAttempts,
		ScheduledAt: q.now().Add(delay),
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("queue: enqueue poll %s#%d: %w", transferID, attempt, err)
	}
	return nil
}

var _ domain.JobQueue = (*Queue)(nil)

// ClientConfig configures the river client. With Runner nil the client
// only inserts jobs and never works them.
type ClientConfig struct {
	MaxWorkers int
	Runner     BridgeRunner
}

// NewClient builds a river client over pool.
func NewClient(pool *pgxpool.Pool, cfg ClientConfig, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	rcfg := &river.Config{Logger: logger}
	if cfg.Runner != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, NewTransferWorker(cfg.Runner, logger))
		river.AddWorker(workers, NewPollWorker(cfg.Runner, logger))

		maxWorkers := cfg.MaxWorkers
		if maxWorkers < 1 {
			maxWorkers = 10
		}
		rcfg.Workers = workers
		rcfg.Queues = map[string]river.QueueConfig{
			queueBridge: {MaxWorkers: maxWorkers},
		}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), rcfg)
	if err != nil {
		return nil, fmt.Errorf("queue: create river client: %w", err)
	}
	return client, nil
}

// Migrate brings river's own tables up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("queue: create migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
	if err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	for _, v := range res.Versions {
		logger.Info("queue: applied river migration", slog.Int("version", v.Version))
	}
	return nil
}

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/outbound"
	"github.com/omnidesk/backend/internal/service"
)

const (
	QueueOutbound = "outbound"

	DefaultMaxWorkers      = 10
	DefaultProcessInterval = 30 * time.Second
)

// DispatchArgs sends one stored outbound message. A failed send is recorded on the
// message and never retried by the queue.
type DispatchArgs struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

func (DispatchArgs) Kind() string { return "dispatch_message" }

func (DispatchArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueOutbound, MaxAttempts: 1}
}

type DispatchWorker struct {
	river.WorkerDefaults[DispatchArgs]
	Dispatcher service.Dispatcher
	JobTimeout time.Duration
	Logger     zerolog.Logger
}

func (w *DispatchWorker) Timeout(job *river.Job[DispatchArgs]) time.Duration {
	if w.JobTimeout > 0 {
		return w.JobTimeout
	}
	return 2 * outbound.DefaultSendTimeout
}

func (w *DispatchWorker) Work(ctx context.Context, job *river.Job[DispatchArgs]) error {
	args := job.Args
	res := w.Dispatcher.Dispatch(ctx, args.TenantID, args.ConversationID, args.MessageID)
	if !res.Sent {
		w.Logger.Warn().
			Str("tenant_id", args.TenantID).
			Str("conversation_id", args.ConversationID).
			Str("message_id", args.MessageID).
			Str("error", res.Error).
			Msg("queued dispatch failed")
	}
	return nil
}

// ProcessQueueArgs drains one tenant's queue, or every tenant with waiting
// conversations when TenantID is empty.
type ProcessQueueArgs struct {
	TenantID string `json:"tenant_id,omitempty"`
}

func (ProcessQueueArgs) Kind() string { return "process_queue" }

func (ProcessQueueArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type ProcessQueueWorker struct {
	river.WorkerDefaults[ProcessQueueArgs]
	Processing *service.ProcessingService
	Logger     zerolog.Logger
}

func (w *ProcessQueueWorker) Work(ctx context.Context, job *river.Job[ProcessQueueArgs]) error {
	if job.Args.TenantID != "" {
		_, err := w.Processing.ProcessQueue(ctx, job.Args.TenantID)
		return err
	}
	summaries, err := w.Processing.ProcessAll(ctx)
	if err != nil {
		return err
	}
	routed := 0
	for _, s := range summaries {
		routed += s.Routed
	}
	if routed > 0 {
		w.Logger.Info().Int("tenants", len(summaries)).Int("routed", routed).Msg("periodic queue pass")
	}
	return nil
}

type Config struct {
	MaxWorkers      int
	ProcessInterval time.Duration
	SendTimeout     time.Duration
}

// Runner owns the River client that runs outbound dispatch and queue processing.
type Runner struct {
	client *river.Client[pgx.Tx]
	logger zerolog.Logger
}

func New(pool *pgxpool.Pool, dispatcher service.Dispatcher, processing *service.ProcessingService, cfg Config, logger zerolog.Logger) (*Runner, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = DefaultProcessInterval
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &DispatchWorker{Dispatcher: dispatcher, JobTimeout: cfg.SendTimeout * 2, Logger: logger})
	river.AddWorker(workers, &ProcessQueueWorker{Processing: processing, Logger: logger})

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.ProcessInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ProcessQueueArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
			QueueOutbound:      {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Runner{client: client, logger: logger}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	return r.client.Start(ctx)
}

func (r *Runner) Stop(ctx context.Context) error {
	return r.client.Stop(ctx)
}

func (r *Runner) EnqueueDispatch(ctx context.Context, tenantID, conversationID, messageID string) error {
	_, err := r.client.Insert(ctx, DispatchArgs{TenantID: tenantID, ConversationID: conversationID, MessageID: messageID}, nil)
	if err != nil {
		return fmt.Errorf("enqueue dispatch: %w", err)
	}
	return nil
}

func (r *Runner) EnqueueProcessQueue(ctx context.Context, tenantID string) error {
	_, err := r.client.Insert(ctx, ProcessQueueArgs{TenantID: tenantID}, nil)
	if err != nil {
		return fmt.Errorf("enqueue queue processing: %w", err)
	}
	return nil
}

// Migrate applies River's own tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return 0, err
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return 0, err
	}
	return len(res.Versions), nil
}

package signing

import (
	"context"
	"math"
	"time"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkerConfig tunes polling and retry.
type WorkerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Lease is how long a running task may stay claimed before another worker reclaims it.
	Lease time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Minute
	}
	if c.Lease <= 0 {
		c.Lease = 10 * time.Minute
	}
	return c
}

// Worker drains the signature task queue.
type Worker struct {
	DB           *gorm.DB
	Orchestrator *Orchestrator
	Config       WorkerConfig
	ID           string
	Now          func() time.Time

	wake chan struct{}
}

// NewWorker builds a worker with a random id.
func NewWorker(db *gorm.DB, o *Orchestrator, cfg WorkerConfig) *Worker {
	return &Worker{
		DB:           db,
		Orchestrator: o,
		Config:       cfg.withDefaults(),
		ID:           "signing-" + uuid.NewString()[:8],
		wake:         make(chan struct{}, 1),
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

// Notify wakes the worker without waiting for the next tick. Never blocks.
func (w *Worker) Notify() {
	if w == nil || w.wake == nil {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.Config.withDefaults()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	log.Info().Str("worker_id", w.ID).Dur("interval", cfg.Interval).Msg("signing worker started")
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("worker_id", w.ID).Msg("signing worker batch failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Str("worker_id", w.ID).Msg("signing worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// RunOnce claims one batch and processes it, returning how many tasks were attempted.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.claim(ctx)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		if ctx.Err() != nil {
			break
		}
		w.process(ctx, &tasks[i])
	}
	return len(tasks), nil
}

func (w *Worker) claim(ctx context.Context) ([]domain.SignatureTask, error) {
	cfg := w.Config.withDefaults()
	now := w.now()
	var tasks []domain.SignatureTask
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND next_run_at <= ?) OR (status = ? AND locked_at < ?)",
				domain.TaskPending, now, domain.TaskRunning, now.Add(-cfg.Lease)).
			Order("next_run_at ASC").
			Limit(cfg.BatchSize).
			Find(&tasks).Error
		if err != nil || len(tasks) == 0 {
			return err
		}
		ids := make([]interface{}, 0, len(tasks))
		for _, t := range tasks {
			ids = append(ids, t.ID)
		}
		return tx.Model(&domain.SignatureTask{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":    domain.TaskRunning,
			"locked_by": w.ID,
			"locked_at": now,
		}).Error
	})
	return tasks, err
}

func (w *Worker) process(ctx context.Context, task *domain.SignatureTask) {
	cfg := w.Config.withDefaults()
	logger := log.With().Str("task_id", task.ID.String()).Uint("signature_request_id", task.SignatureRequestID).Logger()

	err := w.Orchestrator.Run(ctx, task.SignatureRequestID)
	if err == nil {
		w.finish(ctx, task, map[string]interface{}{"status": domain.TaskDone, "locked_by": "", "last_error": ""})
		logger.Info().Msg("signature task done")
		return
	}

	attempts := task.Attempts + 1
	updates := map[string]interface{}{
		"attempts":   attempts,
		"locked_by":  "",
		"last_error": truncateErr(err),
	}
	if attempts >= cfg.MaxAttempts || apperrors.IsNotFound(err) {
		updates["status"] = domain.TaskDead
		logger.Error().Err(err).Int("attempts", attempts).Msg("signature task dead")
	} else {
		delay := Backoff(attempts, cfg.BackoffBase, cfg.BackoffMax)
		updates["status"] = domain.TaskPending
		updates["next_run_at"] = w.now().Add(delay)
		logger.Warn().Err(err).Int("attempts", attempts).Dur("retry_in", delay).Msg("signature task failed, will resume from checkpoint")
	}
	w.finish(ctx, task, updates)
}

func (w *Worker) finish(ctx context.Context, task *domain.SignatureTask, updates map[string]interface{}) {
	// a cancelled run context must not prevent recording the outcome
	err := w.DB.WithContext(context.WithoutCancel(ctx)).Model(&domain.SignatureTask{}).
		Where("id = ? AND locked_by = ?", task.ID, w.ID).Updates(updates).Error
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID.String()).Msg("signature task update failed")
	}
}

// Backoff is base*2^(attempt-1), capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || d > max {
		return max
	}
	return d
}

func truncateErr(err error) string {
	s := err.Error()
	if len(s) > 1000 {
		return s[:1000]
	}
	return s
}

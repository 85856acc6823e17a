package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/platform/envutil"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// Policy bounds the retry behavior of the whole pool.
type Policy struct {
	Workers           int
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	PollInterval      time.Duration
	BundleSettleDelay time.Duration
}

func PolicyFromEnv() Policy {
	return Policy{
		Workers:           envutil.Int("WORKER_COUNT", 4),
		MaxAttempts:       envutil.Int("TASK_MAX_ATTEMPTS", 5),
		RetryDelay:        envutil.Seconds("TASK_RETRY_DELAY_SECONDS", 30),
		StaleRunning:      envutil.Seconds("TASK_STALE_RUNNING_SECONDS", 120),
		PollInterval:      envutil.Seconds("TASK_POLL_INTERVAL_SECONDS", 1),
		BundleSettleDelay: envutil.Seconds("BUNDLE_SETTLE_DELAY_SECONDS", 10),
	}
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	tasks    repos.TaskRunRepo
	assets   repos.SpatialAssetRepo
	queue    *Queue
	registry *Registry
	policy   Policy
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, tasks repos.TaskRunRepo, assets repos.SpatialAssetRepo, queue *Queue, registry *Registry, policy Policy) *Worker {
	if policy.Workers <= 0 {
		policy.Workers = 1
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = time.Second
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "TaskWorker"),
		tasks:    tasks,
		assets:   assets,
		queue:    queue,
		registry: registry,
		policy:   policy,
	}
}

// Start launches the polling pool. Returns immediately; the pool stops
// when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.policy.Workers; i++ {
		g.Go(func() error {
			w.poll(gctx)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		w.log.Info("Task worker pool stopped")
	}()
	w.log.Info("Task worker pool started", "workers", w.policy.Workers)
}

func (w *Worker) poll(ctx context.Context) {
	ticker := time.NewTicker(w.policy.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := w.tasks.ClaimNextRunnable(ctx, w.db, w.policy.MaxAttempts, w.policy.RetryDelay, w.policy.StaleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "error", err)
				continue
			}
			if task == nil {
				continue
			}
			w.dispatch(ctx, task)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, task *types.TaskRun) {
	tc := NewContext(ctx, w.db, task, w.tasks, w.assets, w.queue, w.log, w.policy.MaxAttempts)
	h, ok := w.registry.Get(task.TaskType)
	if !ok {
		w.log.Error("No handler registered for task_type", "task_type", task.TaskType, "task_id", task.ID)
		tc.Exhaust("dispatch", fmt.Errorf("no handler registered for task_type=%s", task.TaskType))
		return
	}

	// A panicking handler must not take its worker down with it.
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Task handler panic", "task_id", task.ID, "task_type", task.TaskType, "panic", r)
				tc.Fail("panic", fmt.Errorf("handler panic: %v", r))
			}
		}()
		if err := h.Run(tc); err != nil {
			tc.Fail(task.TaskType, err)
		}
	}()
}

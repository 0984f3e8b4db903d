package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/nodeflow/internal/ctxkeys"
	"github.com/BaSui01/nodeflow/internal/pool"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// AdmissionRecorder observes admission decisions. metrics.Collector
// implements it.
type AdmissionRecorder interface {
	RunStarted()
	RunFinished()
	RecordRunRejected()
}

type noopAdmission struct{}

func (noopAdmission) RunStarted()        {}
func (noopAdmission) RunFinished()       {}
func (noopAdmission) RecordRunRejected() {}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxConcurrentRuns bounds runs in flight, synchronous and background.
func WithMaxConcurrentRuns(n int) Option {
	return func(r *Runner) { r.maxRuns = n }
}

// WithAdmissionRecorder reports admissions and rejections.
func WithAdmissionRecorder(rec AdmissionRecorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// Runner admits runs up to a fixed concurrency, dispatches background runs on
// a worker pool and keeps a cancel handle per active run.
type Runner struct {
	exec     *workflow.Executor
	maxRuns  int
	sem      *semaphore.Weighted
	workers  *pool.GoroutinePool
	recorder AdmissionRecorder
	logger   *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	closing bool
}

// New creates a runner over exec.
func New(exec *workflow.Executor, opts ...Option) *Runner {
	r := &Runner{
		exec:     exec,
		maxRuns:  16,
		recorder: noopAdmission{},
		active:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxRuns <= 0 {
		r.maxRuns = 1
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("component", "runner"))
	r.sem = semaphore.NewWeighted(int64(r.maxRuns))
	r.workers = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers:  r.maxRuns,
		QueueSize:   r.maxRuns,
		IdleTimeout: time.Minute,
		PanicHandler: func(v any) {
			r.logger.Error("background run panicked", zap.Any("panic", v))
		},
	})
	r.baseCtx, r.stop = context.WithCancel(context.Background())
	return r
}

// Executor returns the executor runs are dispatched to.
func (r *Runner) Executor() *workflow.Executor {
	return r.exec
}

// MaxConcurrentRuns returns the admission limit.
func (r *Runner) MaxConcurrentRuns() int {
	return r.maxRuns
}

// admit takes one run slot or fails with TOO_MANY_RUNS.
func (r *Runner) admit() error {
	r.mu.Lock()
	closing := r.closing
	r.mu.Unlock()
	if closing {
		return types.NewError(types.ErrCodeUnavailable, "server is shutting down").WithRetryable(true)
	}
	if !r.sem.TryAcquire(1) {
		r.recorder.RecordRunRejected()
		return types.Errorf(types.ErrCodeTooManyRuns, "too many concurrent runs (limit %d)", r.maxRuns).WithRetryable(true)
	}
	r.recorder.RunStarted()
	return nil
}

func (r *Runner) release() {
	r.recorder.RunFinished()
	r.sem.Release(1)
}

func (r *Runner) register(runID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[runID]; ok {
		return types.Errorf(types.ErrCodeInvalidRequest, "run %q is already active", runID)
	}
	r.active[runID] = cancel
	return nil
}

func (r *Runner) unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, runID)
}

// Run executes def synchronously in the caller's goroutine. Cancelling ctx
// cancels the run.
func (r *Runner) Run(ctx context.Context, def *workflow.Definition, inputs map[string]any, runID string) (*workflow.ExecutionReport, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	return r.sync(ctx, runID, func(ctx context.Context) (*workflow.ExecutionReport, error) {
		return r.exec.Execute(ctx, def, inputs, workflow.WithRunID(runID))
	})
}

// ResumeSync resumes runID synchronously.
func (r *Runner) ResumeSync(ctx context.Context, runID string) (*workflow.ExecutionReport, error) {
	return r.sync(ctx, runID, func(ctx context.Context) (*workflow.ExecutionReport, error) {
		return r.exec.Resume(ctx, runID)
	})
}

func (r *Runner) sync(ctx context.Context, runID string, fn func(context.Context) (*workflow.ExecutionReport, error)) (*workflow.ExecutionReport, error) {
	if err := r.admit(); err != nil {
		return nil, err
	}
	defer r.release()

	runCtx, cancel := context.WithCancel(ctxkeys.WithRunID(ctx, runID))
	defer cancel()
	if err := r.register(runID, cancel); err != nil {
		return nil, err
	}
	defer r.unregister(runID)

	return fn(runCtx)
}

// Start validates def and runs it in the background. It returns once the run
// record is persisted, so the id is immediately readable from the store.
// Validation and store errors are returned directly.
func (r *Runner) Start(ctx context.Context, def *workflow.Definition, inputs map[string]any, runID string) (string, error) {
	if result := r.exec.Validator().Validate(def); !result.Valid {
		id := ""
		if def != nil {
			id = def.ID
		}
		return "", &workflow.ValidationError{WorkflowID: id, Issues: result.Errors}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	err := r.background(ctx, runID, func(ctx context.Context) (*workflow.ExecutionReport, error) {
		return r.exec.Execute(ctx, def, inputs, workflow.WithRunID(runID))
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// Resume continues runID in the background.
func (r *Runner) Resume(ctx context.Context, runID string) error {
	return r.background(ctx, runID, func(ctx context.Context) (*workflow.ExecutionReport, error) {
		return r.exec.Resume(ctx, runID)
	})
}

func (r *Runner) background(ctx context.Context, runID string, fn func(context.Context) (*workflow.ExecutionReport, error)) error {
	if err := r.admit(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctxkeys.WithRunID(r.baseCtx, runID))
	if err := r.register(runID, cancel); err != nil {
		cancel()
		r.release()
		return err
	}

	// 第一个事件（run_started）意味着运行记录已落盘
	ready := make(chan error, 1)
	var once sync.Once
	signal := func(err error) { once.Do(func() { ready <- err }) }
	runCtx = workflow.WithEventEmitter(runCtx, func(workflow.RunEvent) { signal(nil) })

	task := func(ctx context.Context) error {
		defer r.release()
		defer r.unregister(runID)
		defer cancel()

		report, err := fn(ctx)
		signal(err)
		switch {
		case err != nil:
			r.logger.Warn("background run ended with error", zap.String("run_id", runID), zap.Error(err))
			return err
		case !report.Success:
			r.logger.Info("background run did not complete",
				zap.String("run_id", runID),
				zap.Bool("cancelled", report.Cancelled),
				zap.String("failed_node_id", report.FailedNodeID))
		default:
			r.logger.Info("background run completed",
				zap.String("run_id", runID),
				zap.Float64("cost", report.TotalCost))
		}
		return nil
	}

	if err := r.workers.Submit(runCtx, task); err != nil {
		r.unregister(runID)
		cancel()
		r.release()
		return types.NewError(types.ErrCodeTooManyRuns, "run queue is full").WithCause(err).WithRetryable(true)
	}

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		// 调用方不再等待，运行照常继续
		return nil
	}
}

// Cancel cancels an active run. It reports false when no run with that id is
// active in this process.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[runID]
	r.mu.Unlock()
	if ok {
		r.logger.Info("cancelling run", zap.String("run_id", runID))
		cancel()
	}
	return ok
}

// IsActive reports whether runID is executing in this process.
func (r *Runner) IsActive(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[runID]
	return ok
}

// Active lists runs executing in this process.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats returns the background pool statistics.
func (r *Runner) Stats() pool.GoroutinePoolStats {
	return r.workers.Stats()
}

// Shutdown stops admitting runs and waits for background runs to finish.
// When ctx ends first the remaining runs are cancelled; their records end up
// cancelled and can be resumed later.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	err := r.workers.Wait(ctx)
	if err != nil {
		r.logger.Warn("cancelling unfinished runs", zap.Strings("run_ids", r.Active()))
	}
	r.stop()
	r.workers.Close()
	if err != nil {
		return fmt.Errorf("runner shutdown: %w", err)
	}
	return nil
}

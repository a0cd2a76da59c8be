// Package worker runs import jobs in a pool of background workers and
// exposes their progress to pollers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State of a job as exposed to the polling API.
type State string

const (
	StatePending State = "PENDING"
	StateWorking State = "WORKING"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
)

// Status is the externally visible state of one job.
type Status struct {
	State State  `json:"state"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
}

// Reporter lets a running job publish its current stage.
type Reporter interface {
	Report(stage string)
}

// JobFunc is the unit of work a job executes.
type JobFunc func(ctx context.Context, reporter Reporter, logger *logrus.Entry) error

// ErrActive is returned when a job with the same dedup key is already
// queued or running.
var ErrActive = errors.New("a job for this source is already active")

type job struct {
	id  string
	key string
	fn  JobFunc
}

// Runtime is the in-process worker pool. At most one job per dedup key is
// active at a time; terminal statuses stay queryable for the lifetime of
// the process.
type Runtime struct {
	logger  *logrus.Entry
	workers int
	timeout time.Duration
	queue   chan *job

	mu      sync.Mutex
	status  map[string]Status
	active  map[string]string // dedup key → job id
	entropy *rand.Rand
}

// NewRuntime creates a pool of the given size. Jobs exceeding timeout are
// cancelled and fail through the normal cleanup path.
func NewRuntime(workers, queueSize int, timeout time.Duration, logger *logrus.Entry) *Runtime {
	return &Runtime{
		logger:  logger,
		workers: workers,
		timeout: timeout,
		queue:   make(chan *job, queueSize),
		status:  map[string]Status{},
		active:  map[string]string{},
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run processes jobs until ctx is cancelled and all workers drain.
func (r *Runtime) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		worker := i
		group.Go(func() error {
			logger := r.logger.WithField("worker", worker)
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case queued := <-r.queue:
					r.process(ctx, queued, logger)
				}
			}
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Submit queues a job under a dedup key and returns its id.
func (r *Runtime) Submit(key string, fn JobFunc) (string, error) {
	r.mu.Lock()
	if _, active := r.active[key]; active {
		r.mu.Unlock()
		return "", ErrActive
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
	r.active[key] = id
	r.status[id] = Status{State: StatePending}
	r.mu.Unlock()

	select {
	case r.queue <- &job{id: id, key: key, fn: fn}:
		return id, nil
	default:
		r.mu.Lock()
		delete(r.active, key)
		delete(r.status, id)
		r.mu.Unlock()
		return "", fmt.Errorf("job queue is full")
	}
}

// Status returns the state of a job and whether the id is known.
func (r *Runtime) Status(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.status[id]
	return status, ok
}

func (r *Runtime) process(ctx context.Context, queued *job, logger *logrus.Entry) {
	jobLogger := logger.WithField("job", queued.id)
	jobLogger.Info("Starting job")
	r.setStatus(queued.id, Status{State: StateWorking})
	importsStarted.Inc()

	jobCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := time.Now()
	err := queued.fn(jobCtx, &taskReporter{runtime: r, id: queued.id}, jobLogger)
	jobDuration.Observe(time.Since(started).Seconds())

	r.mu.Lock()
	delete(r.active, queued.key)
	r.mu.Unlock()

	if err != nil {
		importsFailed.Inc()
		r.setStatus(queued.id, Status{State: StateFailure, Error: err.Error()})
		jobLogger.WithError(err).Error("Job failed")
		return
	}
	importsSucceeded.Inc()
	r.setStatus(queued.id, Status{State: StateSuccess})
	jobLogger.Info("Job finished")
}

func (r *Runtime) setStatus(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[id] = status
}

// taskReporter publishes stage changes of one job.
type taskReporter struct {
	runtime *Runtime
	id      string
}

func (t *taskReporter) Report(stage string) {
	t.runtime.setStatus(t.id, Status{State: StateWorking, Stage: stage})
	stagesReported.WithLabelValues(stage).Inc()
}

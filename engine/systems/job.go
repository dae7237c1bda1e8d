package systems

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/core"
)

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system is shut down")

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	/** @brief Used in logs when the job fails. */
	Name string
	/** @brief Invoked when the job starts. Required. */
	Run func(ctx context.Context) error
	/** @brief Invoked when the job succeeds. Optional. */
	OnComplete func()
	/** @brief Invoked with the job's error when it fails. Optional. */
	OnFailure func(error)
	/** @brief Invoked after OnComplete or OnFailure. Optional. */
	OnCompletionCallback func()
}

type queuedJob struct {
	ctx  context.Context
	task JobTask
	done func(error)
}

// JobSystem is a fixed pool of worker goroutines fed through a channel.
type JobSystem struct {
	numWorkers int
	jobQueue   chan queuedJob
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan queuedJob, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				err := run(job)
				if job.done != nil {
					job.done(err)
				}
			}
		}()
	}
}

func run(job queuedJob) error {
	err := job.ctx.Err()
	if err == nil {
		err = job.task.Run(job.ctx)
	}
	if err != nil {
		err = errors.Wrapf(err, "job %q", job.task.Name)
		core.LogError(err.Error())
		if job.task.OnFailure != nil {
			job.task.OnFailure(err)
		}
	} else if job.task.OnComplete != nil {
		job.task.OnComplete()
	}
	if job.task.OnCompletionCallback != nil {
		job.task.OnCompletionCallback()
	}
	return err
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full.
 */
func (js *JobSystem) Submit(ctx context.Context, jt JobTask) error {
	return js.enqueue(queuedJob{ctx: ctx, task: jt})
}

func (js *JobSystem) enqueue(job queuedJob) error {
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	select {
	case js.jobQueue <- job:
		return nil
	case <-job.ctx.Done():
		return job.ctx.Err()
	}
}

// Execute runs tasks on the pool and waits for all of them. Failures are
// combined into one error.
func (js *JobSystem) Execute(ctx context.Context, tasks []JobTask) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		result = errors.CombineErrors(result, err)
		mu.Unlock()
	}

	for _, t := range tasks {
		wg.Add(1)
		job := queuedJob{ctx: ctx, task: t, done: func(err error) {
			record(err)
			wg.Done()
		}}
		if err := js.enqueue(job); err != nil {
			wg.Done()
			record(err)
			break
		}
	}
	wg.Wait()
	return result
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chainwatch/chainwatch/pkg/logging"
)

// Task is a named periodic job. Run is invoked once per interval; its error
// is logged, never propagated.
type Task struct {
	Name     string
	Interval time.Duration
	Jitter   time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a set of periodic tasks, one goroutine per task. Each
// task fires on its own ticker; a slow or failing task never delays the
// others.
type Scheduler struct {
	tasks   []Task
	logger  *logging.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{
		logger: logging.GetLogger(),
	}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.Name)
	}
	if task.Run == nil {
		return fmt.Errorf("task %s: run function is required", task.Name)
	}

	s.tasks = append(s.tasks, task)
	return nil
}

// Start launches all registered tasks. Each runs until Stop is called or
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(ctx, task)
	}

	s.logger.Info("Scheduler started", "tasks", len(s.tasks))
	return nil
}

// Stop cancels all tasks and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer s.wg.Done()

	// Spread startup so tasks sharing an interval don't fire in lockstep
	if task.Jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(task.Jitter)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

// runOnce executes one tick with panic isolation
func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled task panicked",
				"task", task.Name,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	start := time.Now()
	if err := task.Run(ctx); err != nil {
		s.logger.WithError(err).WithFields(logging.Fields{
			"task":     task.Name,
			"duration": time.Since(start).String(),
		}).Error("Scheduled task failed")
		return
	}

	s.logger.Debug("Scheduled task completed",
		"task", task.Name,
		"duration", time.Since(start).String(),
	)
}

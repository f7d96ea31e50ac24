// Package scheduler runs bundles on recurring timing policies.
//
// Interval tasks each own a cron entry. Time-of-day tasks share one tick
// entry that scans for due tasks; the tick exists only while at least one
// such task is registered, and the cron runner only while any entry exists.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/briefd/internal/bundle"
)

// DefaultTick is the scan period for time-of-day tasks.
const DefaultTick = 60 * time.Second

// Runner executes one bundle. *bundle.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, req bundle.Request) bundle.Result
}

// TaskConfig is what Start needs to schedule a bundle.
type TaskConfig struct {
	Request bundle.Request
	Policy  Policy
}

// Status is a read-only snapshot of a task.
type Status struct {
	IsActive       bool          `json:"isActive"`
	IsRunning      bool          `json:"isRunning"`
	Title          string        `json:"title"`
	Policy         string        `json:"policy"`
	LastResult     *string       `json:"lastResult"`
	LastStatus     bundle.Status `json:"lastStatus,omitempty"`
	LastExecutedAt *time.Time    `json:"lastExecutedAt"`
	NextRunAt      *time.Time    `json:"nextRunAt"`
	ExecutionCount int           `json:"executionCount"`
}

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	Tick     time.Duration
	Location *time.Location
}

// Scheduler starts, stops and reports on recurring bundle tasks.
type Scheduler struct {
	reg    *Registry
	runner Runner
	cron   *cron.Cron
	tick   time.Duration
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger

	// mu serializes Start, Stop and StopAll, and guards the cron entries
	// below. It is never held while a bundle runs.
	mu        sync.Mutex
	tickEntry cron.EntryID
	entries   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler around an explicit registry.
func New(reg *Registry, runner Runner, opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		reg:    reg,
		runner: runner,
		cron:   cron.New(cron.WithLocation(opts.Location)),
		tick:   opts.Tick,
		loc:    opts.Location,
		now:    time.Now,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// intervalJob is the cron job of one interval task. It carries only the
// task reference; state is looked up on every firing.
type intervalJob struct {
	s     *Scheduler
	ref   ref
	entry atomic.Int64
}

func (j *intervalJob) Run() {
	if !j.s.reg.live(j.ref) {
		j.s.logger.Warn("orphaned timer, removing", "task", j.ref.id)
		j.s.removeEntry(cron.EntryID(j.entry.Load()))
		return
	}
	j.s.trigger(j.ref, "interval")
}

// Start schedules cfg under id, replacing any task already registered with
// that id, and triggers one immediate run.
func (s *Scheduler) Start(id string, cfg TaskConfig) error {
	if id == "" {
		return errors.New("task id is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return err
	}
	cfg.Request.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return errors.New("scheduler is closed")
	}

	var next *time.Time
	if cfg.Policy.TimeBased() {
		n, _ := cfg.Policy.Next(s.now().In(s.loc))
		next = &n
	}

	rf, prev := s.reg.put(id, cfg, next)
	if prev != nil {
		s.logger.Info("replacing task", "task", id, "runs", prev.executionCount)
		s.release(prev)
	}

	if cfg.Policy.TimeBased() {
		s.ensureTick()
	} else {
		job := &intervalJob{s: s, ref: rf}
		entry := s.cron.Schedule(cron.Every(cfg.Policy.Every()), job)
		job.entry.Store(int64(entry))
		s.reg.setEntry(rf, entry)
		s.entries++
		s.cron.Start()
	}

	s.logger.Info("task scheduled", "task", id, "title", cfg.Request.Title, "policy", cfg.Policy.String(), "next_run", next)
	s.trigger(rf, "immediate")
	return nil
}

// Stop removes the task with id. Unknown ids are ignored.
func (s *Scheduler) Stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.reg.remove(id)
	if t == nil {
		s.logger.Debug("stop: no such task", "task", id)
		return
	}
	s.release(t)
	s.logger.Info("task stopped", "task", id, "runs", t.executionCount, "remaining", s.reg.Len())
}

// StopAll removes every task and the shared tick.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.reg.clear()
	for _, t := range tasks {
		s.release(t)
	}
	s.logger.Info("all tasks stopped", "count", len(tasks))
}

// Close stops all tasks, cancels in-flight runs and waits for them to return.
func (s *Scheduler) Close() {
	s.StopAll()
	s.cancel()
	s.wg.Wait()
}

// Status returns a snapshot of the task with id.
func (s *Scheduler) Status(id string) (Status, bool) {
	return s.reg.status(id)
}

// Statuses returns snapshots of all registered tasks.
func (s *Scheduler) Statuses() map[string]Status {
	return s.reg.statuses()
}

// release drops the timers owned by a task that has already left the
// registry. Must be called with s.mu held.
func (s *Scheduler) release(t *task) {
	if t.entry != 0 {
		s.cron.Remove(t.entry)
		s.entries--
	}
	if !s.reg.hasTimeBased() {
		s.dropTick()
	}
	s.stopIdle()
}

// ensureTick adds the shared tick entry. Must be called with s.mu held.
func (s *Scheduler) ensureTick() {
	if s.tickEntry != 0 {
		return
	}
	s.tickEntry = s.cron.Schedule(cron.Every(s.tick), cron.FuncJob(s.scan))
	s.entries++
	s.cron.Start()
	s.logger.Debug("shared tick started", "every", s.tick)
}

// dropTick must be called with s.mu held.
func (s *Scheduler) dropTick() {
	if s.tickEntry == 0 {
		return
	}
	s.cron.Remove(s.tickEntry)
	s.tickEntry = 0
	s.entries--
	s.logger.Debug("shared tick stopped")
}

// stopIdle stops the cron runner once no entries remain. Must be called with
// s.mu held.
func (s *Scheduler) stopIdle() {
	if s.entries == 0 {
		s.cron.Stop()
	}
}

func (s *Scheduler) removeEntry(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.cron.Entries() {
		if e.ID == id {
			s.cron.Remove(id)
			s.entries--
			s.stopIdle()
			return
		}
	}
}

// scan is the shared tick: it triggers every due time-of-day task.
func (s *Scheduler) scan() {
	if !s.reg.hasTimeBased() {
		s.mu.Lock()
		if !s.reg.hasTimeBased() {
			s.dropTick()
			s.stopIdle()
		}
		s.mu.Unlock()
		return
	}
	for _, rf := range s.reg.due(s.now()) {
		s.trigger(rf, "scheduled")
	}
}

// trigger starts a run of rf unless it is gone or already running.
func (s *Scheduler) trigger(rf ref, label string) {
	cfg, ok := s.reg.tryBegin(rf)
	if !ok {
		s.logger.Debug("trigger skipped", "task", rf.id, "trigger", label)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(rf, cfg, label)
	}()
}

func (s *Scheduler) run(rf ref, cfg TaskConfig, label string) {
	log := s.logger.With("task", rf.id, "title", cfg.Request.Title, "trigger", label)
	log.Info("run started")

	var res bundle.Result
	func() {
		defer func() {
			if p := recover(); p != nil {
				res = bundle.Result{Error: fmt.Sprintf("panic: %v", p), Status: bundle.StatusGenerationFailed}
			}
		}()
		res = s.runner.Execute(s.ctx, cfg.Request)
	}()

	done := s.now().In(s.loc)
	// Interval tasks keep nextRunAt nil; their cron entry owns the grid.
	var next *time.Time
	if n, ok := cfg.Policy.Next(done); ok {
		next = &n
	}

	result := res.Text
	if !res.Success {
		result = "Error: " + res.Error
	}
	s.reg.finish(rf, result, res.Status, done, next)
	log.Info("run finished", "success", res.Success, "status", res.Status, "result_len", len(result), "next_run", next)
}

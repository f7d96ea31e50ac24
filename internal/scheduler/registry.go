package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/briefd/internal/bundle"
)

// task is one registered schedule. It is only touched under Registry.mu.
type task struct {
	id     string
	gen    uint64
	cfg    TaskConfig
	entry  cron.EntryID // interval policies only
	title  string
	policy Policy

	running        bool
	executionCount int
	lastResult     *string
	lastStatus     bundle.Status
	lastExecutedAt *time.Time
	nextRunAt      *time.Time
}

// ref identifies one registration of a task. A ref whose generation no
// longer matches the registry refers to a stopped or replaced task.
type ref struct {
	id  string
	gen uint64
}

// Registry owns the set of scheduled tasks. All access goes through its
// methods, which serialize registration and removal against trigger scans.
type Registry struct {
	mu      sync.Mutex
	tasks   map[string]*task
	lastGen uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task)}
}

// put registers a new task for id, returning the task it replaced, if any.
func (r *Registry) put(id string, cfg TaskConfig, next *time.Time) (ref, *task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastGen++
	prev := r.tasks[id]
	r.tasks[id] = &task{
		id:        id,
		gen:       r.lastGen,
		cfg:       cfg,
		title:     cfg.Request.Title,
		policy:    cfg.Policy,
		nextRunAt: next,
	}
	return ref{id: id, gen: r.lastGen}, prev
}

func (r *Registry) setEntry(rf ref, entry cron.EntryID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lookup(rf)
	if ok {
		t.entry = entry
	}
	return ok
}

func (r *Registry) remove(id string) *task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	delete(r.tasks, id)
	return t
}

func (r *Registry) clear() []*task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.tasks = make(map[string]*task)
	return out
}

// lookup must be called with r.mu held.
func (r *Registry) lookup(rf ref) (*task, bool) {
	t, ok := r.tasks[rf.id]
	if !ok || t.gen != rf.gen {
		return nil, false
	}
	return t, true
}

// live reports whether rf is still the current registration.
func (r *Registry) live(rf ref) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lookup(rf)
	return ok
}

// tryBegin marks the task running and returns its configuration. It fails
// when the task is gone, replaced, or already running.
func (r *Registry) tryBegin(rf ref) (TaskConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lookup(rf)
	if !ok || t.running {
		return TaskConfig{}, false
	}
	t.running = true
	t.executionCount++
	return t.cfg, true
}

// finish records a completed run. A task stopped or replaced meanwhile is
// left untouched.
func (r *Registry) finish(rf ref, result string, status bundle.Status, at time.Time, next *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lookup(rf)
	if !ok {
		return
	}
	t.running = false
	t.lastResult = &result
	t.lastStatus = status
	t.lastExecutedAt = &at
	if next != nil {
		t.nextRunAt = next
	}
}

// due returns the time-based tasks whose next run has passed and which are
// not running.
func (r *Registry) due(now time.Time) []ref {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ref
	for _, t := range r.tasks {
		if t.policy.TimeBased() && !t.running && t.nextRunAt != nil && !now.Before(*t.nextRunAt) {
			out = append(out, ref{id: t.id, gen: t.gen})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) hasTimeBased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.policy.TimeBased() {
			return true
		}
	}
	return false
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Registry) status(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Status{}, false
	}
	return t.snapshot(), true
}

func (r *Registry) statuses() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.tasks))
	for id, t := range r.tasks {
		out[id] = t.snapshot()
	}
	return out
}

func (t *task) snapshot() Status {
	s := Status{
		IsActive:       true,
		IsRunning:      t.running,
		Title:          t.title,
		Policy:         t.policy.String(),
		ExecutionCount: t.executionCount,
		LastStatus:     t.lastStatus,
	}
	if t.lastResult != nil {
		v := *t.lastResult
		s.LastResult = &v
	}
	if t.lastExecutedAt != nil {
		v := *t.lastExecutedAt
		s.LastExecutedAt = &v
	}
	if t.nextRunAt != nil {
		v := *t.nextRunAt
		s.NextRunAt = &v
	}
	return s
}

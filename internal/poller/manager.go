package poller

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// Source is the job collection a Manager watches.
type Source interface {
	Store
	Jobs() []suite.Job
	Subscribe() (<-chan struct{}, func())
}

// Manager keeps exactly one poll loop per eligible job: polled types that
// are non-terminal and carry a remote handle.
type Manager struct {
	poller *Poller
	source Source
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	handles map[string]*Handle
}

// NewManager wires a Manager around poller and source.
func NewManager(p *Poller, source Source) *Manager {
	return &Manager{
		poller:  p,
		source:  source,
		logger:  p.logger,
		ctx:     context.Background(),
		handles: make(map[string]*Handle),
	}
}

// Run reconciles loops against the store until ctx is canceled, then stops
// every loop it started.
func (m *Manager) Run(ctx context.Context) error {
	changes, cancel := m.source.Subscribe()
	defer cancel()

	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	defer m.StopAll()

	m.Reconcile()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			m.Reconcile()
		}
	}
}

// Reconcile starts loops for newly eligible jobs and stops loops whose job
// was removed or settled.
func (m *Manager) Reconcile() {
	jobs := m.source.Jobs()
	present := make(map[string]suite.Job, len(jobs))
	for _, job := range jobs {
		present[job.ID] = job
	}

	m.mu.Lock()
	var stale []*Handle
	for id, h := range m.handles {
		job, ok := present[id]
		if !ok {
			stale = append(stale, h)
			delete(m.handles, id)
			continue
		}
		if job.Status.Terminal() {
			stale = append(stale, h)
		}
	}
	for _, job := range jobs {
		if _, tracked := m.handles[job.ID]; tracked || !eligible(job) {
			continue
		}
		m.handles[job.ID] = m.poller.Start(m.ctx, job)
		m.logger.Debug("started poller", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	}
	m.mu.Unlock()

	for _, h := range stale {
		h.Stop()
	}
}

// Track starts polling job immediately if it is eligible and not already
// tracked.
func (m *Manager) Track(job suite.Job) {
	if !eligible(job) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handles[job.ID]; ok {
		return
	}
	m.handles[job.ID] = m.poller.Start(m.ctx, job)
}

// Untrack stops polling id and forgets it.
func (m *Manager) Untrack(id string) {
	m.mu.Lock()
	h, ok := m.handles[id]
	delete(m.handles, id)
	m.mu.Unlock()
	if ok {
		h.Stop()
	}
}

// Active returns how many loops are still running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.handles {
		select {
		case <-h.Done():
		default:
			n++
		}
	}
	return n
}

// StopAll stops and forgets every loop.
func (m *Manager) StopAll() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}

func eligible(job suite.Job) bool {
	return job.Type.Polled() && !job.Status.Terminal() && job.Handle() != ""
}

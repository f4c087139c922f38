// Package jobs maintains the ordered, bounded collection of tracked jobs and
// keeps it durable through a persister and remote job sources.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// Config controls retention and persistence.
type Config struct {
	// MaxJobs caps the collection; the oldest jobs are evicted first (default 20).
	MaxJobs int
	// ReducedSize is how many jobs survive a quota failure (default 5).
	ReducedSize int
	// StorageKey names the persisted entry (default "veo_jobs").
	StorageKey string
	// RemoteTimeout bounds each remote save and listing call (default 30s).
	RemoteTimeout time.Duration
	Logger        *zap.Logger
}

// Defaults applied by New.
const (
	DefaultMaxJobs       = 20
	DefaultReducedSize   = 5
	DefaultStorageKey    = "veo_jobs"
	defaultRemoteTimeout = 30 * time.Second
)

// Remote wires the optional session-scoped collaborators.
type Remote struct {
	Session suite.Session
	Saver   suite.ExternalSaver
	Sources []suite.JobLister
}

// Store is the single writer of job records. It is safe for concurrent use.
type Store struct {
	cfg       Config
	persister suite.Persister
	remote    Remote
	logger    *zap.Logger

	mu   sync.RWMutex
	jobs []suite.Job

	// persistMu orders writes so the last write always reflects the newest state.
	persistMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	mirrors sync.WaitGroup
}

// New constructs an empty Store. Call Load to restore persisted jobs.
func New(cfg Config, persister suite.Persister, remote Remote) *Store {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if cfg.ReducedSize <= 0 {
		cfg.ReducedSize = DefaultReducedSize
	}
	if cfg.ReducedSize > cfg.MaxJobs {
		cfg.ReducedSize = cfg.MaxJobs
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = defaultRemoteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:       cfg,
		persister: persister,
		remote:    remote,
		logger:    logger,
		subs:      make(map[int]chan struct{}),
	}
}

// Jobs returns a snapshot of the collection, most recent first.
func (s *Store) Jobs() []suite.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]suite.Job, len(s.jobs))
	for i, job := range s.jobs {
		out[i] = job.Clone()
	}
	return out
}

// Get returns a copy of the job with id.
func (s *Store) Get(id string) (suite.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.jobs[idx].Clone(), true
	}
	return suite.Job{}, false
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// AddJob inserts job at the front, evicts beyond MaxJobs, and persists. For
// job types the backend does not record itself, a signed-in session also
// triggers a best-effort remote save that never rolls back the insert.
func (s *Store) AddJob(ctx context.Context, job suite.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("job %s: invalid status %q", job.ID, job.Status)
	}
	s.mu.Lock()
	if s.indexOf(job.ID) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", suite.ErrDuplicateJob, job.ID)
	}
	next := make([]suite.Job, 0, min(len(s.jobs)+1, s.cfg.MaxJobs))
	next = append(next, job.Clone())
	next = append(next, s.jobs...)
	if len(next) > s.cfg.MaxJobs {
		for _, evicted := range next[s.cfg.MaxJobs:] {
			s.logger.Debug("evicting job", zap.String("job_id", evicted.ID))
		}
		next = next[:s.cfg.MaxJobs]
	}
	s.jobs = next
	s.mu.Unlock()

	s.persist(ctx)
	s.notify()
	s.mirror(job)
	return nil
}

// UpdateJobStatus sets status and merges result into the job's existing
// result. Unknown ids and updates that change nothing are no-ops. Backward
// transitions are rejected with suite.ErrInvalidTransition and leave the job
// unchanged.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status suite.JobStatus, result map[string]any) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	current := s.jobs[idx]
	if !suite.CanTransition(current.Status, status) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", suite.ErrInvalidTransition, id, current.Status, status)
	}
	merged := current.Result
	if result != nil {
		merged = suite.MergeResult(current.Result, result)
	}
	if current.Status == status && reflect.DeepEqual(merged, current.Result) {
		s.mu.Unlock()
		return nil
	}
	current.Status = status
	current.Result = merged
	s.jobs[idx] = current
	s.mu.Unlock()

	s.persist(ctx)
	s.notify()
	return nil
}

// RemoveJob deletes the job with id and reports whether it was present.
func (s *Store) RemoveJob(ctx context.Context, id string) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	next := make([]suite.Job, 0, len(s.jobs)-1)
	next = append(next, s.jobs[:idx]...)
	next = append(next, s.jobs[idx+1:]...)
	s.jobs = next
	s.mu.Unlock()

	s.persist(ctx)
	s.notify()
	return true
}

// ClearJobs empties the local collection and deletes the persisted entry.
// Remote copies are untouched.
func (s *Store) ClearJobs(ctx context.Context) {
	s.mu.Lock()
	s.jobs = nil
	s.mu.Unlock()

	if s.persister != nil {
		s.persistMu.Lock()
		if err := s.persister.Delete(ctx, s.cfg.StorageKey); err != nil && !errors.Is(err, suite.ErrNotFound) {
			s.logger.Warn("failed to delete persisted jobs", zap.Error(err))
		}
		s.persistMu.Unlock()
	}
	s.notify()
}

// Load restores the collection from the persister, replacing in-memory state.
// A missing entry leaves the store empty.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	data, err := s.persister.Get(ctx, s.cfg.StorageKey)
	if errors.Is(err, suite.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	jobs, err := Decode(data)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	s.replace(jobs)
	s.notify()
	return nil
}

// SyncRemote replaces the collection with the signed-in user's remote
// history. Every source is fetched concurrently; a failed source contributes
// nothing. The merged set is de-duplicated by id (earlier sources win) and
// sorted newest first. When every source fails the local collection is kept.
func (s *Store) SyncRemote(ctx context.Context) error {
	user, ok := s.currentUser()
	if !ok || len(s.remote.Sources) == 0 {
		return nil
	}
	results := make([][]suite.Job, len(s.remote.Sources))
	failed := make([]bool, len(s.remote.Sources))
	var g errgroup.Group
	for i, src := range s.remote.Sources {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
			defer cancel()
			jobs, err := src.ListJobs(callCtx, user.ID)
			if err != nil {
				s.logger.Warn("remote job listing failed", zap.Int("source", i), zap.Error(err))
				failed[i] = true
				return nil
			}
			results[i] = jobs
			return nil
		})
	}
	_ = g.Wait()

	allFailed := true
	for _, f := range failed {
		allFailed = allFailed && f
	}
	if allFailed {
		s.logger.Warn("all remote job sources failed, keeping local jobs")
		return nil
	}

	s.replace(MergeSorted(results...))
	s.persist(ctx)
	s.notify()
	return nil
}

// Wait blocks until in-flight remote saves finish or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mirrors.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for remote saves: %w", ctx.Err())
	}
}

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce, so subscribers should re-read Jobs. Call cancel to stop.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) replace(jobs []suite.Job) {
	if len(jobs) > s.cfg.MaxJobs {
		jobs = jobs[:s.cfg.MaxJobs]
	}
	next := make([]suite.Job, len(jobs))
	for i, job := range jobs {
		next[i] = job.Clone()
	}
	s.mu.Lock()
	s.jobs = next
	s.mu.Unlock()
}

func (s *Store) currentUser() (suite.User, bool) {
	if s.remote.Session == nil {
		return suite.User{}, false
	}
	return s.remote.Session.CurrentUser()
}

// persist writes the current collection. On a quota failure it keeps only the
// most recent ReducedSize jobs and retries once; if that also fails the store
// carries on in memory.
func (s *Store) persist(ctx context.Context) {
	if s.persister == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snapshot := s.Jobs()
	err := s.write(ctx, snapshot)
	if err == nil {
		return
	}
	s.logger.Error("failed to persist jobs", zap.Int("jobs", len(snapshot)), zap.Error(err))
	if !errors.Is(err, suite.ErrQuotaExceeded) {
		return
	}
	reduced := snapshot
	if len(reduced) > s.cfg.ReducedSize {
		reduced = reduced[:s.cfg.ReducedSize]
	}
	if err := s.write(ctx, reduced); err != nil {
		s.logger.Error("still failed to persist reduced jobs", zap.Int("jobs", len(reduced)), zap.Error(err))
		return
	}
	s.mu.Lock()
	if len(s.jobs) > s.cfg.ReducedSize {
		s.jobs = s.jobs[:s.cfg.ReducedSize:s.cfg.ReducedSize]
	}
	s.mu.Unlock()
	s.logger.Warn("storage quota exceeded, retained most recent jobs", zap.Int("retained", len(reduced)))
}

func (s *Store) write(ctx context.Context, jobs []suite.Job) error {
	data, err := Encode(jobs)
	if err != nil {
		return err
	}
	if err := s.persister.Put(ctx, s.cfg.StorageKey, data); err != nil {
		return fmt.Errorf("persist jobs: %w", err)
	}
	return nil
}

func (s *Store) mirror(job suite.Job) {
	if s.remote.Saver == nil || job.Type.AutoPersisted() {
		return
	}
	user, ok := s.currentUser()
	if !ok {
		return
	}
	snapshot := job.Clone()
	s.mirrors.Add(1)
	go func() {
		defer s.mirrors.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout)
		defer cancel()
		if err := s.remote.Saver.SaveExternalJob(ctx, user.ID, snapshot); err != nil {
			s.logger.Warn("failed to save external job",
				zap.String("job_id", snapshot.ID),
				zap.String("type", string(snapshot.Type)),
				zap.Error(err),
			)
		}
	}()
}

// Encode serializes jobs in the persisted layout.
func Encode(jobs []suite.Job) ([]byte, error) {
	if jobs == nil {
		jobs = []suite.Job{}
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return nil, fmt.Errorf("encode jobs: %w", err)
	}
	return data, nil
}

// Decode parses the persisted layout.
func Decode(data []byte) ([]suite.Job, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var jobs []suite.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return jobs, nil
}

// MergeSorted concatenates listings, drops repeated ids (first wins), and
// sorts newest first. Jobs with equal timestamps keep their listing order.
func MergeSorted(listings ...[]suite.Job) []suite.Job {
	seen := make(map[string]struct{})
	var merged []suite.Job
	for _, listing := range listings {
		for _, job := range listing {
			if _, dup := seen[job.ID]; dup {
				continue
			}
			seen[job.ID] = struct{}{}
			merged = append(merged, job)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

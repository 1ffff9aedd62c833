package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transcodeserver/internal/apierror"
)

const (
	maxTotalJobs      = 50
	maxTerminalKept   = 10
	defaultRetention  = 2 * time.Minute
	janitorPeriod     = 60 * time.Second
)

// Registry is the single authoritative in-memory job store, §4.4.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	order    []string // insertion order, for queue draining and janitor oldest-first sweeps
	tempRoot string
	retain   time.Duration
	log      zerolog.Logger

	stats Stats
}

// Stats is the counter set backing GET /api/stats.
type Stats struct {
	mu               sync.Mutex
	TotalSubmitted   int64
	TotalCompleted   int64
	TotalFailed      int64
	TotalCancelled   int64
	HWAccelHistogram map[string]int64
}

func newStats() Stats {
	return Stats{HWAccelHistogram: map[string]int64{}}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make(map[string]int64, len(s.HWAccelHistogram))
	for k, v := range s.HWAccelHistogram {
		hist[k] = v
	}
	return Stats{
		TotalSubmitted:   s.TotalSubmitted,
		TotalCompleted:   s.TotalCompleted,
		TotalFailed:      s.TotalFailed,
		TotalCancelled:   s.TotalCancelled,
		HWAccelHistogram: hist,
	}
}

// New constructs a Registry. tempRoot is the filesystem root under which
// every job's working directory is created (§6 temp_directory).
func New(tempRoot string, retention time.Duration, log zerolog.Logger) *Registry {
	if retention <= 0 {
		retention = defaultRetention
	}
	st := newStats()
	return &Registry{
		jobs:     map[string]*Job{},
		tempRoot: tempRoot,
		retain:   retention,
		log:      log,
		stats:    st,
	}
}

// Submit validates-free creates a new job record in status=queued. Request
// validation (enum ranges, hw_accel availability) happens in the API layer
// before Submit is called, per §9's "enumerated options with defaults".
func (r *Registry) Submit(req Request) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.jobs) >= maxTotalJobs {
		return nil, apierror.New(apierror.CodeCapacity, "job registry at capacity")
	}

	id := uuid.NewString()
	now := time.Now()
	job := &Job{
		ID:           id,
		Request:      req,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		WorkingDir:   filepath.Join(r.tempRoot, id),
		CancelSignal: make(chan struct{}),
	}
	if req.Mode == ModeStream || req.Mode == ModeABR {
		// §3 invariant: stream_url is set no later than entry into
		// processing for stream/abr jobs, so submit already knows it.
		job.StreamURL = fmt.Sprintf("/stream/%s/master.m3u8", id)
	}

	r.jobs[id] = job
	r.order = append(r.order, id)

	r.stats.mu.Lock()
	r.stats.TotalSubmitted++
	r.stats.mu.Unlock()

	return job.clone(), nil
}

// Get returns a read snapshot of the job, or a not_found error.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, apierror.New(apierror.CodeNotFound, fmt.Sprintf("job %s not found", id))
	}
	return job.clone(), nil
}

// Owned returns the live job pointer for the worker that owns it. Only C5's
// dispatcher/worker may call this; every other caller must use Get.
func (r *Registry) Owned(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apierror.New(apierror.CodeNotFound, fmt.Sprintf("job %s not found", id))
	}
	return job, nil
}

// Update is the single typed mutation entrypoint a job's owning worker
// invokes. fn receives the live record and mutates it directly; Update
// stamps UpdatedAt and records terminal-state stats transitions.
func (r *Registry) Update(id string, fn func(j *Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return apierror.New(apierror.CodeNotFound, fmt.Sprintf("job %s not found", id))
	}

	wasTerminal := job.Status.IsTerminal()
	fn(job)
	job.UpdatedAt = time.Now()

	if !wasTerminal && job.Status.IsTerminal() {
		job.FinishedAt = job.UpdatedAt
		r.stats.mu.Lock()
		switch job.Status {
		case StatusReady:
			r.stats.TotalCompleted++
		case StatusError:
			r.stats.TotalFailed++
		case StatusCancelled:
			r.stats.TotalCancelled++
		}
		if job.HWAccelUsed != "" {
			r.stats.HWAccelHistogram[job.HWAccelUsed]++
		}
		r.stats.mu.Unlock()
	}

	return nil
}

// DequeueOldestQueued pops and returns the oldest job still in status
// queued, for the C5 dispatcher: the job is moved to status processing
// before the lock is released, so a later dispatcher tick cannot hand it
// to a second worker. Returns nil if none is queued.
func (r *Registry) DequeueOldestQueued() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if job, ok := r.jobs[id]; ok && job.Status == StatusQueued {
			job.Status = StatusProcessing
			job.UpdatedAt = time.Now()
			return job
		}
	}
	return nil
}

// CountByStatus returns how many jobs currently have the given status.
func (r *Registry) CountByStatus(status Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, job := range r.jobs {
		if job.Status == status {
			n++
		}
	}
	return n
}

// Cancel transitions queued->cancelled synchronously, or fires the
// processing job's cancel signal for the worker to observe, per §4.4.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return apierror.New(apierror.CodeNotFound, fmt.Sprintf("job %s not found", id))
	}

	switch job.Status {
	case StatusQueued:
		job.Status = StatusCancelled
		job.UpdatedAt = time.Now()
		job.FinishedAt = job.UpdatedAt
		r.stats.mu.Lock()
		r.stats.TotalCancelled++
		r.stats.mu.Unlock()
	case StatusProcessing:
		if !job.cancelOnce {
			job.cancelOnce = true
			close(job.CancelSignal)
		}
	default:
		// Already terminal: cancelling a finished job is a no-op.
	}

	return nil
}

// Delete requires terminal status, removes the record and best-effort
// removes the working directory. A non-terminal job is refused with a
// validation error and is not cancelled by Delete; a caller removing an
// active job calls Cancel first and waits for a terminal status.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return apierror.New(apierror.CodeNotFound, fmt.Sprintf("job %s not found", id))
	}
	if !job.Status.IsTerminal() {
		r.mu.Unlock()
		return apierror.New(apierror.CodeValidation, "job must be terminal before delete")
	}

	delete(r.jobs, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	workingDir := job.WorkingDir
	r.mu.Unlock()

	if workingDir != "" {
		_ = os.RemoveAll(workingDir)
	}
	return nil
}

// ListForJanitor returns a read snapshot of all jobs for sweep purposes.
func (r *Registry) ListForJanitor() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, id := range r.order {
		if job, ok := r.jobs[id]; ok {
			out = append(out, job.clone())
		}
	}
	return out
}

// Stats returns a snapshot of the counters backing /api/stats.
func (r *Registry) Stats() Stats {
	return r.stats.Snapshot()
}

// RunJanitor evicts terminal records older than the retention window every
// 60s, enforcing the hard caps from §4.4: at most maxTerminalKept
// terminal-but-retained jobs (oldest first), and an implicit cap via
// maxTotalJobs enforced at Submit time.
func (r *Registry) RunJanitor(stop <-chan struct{}) {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now()

	type terminalEntry struct {
		id         string
		finishedAt time.Time
	}
	var terminal []terminalEntry

	r.mu.RLock()
	for _, id := range r.order {
		job := r.jobs[id]
		if job.Status.IsTerminal() {
			terminal = append(terminal, terminalEntry{id: id, finishedAt: job.FinishedAt})
		}
	}
	r.mu.RUnlock()

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].finishedAt.Before(terminal[j].finishedAt)
	})

	toEvict := map[string]bool{}
	for _, t := range terminal {
		if now.Sub(t.finishedAt) >= r.retain {
			toEvict[t.id] = true
		}
	}
	if excess := len(terminal) - maxTerminalKept; excess > 0 {
		for i := 0; i < excess; i++ {
			toEvict[terminal[i].id] = true
		}
	}

	for id := range toEvict {
		if err := r.Delete(id); err != nil {
			r.log.Warn().Err(err).Str("job_id", id).Msg("janitor failed to delete job")
		} else {
			r.log.Debug().Str("job_id", id).Msg("janitor evicted terminal job")
		}
	}

	r.sweepOrphanDirs()
}

// sweepOrphanDirs best-effort removes working directories left behind for
// job ids no longer present in the registry (e.g. after a process restart
// reused the same temp_root). Supplemental to §4.4's eviction sweep.
func (r *Registry) sweepOrphanDirs() {
	if r.tempRoot == "" {
		return
	}
	entries, err := os.ReadDir(r.tempRoot)
	if err != nil {
		return
	}

	r.mu.RLock()
	known := make(map[string]bool, len(r.jobs))
	for id := range r.jobs {
		known[id] = true
	}
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.IsDir() || known[e.Name()] {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue // not one of ours, leave it alone
		}
		_ = os.RemoveAll(filepath.Join(r.tempRoot, e.Name()))
	}
}

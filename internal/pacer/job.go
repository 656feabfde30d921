package pacer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finscope/profiler-cli/internal/model"
)

// JobStatus is the lifecycle state of a bulk fetch job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// ItemOutcome records the result of one URL inside a bulk job.
type ItemOutcome struct {
	URL        string    `json:"url"`
	FacebookID string    `json:"facebook_id,omitempty"`
	OK         bool      `json:"ok"`
	Reason     string    `json:"reason,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// JobView is a point-in-time snapshot of a bulk job, safe to serialize.
type JobView struct {
	ID         uuid.UUID     `json:"id"`
	AccountID  string        `json:"account_id"`
	Status     JobStatus     `json:"status"`
	Total      int           `json:"total"`
	Done       int           `json:"done"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Items      []ItemOutcome `json:"items"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

type job struct {
	id        uuid.UUID
	accountID string
	total     int
	startedAt time.Time
	cancel    context.CancelFunc

	mu         sync.Mutex
	status     JobStatus
	items      []ItemOutcome
	finishedAt *time.Time
}

func (j *job) record(o ItemOutcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items = append(j.items, o)
}

func (j *job) finish(status JobStatus, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == JobRunning {
		j.status = status
		j.finishedAt = &at
	}
}

func (j *job) view() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()

	items := make([]ItemOutcome, len(j.items))
	copy(items, j.items)

	v := JobView{
		ID:         j.id,
		AccountID:  j.accountID,
		Status:     j.status,
		Total:      j.total,
		Done:       len(items),
		Items:      items,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
	for _, it := range items {
		if it.OK {
			v.Succeeded++
		} else {
			v.Failed++
		}
	}
	return v
}

// jobRegistry tracks bulk jobs in memory and prunes finished ones after
// the retention window.
type jobRegistry struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*job
	retention time.Duration
}

func newJobRegistry(retention time.Duration) *jobRegistry {
	return &jobRegistry{jobs: make(map[uuid.UUID]*job), retention: retention}
}

func (r *jobRegistry) add(j *job, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	r.jobs[j.id] = j
}

// get prunes before looking up so retention holds even when no new
// jobs are being added.
func (r *jobRegistry) get(id uuid.UUID, now time.Time) (*job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	j, ok := r.jobs[id]
	return j, ok
}

// prune removes finished jobs past retention. Caller holds r.mu.
func (r *jobRegistry) prune(now time.Time) {
	if r.retention <= 0 {
		return
	}
	for id, j := range r.jobs {
		j.mu.Lock()
		done := j.finishedAt != nil && now.Sub(*j.finishedAt) > r.retention
		j.mu.Unlock()
		if done {
			delete(r.jobs, id)
		}
	}
}

// FetchBulk starts a background job fetching urls one at a time through
// the account's serialized worker, waiting at least delay between
// attempts. It returns the job id immediately; progress is polled via
// Job. Failures are recorded per URL and do not stop the job.
func (p *Pacer) FetchBulk(ctx context.Context, urls []string, accountID string, delay time.Duration, force bool) (uuid.UUID, error) {
	if len(urls) == 0 {
		return uuid.Nil, eris.New("pacer: no urls")
	}
	if p.cfg.MaxBulkProfiles > 0 && len(urls) > p.cfg.MaxBulkProfiles {
		return uuid.Nil, eris.Errorf("pacer: %d urls exceeds limit %d", len(urls), p.cfg.MaxBulkProfiles)
	}

	// Refuse unavailable accounts before accepting the job.
	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "pacer: account %s", accountID)
	}
	if !account.Available(p.now()) {
		return uuid.Nil, model.NewFetchError(model.FetchAccountBlocked, "",
			eris.Errorf("account %s unavailable", accountID))
	}

	delay = p.cfg.Delay(delay)

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		id:        uuid.New(),
		accountID: accountID,
		total:     len(urls),
		startedAt: p.now(),
		status:    JobRunning,
		cancel:    cancel,
	}
	p.jobs.add(j, p.now())

	go p.runBulk(jobCtx, j, urls, delay, force)

	zap.L().Info("bulk fetch accepted",
		zap.String("job_id", j.id.String()),
		zap.String("account_id", accountID),
		zap.Int("urls", len(urls)),
		zap.Duration("delay", delay))

	return j.id, nil
}

func (p *Pacer) runBulk(ctx context.Context, j *job, urls []string, delay time.Duration, force bool) {
	defer j.cancel()

	// One token up front, then one per delay: the first fetch starts
	// immediately and every later one waits out the gap.
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	for _, u := range urls {
		if err := limiter.Wait(ctx); err != nil {
			j.finish(JobCancelled, p.now())
			zap.L().Info("bulk fetch cancelled",
				zap.String("job_id", j.id.String()))
			return
		}

		// Cancellation only stops later items; the item already started
		// is allowed to complete.
		itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		profile, err := p.Fetch(itemCtx, u, j.accountID, force)
		cancel()

		outcome := ItemOutcome{URL: u, FinishedAt: p.now()}
		if err != nil {
			outcome.Reason = err.Error()
			if kind, ok := model.FetchKind(err); ok {
				outcome.Reason = string(kind)
			}
			zap.L().Warn("bulk fetch item failed",
				zap.String("job_id", j.id.String()),
				zap.String("url", u),
				zap.Error(err))
		} else {
			outcome.OK = true
			outcome.FacebookID = profile.FacebookID
		}
		j.record(outcome)
	}

	j.finish(JobCompleted, p.now())
	zap.L().Info("bulk fetch completed", zap.String("job_id", j.id.String()))
}

// Job returns a snapshot of the bulk job with the given id.
func (p *Pacer) Job(id uuid.UUID) (JobView, bool) {
	j, ok := p.jobs.get(id, p.now())
	if !ok {
		return JobView{}, false
	}
	return j.view(), true
}

// CancelJob stops a running job after its in-flight item finishes.
func (p *Pacer) CancelJob(id uuid.UUID) bool {
	j, ok := p.jobs.get(id, p.now())
	if !ok {
		return false
	}
	j.cancel()
	return true
}

package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driesdb/budget-engine/internal/aggregate"
	"github.com/driesdb/budget-engine/internal/classify"
	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/llm"
	"github.com/driesdb/budget-engine/internal/mappings"
	"github.com/driesdb/budget-engine/internal/normalize"
	"github.com/driesdb/budget-engine/internal/store"
)

// DefaultJobTimeout bounds one analysis run end to end, provider calls
// included. There is no cancel operation; a hung provider call fails the
// job through this deadline instead.
const DefaultJobTimeout = 10 * time.Minute

// Controller owns analysis job execution and status. It enforces the
// single-running-job rule and is safe for concurrent use.
type Controller struct {
	transactions store.TransactionStore
	snapshots    store.SnapshotStore
	registry     *mappings.Registry
	provider     llm.Provider
	log          zerolog.Logger
	timeout      time.Duration

	mu      sync.RWMutex
	jobs    map[string]*Job
	current string
}

// NewController creates a job controller. The registry reference is live
// user configuration; each run works against a clone taken at start, so
// edits made mid-run only apply to the next run.
func NewController(txs store.TransactionStore, snaps store.SnapshotStore, reg *mappings.Registry, provider llm.Provider, log zerolog.Logger) *Controller {
	return &Controller{
		transactions: txs,
		snapshots:    snaps,
		registry:     reg,
		provider:     provider,
		log:          log,
		timeout:      DefaultJobTimeout,
		jobs:         make(map[string]*Job),
	}
}

// SetTimeout overrides the per-run deadline. Intended for tests and
// configuration wiring; zero or negative values keep the default.
func (c *Controller) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Start begins a new analysis job and returns its initial state. It fails
// with ErrJobRunning while a previous job is still in progress. The run
// itself proceeds in the background, detached from the caller's context.
func (c *Controller) Start(ctx context.Context) (Job, error) {
	c.mu.Lock()
	if c.current != "" {
		if running := c.jobs[c.current]; running != nil && running.Status == JobStatusRunning {
			c.mu.Unlock()
			return Job{}, ErrJobRunning
		}
	}
	job := &Job{
		JobID:     uuid.NewString(),
		Status:    JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	c.jobs[job.JobID] = job
	c.current = job.JobID
	initial := *job
	c.mu.Unlock()

	snapshot := c.registry.Clone()
	go c.run(initial.JobID, snapshot)

	return initial, nil
}

// Get returns the state of a job by id. The returned value is a copy; it
// is safe to poll from any goroutine.
func (c *Controller) Get(jobID string) (Job, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return *job, nil
}

func (c *Controller) run(jobID string, reg *mappings.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	log := c.log.With().Str("job_id", jobID).Logger()
	log.Info().Msg("analysis job started")

	snap, err := c.analyze(ctx, jobID, reg, log)
	if err != nil {
		log.Error().Err(err).Msg("analysis job failed")
		c.finish(jobID, JobStatusFailed, err, nil)
		return
	}

	// Publish: per-transaction categories first, snapshot last. The snapshot
	// replaces its predecessor only once the whole run has persisted, so a
	// failure anywhere leaves the previous snapshot in place.
	if err := c.transactions.UpsertTransactions(ctx, snap.Transactions); err != nil {
		log.Error().Err(err).Msg("persisting classified transactions failed")
		c.finish(jobID, JobStatusFailed, err, nil)
		return
	}
	if err := c.snapshots.SaveSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Msg("saving snapshot failed")
		c.finish(jobID, JobStatusFailed, err, nil)
		return
	}

	log.Info().Int("transactions", len(snap.Transactions)).Msg("analysis job completed")
	c.finish(jobID, JobStatusDone, nil, &snap)
}

// analyze performs the classification pass and builds the snapshot. It
// never writes to the stores; a failure at any point leaves them untouched.
func (c *Controller) analyze(ctx context.Context, jobID string, reg *mappings.Registry, log zerolog.Logger) (domain.BudgetSnapshot, error) {
	txs, err := c.transactions.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		return domain.BudgetSnapshot{}, fmt.Errorf("analysis: loading transactions: %w", err)
	}
	c.setTotal(jobID, len(txs))

	// Rule pass over every transaction. Manual and mapping results are
	// final; heuristic results are candidates for AI refinement.
	classified := make([]domain.Transaction, len(txs))
	var unresolved []int
	for i, tx := range txs {
		classified[i] = classify.Apply(tx, reg, classify.Options{})
		if classified[i].Source == domain.SourceHeuristic {
			unresolved = append(unresolved, i)
		} else {
			c.addProcessed(jobID, 1)
		}
	}

	if len(unresolved) > 0 && c.provider != nil {
		batch := make([]domain.Transaction, len(unresolved))
		for i, idx := range unresolved {
			batch[i] = classified[idx]
		}
		// Progress advances per provider chunk; anything the provider did
		// not report is counted once the batch returns.
		var reported int
		assignments, err := c.provider.ClassifyBatch(ctx, llm.Request{
			Transactions:    batch,
			Groups:          reg.Groups(),
			KnownCategories: knownCategories(reg, classified),
			OnChunk: func(n int) {
				reported += n
				c.addProcessed(jobID, n)
			},
		})
		if err != nil {
			return domain.BudgetSnapshot{}, fmt.Errorf("analysis: provider classification: %w", err)
		}
		if remaining := len(unresolved) - reported; remaining > 0 {
			c.addProcessed(jobID, remaining)
		}

		byID := make(map[string]string, len(assignments))
		for _, a := range assignments {
			if a.ExternalID != "" && a.Category != "" {
				byID[a.ExternalID] = a.Category
			}
		}
		for _, idx := range unresolved {
			if category, ok := byID[classified[idx].ExternalID]; ok {
				classified[idx].Category = category
				classified[idx].Source = domain.SourceLLM
			}
		}
		log.Info().
			Int("sent", len(batch)).
			Int("assigned", len(byID)).
			Msg("provider classification done")
	} else {
		c.addProcessed(jobID, len(unresolved))
	}

	snap := domain.BudgetSnapshot{
		GeneratedAt:   time.Now().UTC(),
		MappingsCount: reg.Len(),
		Transactions:  classified,
	}
	if c.provider != nil {
		snap.Provider = c.provider.Name()
		snap.Model = c.provider.Model()
		snap.SummaryPoints = c.summaryPoints(ctx, classified, reg, log)
	}
	return snap, nil
}

// summaryPoints asks the provider for a narrative summary. A failure here
// is logged and swallowed; the numeric snapshot stands on its own.
func (c *Controller) summaryPoints(ctx context.Context, txs []domain.Transaction, reg *mappings.Registry, log zerolog.Logger) []string {
	summary := aggregate.Summarize(txs, reg, aggregate.Filter{})
	text, err := c.provider.Summarize(ctx, summary)
	if err != nil {
		log.Warn().Err(err).Msg("summary generation failed, continuing without")
		return nil
	}
	return []string{text}
}

func (c *Controller) setTotal(jobID string, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.jobs[jobID]; ok {
		job.Total = total
	}
}

func (c *Controller) addProcessed(jobID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.jobs[jobID]; ok {
		job.Processed += n
	}
}

func (c *Controller) finish(jobID string, status JobStatus, err error, result *domain.BudgetSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.Result = result
	if err != nil {
		job.Error = err.Error()
	}
	if c.current == jobID {
		c.current = ""
	}
}

// knownCategories collects the distinct category labels from the registry
// and the classified set, in first-seen order, for the provider prompt.
func knownCategories(reg *mappings.Registry, txs []domain.Transaction) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(label string) {
		if label == "" {
			return
		}
		key := normalize.CategoryKey(label)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	for _, g := range reg.Groups() {
		add(g.Category)
	}
	for _, tx := range txs {
		add(tx.Category)
	}
	return out
}

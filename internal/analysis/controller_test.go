package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driesdb/budget-engine/internal/domain"
	"github.com/driesdb/budget-engine/internal/llm"
	"github.com/driesdb/budget-engine/internal/logger"
	"github.com/driesdb/budget-engine/internal/mappings"
	"github.com/driesdb/budget-engine/internal/store"
	"github.com/driesdb/budget-engine/internal/store/inmemory"
)

// fakeProvider is a scriptable llm.Provider for controller tests.
type fakeProvider struct {
	mu           sync.Mutex
	received     []domain.Transaction
	assignments  []llm.Assignment
	classifyErr  error
	summarizeErr error
	summaryText  string
	block        chan struct{}
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) ClassifyBatch(ctx context.Context, req llm.Request) ([]llm.Assignment, error) {
	f.mu.Lock()
	f.received = append(f.received, req.Transactions...)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return f.assignments, nil
}

func (f *fakeProvider) Summarize(ctx context.Context, summary domain.Summary) (string, error) {
	if f.summarizeErr != nil {
		return "", f.summarizeErr
	}
	if f.summaryText != "" {
		return f.summaryText, nil
	}
	return "alles onder controle", nil
}

func (f *fakeProvider) receivedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.received))
	for i, tx := range f.received {
		ids[i] = tx.ExternalID
	}
	return ids
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedStore(t *testing.T) *inmemory.Store {
	t.Helper()
	s := inmemory.NewStore()
	err := s.UpsertTransactions(context.Background(), []domain.Transaction{
		{ExternalID: "mapped", BookingDate: "2024-01-10", Amount: dec("-12.99"), RemittanceInformation: "NETFLIX.COM"},
		{ExternalID: "manual", BookingDate: "2024-01-11", Amount: dec("-80.00"), Category: "Vakantie", Source: domain.SourceManual},
		{ExternalID: "vague", BookingDate: "2024-01-12", Amount: dec("-33.00"), CounterpartyName: "ONBEKENDE BV"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testRegistry() *mappings.Registry {
	return mappings.NewRegistry(domain.MappingGroup{
		Category:        "Abonnementen",
		Flow:            domain.FlowExpense,
		Keywords:        []string{"netflix"},
		VisibleInBudget: true,
	})
}

func waitForJob(t *testing.T, c *Controller, jobID string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := c.Get(jobID)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != JobStatusRunning {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return Job{}
}

func TestRunPublishesSnapshotAndCategories(t *testing.T) {
	s := seedStore(t)
	provider := &fakeProvider{
		assignments: []llm.Assignment{{ExternalID: "vague", Category: "Huishouden"}},
		summaryText: "meer uitgaven dan inkomsten",
	}
	c := NewController(s, s, testRegistry(), provider, logger.NewWithWriter(nilWriter{}))

	job, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	done := waitForJob(t, c, job.JobID)
	if done.Status != JobStatusDone {
		t.Fatalf("status = %q (%s), want done", done.Status, done.Error)
	}
	if done.Processed != done.Total || done.Total != 3 {
		t.Errorf("progress = %d/%d, want 3/3", done.Processed, done.Total)
	}
	if done.Result == nil {
		t.Fatal("done job carries no result snapshot")
	}
	if done.Result.Provider != "fake" || len(done.Result.Transactions) != 3 {
		t.Errorf("job result = %+v, want the published snapshot", done.Result)
	}

	ctx := context.Background()
	snap, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Provider != "fake" || snap.Model != "fake-model" || snap.MappingsCount != 1 {
		t.Errorf("snapshot metadata = %+v", snap)
	}
	if len(snap.SummaryPoints) != 1 || snap.SummaryPoints[0] != "meer uitgaven dan inkomsten" {
		t.Errorf("SummaryPoints = %v", snap.SummaryPoints)
	}

	mapped, _ := s.GetTransaction(ctx, "mapped")
	if mapped.Category != "Abonnementen" || mapped.Source != domain.SourceMapping {
		t.Errorf("mapped tx = %+v, want mapping result", mapped)
	}
	vague, _ := s.GetTransaction(ctx, "vague")
	if vague.Category != "Huishouden" || vague.Source != domain.SourceLLM {
		t.Errorf("vague tx = %+v, want provider result", vague)
	}
	manual, _ := s.GetTransaction(ctx, "manual")
	if manual.Category != "Vakantie" || manual.Source != domain.SourceManual {
		t.Errorf("manual tx = %+v, want manual override preserved", manual)
	}
}

func TestRunPreFiltersResolvedTransactions(t *testing.T) {
	s := seedStore(t)
	provider := &fakeProvider{}
	c := NewController(s, s, testRegistry(), provider, logger.NewWithWriter(nilWriter{}))

	job, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	waitForJob(t, c, job.JobID)

	ids := provider.receivedIDs()
	if len(ids) != 1 || ids[0] != "vague" {
		t.Errorf("provider received %v, want only the rule-unresolved transaction", ids)
	}
}

func TestStartRejectsOverlappingJob(t *testing.T) {
	s := seedStore(t)
	provider := &fakeProvider{block: make(chan struct{})}
	c := NewController(s, s, testRegistry(), provider, logger.NewWithWriter(nilWriter{}))

	job, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Start(context.Background()); !errors.Is(err, ErrJobRunning) {
		t.Errorf("second start err = %v, want ErrJobRunning", err)
	}

	close(provider.block)
	waitForJob(t, c, job.JobID)

	// Once finished, a new job may start.
	if _, err := c.Start(context.Background()); err != nil {
		t.Errorf("start after completion err = %v", err)
	}
}

func TestProviderFailureLeavesStoreUntouched(t *testing.T) {
	s := seedStore(t)
	provider := &fakeProvider{classifyErr: errors.New("quota exceeded")}
	c := NewController(s, s, testRegistry(), provider, logger.NewWithWriter(nilWriter{}))

	job, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	done := waitForJob(t, c, job.JobID)
	if done.Status != JobStatusFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if done.Error == "" {
		t.Error("failed job has no error detail")
	}

	ctx := context.Background()
	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Error("failed run must not publish a snapshot")
	}
	mapped, _ := s.GetTransaction(ctx, "mapped")
	if mapped.Category != "" {
		t.Errorf("failed run wrote categories: %+v", mapped)
	}
}

func TestSummaryFailureIsNonFatal(t *testing.T) {
	s := seedStore(t)
	provider := &fakeProvider{
		assignments:  []llm.Assignment{{ExternalID: "vague", Category: "Huishouden"}},
		summarizeErr: errors.New("model unavailable"),
	}
	c := NewController(s, s, testRegistry(), provider, logger.NewWithWriter(nilWriter{}))

	job, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	done := waitForJob(t, c, job.JobID)
	if done.Status != JobStatusDone {
		t.Fatalf("status = %q, want done despite summary failure", done.Status)
	}

	snap, err := s.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.SummaryPoints) != 0 {
		t.Errorf("SummaryPoints = %v, want none", snap.SummaryPoints)
	}
}

func TestTimeoutFailsHungProviderCall(t *testing.T) {
	s := seedStore(t)
	provider := &fakeProvider{block: make(chan struct{})}
	defer close(provider.block)

	c := NewController(s, s, testRegistry(), provider, logger.NewWithWriter(nilWriter{}))
	c.SetTimeout(20 * time.Millisecond)

	job, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	done := waitForJob(t, c, job.JobID)
	if done.Status != JobStatusFailed {
		t.Errorf("status = %q, want failed on deadline", done.Status)
	}
}

// failingUpsertStore rejects transaction writes once armed. Snapshot and
// read operations pass through.
type failingUpsertStore struct {
	*inmemory.Store
	fail bool
}

func (s *failingUpsertStore) UpsertTransactions(ctx context.Context, txs []domain.Transaction) error {
	if s.fail {
		return errors.New("write denied")
	}
	return s.Store.UpsertTransactions(ctx, txs)
}

func TestTransactionWriteFailureKeepsOldSnapshot(t *testing.T) {
	inner := seedStore(t)
	ctx := context.Background()
	if err := inner.SaveSnapshot(ctx, domain.BudgetSnapshot{Provider: "old"}); err != nil {
		t.Fatal(err)
	}

	failing := &failingUpsertStore{Store: inner, fail: true}
	provider := &fakeProvider{
		assignments: []llm.Assignment{{ExternalID: "vague", Category: "Huishouden"}},
	}
	c := NewController(failing, inner, testRegistry(), provider, logger.NewWithWriter(nilWriter{}))

	job, err := c.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	done := waitForJob(t, c, job.JobID)
	if done.Status != JobStatusFailed {
		t.Fatalf("status = %q, want failed when the transaction write fails", done.Status)
	}

	// The previously published snapshot must still be the visible one.
	snap, err := inner.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Provider != "old" {
		t.Errorf("visible snapshot provider = %q, want the prior snapshot to remain", snap.Provider)
	}
}

func TestRepeatedRunsYieldIdenticalAssignments(t *testing.T) {
	s := seedStore(t)
	provider := &fakeProvider{
		assignments: []llm.Assignment{{ExternalID: "vague", Category: "Huishouden"}},
	}
	c := NewController(s, s, testRegistry(), provider, logger.NewWithWriter(nilWriter{}))
	ctx := context.Background()

	runOnce := func() domain.BudgetSnapshot {
		job, err := c.Start(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if done := waitForJob(t, c, job.JobID); done.Status != JobStatusDone {
			t.Fatalf("status = %q (%s), want done", done.Status, done.Error)
		}
		snap, err := s.LatestSnapshot(ctx)
		if err != nil {
			t.Fatal(err)
		}
		return snap
	}

	first := runOnce()
	second := runOnce()

	if len(first.Transactions) != len(second.Transactions) {
		t.Fatalf("transaction counts differ: %d vs %d", len(first.Transactions), len(second.Transactions))
	}
	byID := make(map[string]domain.Transaction, len(first.Transactions))
	for _, tx := range first.Transactions {
		byID[tx.ExternalID] = tx
	}
	for _, tx := range second.Transactions {
		prev, ok := byID[tx.ExternalID]
		if !ok {
			t.Fatalf("transaction %s missing from the first run", tx.ExternalID)
		}
		if tx.Category != prev.Category || tx.Flow != prev.Flow || tx.Source != prev.Source {
			t.Errorf("%s diverged between runs: first %s/%s/%s, second %s/%s/%s",
				tx.ExternalID, prev.Category, prev.Flow, prev.Source, tx.Category, tx.Flow, tx.Source)
		}
	}
}

// chunkedProvider reports progress one transaction at a time and pauses
// after the first chunk until released.
type chunkedProvider struct {
	gate chan struct{}
}

func (p *chunkedProvider) Name() string  { return "chunked" }
func (p *chunkedProvider) Model() string { return "chunked-model" }

func (p *chunkedProvider) ClassifyBatch(ctx context.Context, req llm.Request) ([]llm.Assignment, error) {
	for i := range req.Transactions {
		if req.OnChunk != nil {
			req.OnChunk(1)
		}
		if i == 0 {
			select {
			case <-p.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, nil
}

func (p *chunkedProvider) Summarize(ctx context.Context, s domain.Summary) (string, error) {
	return "", errors.New("not used")
}

func TestProgressAdvancesPerProviderChunk(t *testing.T) {
	s := inmemory.NewStore()
	ctx := context.Background()
	err := s.UpsertTransactions(ctx, []domain.Transaction{
		{ExternalID: "a", BookingDate: "2024-01-01", Amount: dec("-1.00"), CounterpartyName: "AAA"},
		{ExternalID: "b", BookingDate: "2024-01-02", Amount: dec("-2.00"), CounterpartyName: "BBB"},
		{ExternalID: "c", BookingDate: "2024-01-03", Amount: dec("-3.00"), CounterpartyName: "CCC"},
	})
	if err != nil {
		t.Fatal(err)
	}

	provider := &chunkedProvider{gate: make(chan struct{})}
	c := NewController(s, s, mappings.NewRegistry(), provider, logger.NewWithWriter(nilWriter{}))

	job, err := c.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// The first chunk's completion must be visible before the batch ends.
	deadline := time.Now().Add(5 * time.Second)
	for {
		mid, err := c.Get(job.JobID)
		if err != nil {
			t.Fatal(err)
		}
		if mid.Processed >= 1 {
			if mid.Status != JobStatusRunning {
				t.Fatalf("status = %q while provider is paused, want running", mid.Status)
			}
			if mid.Processed >= mid.Total {
				t.Fatalf("progress = %d/%d before the batch finished", mid.Processed, mid.Total)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no per-chunk progress observed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(provider.gate)
	done := waitForJob(t, c, job.JobID)
	if done.Processed != done.Total || done.Total != 3 {
		t.Errorf("final progress = %d/%d, want 3/3", done.Processed, done.Total)
	}
}

func TestGetUnknownJob(t *testing.T) {
	s := seedStore(t)
	c := NewController(s, s, testRegistry(), &fakeProvider{}, logger.NewWithWriter(nilWriter{}))

	if _, err := c.Get("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/abi"
	werrors "github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/errors"
)

type fakeView struct {
	mu sync.Mutex

	requests map[uint64]abi.AnalysisRequestTuple
	snpUser1 map[uint64]string
	snpUser2 map[uint64]string

	submitErr    error
	markFailErr  error
	submitCalls  []uint64
	markFailArgs []string
	snpFetched   int

	// snpFetchFailTimes, when > 0, makes GetSNPDataForAnalysis return a
	// transient host error on the first N calls before succeeding.
	snpFetchFailTimes int

	pendingIDs   []uint64
	pendingErr   error
	pendingCalls int
}

func (f *fakeView) GetPendingRequests(ctx context.Context) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCalls++
	return f.pendingIDs, f.pendingErr
}

func (f *fakeView) GetAnalysisRequest(ctx context.Context, id uint64) (abi.AnalysisRequestTuple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id], nil
}

func (f *fakeView) GetSNPDataForAnalysis(ctx context.Context, id uint64) (string, string, error) {
	f.mu.Lock()
	f.snpFetched++
	attempt := f.snpFetched
	failTimes := f.snpFetchFailTimes
	f.mu.Unlock()

	if failTimes > 0 && attempt <= failTimes {
		return "", "", werrors.Coded(werrors.ErrHostUnavailable, werrors.CodeHostUnavailable, werrors.CategoryHost, true, "transient host hiccup")
	}
	return f.snpUser1[id], f.snpUser2[id], nil
}

func (f *fakeView) SubmitAnalysisResult(ctx context.Context, id uint64, resultJSON string, confidence uint64, relationship string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls = append(f.submitCalls, id)
	return f.submitErr
}

func (f *fakeView) MarkAnalysisFailed(ctx context.Context, id uint64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markFailArgs = append(f.markFailArgs, reason)
	return f.markFailErr
}

func testProcessor(view ContractView) *Processor {
	return testProcessorWithRetry(view, 2)
}

func testProcessorWithRetry(view ContractView, maxAttempts int) *Processor {
	return New(Config{
		PerIDDeadline: 5 * time.Second,
		PollInterval:  time.Millisecond,
		Retry:         RetryConfig{MaxAttempts: maxAttempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2},
	}, view, zerolog.Nop(), nil, nil)
}

func syntheticDataset(n int) string {
	var b strings.Builder
	bases := []string{"AA", "AT", "GG", "CT", "CC"}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "rs%d %d 1 %s\n", i, 1000+i, bases[i%len(bases)])
	}
	return b.String()
}

func TestProcessOneSkipsAlreadyTerminalRequest(t *testing.T) {
	view := &fakeView{
		requests: map[uint64]abi.AnalysisRequestTuple{
			1: {Status: statusCompleted},
		},
	}
	p := testProcessor(view)

	outcome := p.processOne(context.Background(), 1)
	if outcome != "already_terminal" {
		t.Errorf("outcome = %q, want already_terminal", outcome)
	}
	if view.snpFetched != 0 {
		t.Error("expected no SNP fetch for an already-terminal request")
	}
}

func TestProcessOneSkipsPendingWithResult(t *testing.T) {
	view := &fakeView{
		requests: map[uint64]abi.AnalysisRequestTuple{
			1: {Status: statusPending, Result: `{"status":"success"}`},
		},
	}
	p := testProcessor(view)

	outcome := p.processOne(context.Background(), 1)
	if outcome != "already_terminal" {
		t.Errorf("outcome = %q, want already_terminal", outcome)
	}
	if view.snpFetched != 0 {
		t.Error("expected no SNP fetch when result is already present")
	}
}

func TestProcessOneSubmitsOnSuccessfulAnalysis(t *testing.T) {
	raw := syntheticDataset(200)
	view := &fakeView{
		requests: map[uint64]abi.AnalysisRequestTuple{1: {Status: statusPending}},
		snpUser1: map[uint64]string{1: raw},
		snpUser2: map[uint64]string{1: raw},
	}
	p := testProcessor(view)

	outcome := p.processOne(context.Background(), 1)
	if outcome != "submitted" {
		t.Fatalf("outcome = %q, want submitted", outcome)
	}
	if len(view.submitCalls) != 1 || view.submitCalls[0] != 1 {
		t.Errorf("submitCalls = %v, want [1]", view.submitCalls)
	}
	if len(view.markFailArgs) != 0 {
		t.Errorf("unexpected markAnalysisFailed calls: %v", view.markFailArgs)
	}
}

func TestProcessOneFailsAnalysisWithInsufficientData(t *testing.T) {
	tiny := syntheticDataset(10)
	view := &fakeView{
		requests: map[uint64]abi.AnalysisRequestTuple{1: {Status: statusPending}},
		snpUser1: map[uint64]string{1: tiny},
		snpUser2: map[uint64]string{1: syntheticDataset(200)},
	}
	p := testProcessor(view)

	outcome := p.processOne(context.Background(), 1)
	if outcome != "failed" {
		t.Fatalf("outcome = %q, want failed", outcome)
	}
	if len(view.markFailArgs) != 1 || !strings.Contains(view.markFailArgs[0], "insufficient data") {
		t.Errorf("markFailArgs = %v, want a single insufficient-data reason", view.markFailArgs)
	}
	if len(view.submitCalls) != 0 {
		t.Error("expected no submit call on analysis failure")
	}
}

// S5 — host rejects submitAnalysisResult with a "not pending" style
// error; the worker treats the id as already processed and does not
// call markAnalysisFailed.
func TestProcessOneTreatsContractStateRejectionAsDone(t *testing.T) {
	raw := syntheticDataset(200)
	view := &fakeView{
		requests:  map[uint64]abi.AnalysisRequestTuple{1: {Status: statusPending}},
		snpUser1:  map[uint64]string{1: raw},
		snpUser2:  map[uint64]string{1: raw},
		submitErr: werrors.Coded(werrors.ErrContractStateRejection, werrors.CodeContractStateReject, werrors.CategoryContract, false, "not pending"),
	}
	p := testProcessor(view)

	outcome := p.processOne(context.Background(), 1)
	if outcome != "already_processed" {
		t.Fatalf("outcome = %q, want already_processed", outcome)
	}
	if len(view.markFailArgs) != 0 {
		t.Errorf("expected no markAnalysisFailed call, got %v", view.markFailArgs)
	}
}

func TestProcessOneCancellationBeforeSubmitPreventsSubmission(t *testing.T) {
	raw := syntheticDataset(200)
	view := &fakeView{
		requests: map[uint64]abi.AnalysisRequestTuple{1: {Status: statusPending}},
		snpUser1: map[uint64]string{1: raw},
		snpUser2: map[uint64]string{1: raw},
	}
	p := testProcessor(view)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before processOne reaches its submit suspension point

	outcome := p.processOne(ctx, 1)
	if outcome != "cancelled" {
		t.Errorf("outcome = %q, want cancelled", outcome)
	}
	if len(view.submitCalls) != 0 {
		t.Error("expected no submit call after cancellation")
	}
}

func TestMarkInFlightDedupesConcurrentIDs(t *testing.T) {
	p := testProcessor(&fakeView{})
	if !p.markInFlight(7) {
		t.Fatal("first markInFlight should succeed")
	}
	if p.markInFlight(7) {
		t.Fatal("second markInFlight for the same id should fail")
	}
	p.clearInFlight(7)
	if !p.markInFlight(7) {
		t.Fatal("markInFlight should succeed again after clearInFlight")
	}
}

func TestTickDeduplicatesInFlightIDs(t *testing.T) {
	view := &fakeView{
		requests:   map[uint64]abi.AnalysisRequestTuple{1: {Status: statusCompleted}},
		pendingIDs: []uint64{1},
	}
	p := testProcessor(view)

	p.mu.Lock()
	p.inFlight[1] = struct{}{}
	p.mu.Unlock()

	if p.markInFlight(1) {
		t.Fatal("expected id already marked in-flight to be skipped")
	}

	// A tick that re-observes id 1 must not start a worker for it; such a
	// worker would clear id 1 from the in-flight set when it finished.
	p.tick(context.Background())
	p.wg.Wait()
	if n := p.InFlightCount(); n != 1 {
		t.Errorf("InFlightCount after tick = %d, want 1 (id 1 still owned by the earlier worker)", n)
	}
}

// A transient host hiccup on the SNP fetch must be retried rather than
// immediately marking the request failed.
func TestProcessOneRetriesSNPFetchBeforeSucceeding(t *testing.T) {
	raw := syntheticDataset(200)
	view := &fakeView{
		requests:          map[uint64]abi.AnalysisRequestTuple{1: {Status: statusPending}},
		snpUser1:          map[uint64]string{1: raw},
		snpUser2:          map[uint64]string{1: raw},
		snpFetchFailTimes: 2,
	}
	p := testProcessorWithRetry(view, 3)

	outcome := p.processOne(context.Background(), 1)
	if outcome != "submitted" {
		t.Fatalf("outcome = %q, want submitted", outcome)
	}
	if view.snpFetched != 3 {
		t.Errorf("snpFetched = %d, want 3 (two failures then a success)", view.snpFetched)
	}
	if len(view.markFailArgs) != 0 {
		t.Errorf("unexpected markAnalysisFailed calls: %v", view.markFailArgs)
	}
}

// Once retries are exhausted, the request is marked failed and no
// further fetch attempts are made.
func TestProcessOneFailsAfterExhaustingSNPFetchRetries(t *testing.T) {
	view := &fakeView{
		requests:          map[uint64]abi.AnalysisRequestTuple{1: {Status: statusPending}},
		snpFetchFailTimes: 100,
	}
	p := testProcessorWithRetry(view, 3)

	outcome := p.processOne(context.Background(), 1)
	if outcome != "failed" {
		t.Fatalf("outcome = %q, want failed", outcome)
	}
	if view.snpFetched != 3 {
		t.Errorf("snpFetched = %d, want 3 (MaxAttempts exhausted)", view.snpFetched)
	}
	if len(view.markFailArgs) != 1 || !strings.Contains(view.markFailArgs[0], "snp fetch failed") {
		t.Errorf("markFailArgs = %v, want a single snp-fetch-failed reason", view.markFailArgs)
	}
	if len(view.submitCalls) != 0 {
		t.Error("expected no submit call")
	}
}

// Consecutive GetPendingRequests failures must escalate the poll
// delay, capped at maxPollBackoff.
func TestTickAppliesBackoffOnConsecutiveFailures(t *testing.T) {
	view := &fakeView{pendingErr: werrors.Coded(werrors.ErrHostUnavailable, werrors.CodeHostUnavailable, werrors.CategoryHost, true, "down")}
	p := testProcessor(view)
	p.cfg.PollInterval = time.Second

	var delays []time.Duration
	for i := 0; i < 12; i++ {
		delays = append(delays, p.tick(context.Background()))
	}

	if delays[0] < time.Second || delays[0] >= time.Second+time.Second/5 {
		t.Errorf("first failure delay = %v, want within [1s, 1.2s)", delays[0])
	}
	for i := 1; i < len(delays); i++ {
		// The un-jittered backoff doubles each step until it reaches the
		// cap and then stays there; with up to 20% jitter added on top,
		// a delay never falls below half of the one before it.
		if delays[i] < delays[i-1]/2 {
			t.Errorf("delay shrank unexpectedly at failure %d: %v -> %v", i+1, delays[i-1], delays[i])
		}
	}
	last := delays[len(delays)-1]
	if last < maxPollBackoff || last >= maxPollBackoff+maxPollBackoff/5 {
		t.Errorf("delay after many consecutive failures = %v, want within [%v, %v)", last, maxPollBackoff, maxPollBackoff+maxPollBackoff/5)
	}
}

// A successful poll resets the consecutive-failure counter, so a
// later failure starts backoff over from PollInterval.
func TestTickResetsBackoffAfterSuccess(t *testing.T) {
	view := &fakeView{pendingErr: werrors.Coded(werrors.ErrHostUnavailable, werrors.CodeHostUnavailable, werrors.CategoryHost, true, "down")}
	p := testProcessor(view)
	p.cfg.PollInterval = time.Second

	p.tick(context.Background())
	p.tick(context.Background())

	p.mu.Lock()
	if p.pollFailures != 2 {
		t.Fatalf("pollFailures = %d, want 2", p.pollFailures)
	}
	p.mu.Unlock()

	view.mu.Lock()
	view.pendingErr = nil
	view.mu.Unlock()

	delay := p.tick(context.Background())
	if delay != p.cfg.PollInterval {
		t.Errorf("delay after a successful poll = %v, want PollInterval exactly (no backoff/jitter on success)", delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pollFailures != 0 {
		t.Errorf("pollFailures = %d, want 0 after a successful poll", p.pollFailures)
	}
}

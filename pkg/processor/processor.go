// Package processor drives the per-request lifecycle: poll the
// contract for pending ids, fetch SNP data, run the similarity
// engine, and submit a terminal result — with in-flight
// deduplication, a bounded worker pool, and retry/backoff on
// transient host errors.
package processor

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/abi"
	werrors "github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/errors"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/snp"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/telemetry"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/tips"
)

const (
	statusPending   = "pending"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// maxPollBackoff caps the poll-layer backoff applied after consecutive
// GetPendingRequests failures, per spec.md §4.5.
const maxPollBackoff = 5 * time.Minute

// ContractView is the subset of pkg/contract.View the processor
// depends on, so tests can substitute a fake.
type ContractView interface {
	GetPendingRequests(ctx context.Context) ([]uint64, error)
	GetAnalysisRequest(ctx context.Context, id uint64) (abi.AnalysisRequestTuple, error)
	GetSNPDataForAnalysis(ctx context.Context, id uint64) (user1, user2 string, err error)
	SubmitAnalysisResult(ctx context.Context, id uint64, resultJSON string, confidence uint64, relationship string) error
	MarkAnalysisFailed(ctx context.Context, id uint64, reason string) error
}

// Config configures a Processor. Zero values are replaced with
// spec.md-defined defaults by withDefaults.
type Config struct {
	PollInterval  time.Duration
	MaxParallel   int64
	PerIDDeadline time.Duration
	Retry         RetryConfig
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 2
	}
	if c.PerIDDeadline <= 0 {
		c.PerIDDeadline = 120 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	}
	return c
}

// Processor is the request-processing loop and per-id state machine
// described in spec.md §4.5/§5. Its only persistent in-memory state is
// the inFlight set, which does not survive restarts.
type Processor struct {
	cfg     Config
	view    ContractView
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tipsGen tips.Generator
	sem     *semaphore.Weighted

	mu           sync.Mutex
	inFlight     map[uint64]struct{}
	pollFailures int

	runningMu sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Processor. metrics may be nil, in which case
// counters are silently skipped. tipsGen may be nil, in which case it
// defaults to tips.NullGenerator{}.
func New(cfg Config, view ContractView, logger zerolog.Logger, metrics *telemetry.Metrics, tipsGen tips.Generator) *Processor {
	cfg = cfg.withDefaults()
	if tipsGen == nil {
		tipsGen = tips.NullGenerator{}
	}
	return &Processor{
		cfg:      cfg,
		view:     view,
		logger:   telemetry.Component(logger, "processor"),
		metrics:  metrics,
		tipsGen:  tipsGen,
		sem:      semaphore.NewWeighted(cfg.MaxParallel),
		inFlight: make(map[uint64]struct{}),
	}
}

// Start begins the poll loop. It is idempotent: calling Start twice
// while already running is a no-op.
func (p *Processor) Start(ctx context.Context) {
	p.runningMu.Lock()
	if p.running {
		p.runningMu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.runningMu.Unlock()

	go p.pollLoop(ctx)
}

// Stop signals the poll loop and any in-flight per-id workers to
// unwind, and waits up to gracePeriod for them to finish before
// returning. It never submits a partial result for work that did not
// complete within the grace period.
func (p *Processor) Stop(gracePeriod time.Duration) {
	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.runningMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		p.logger.Warn().Dur("grace_period", gracePeriod).Msg("shutdown grace period elapsed with workers still in flight")
	}
}

// pollLoop drives ticks on a timer whose delay tick picks: the
// configured PollInterval on success, or an escalating backoff after
// consecutive GetPendingRequests failures (spec.md §4.5/§7's
// "HostUnavailable retries with backoff indefinitely at the poll
// layer").
func (p *Processor) pollLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-timer.C:
		}
		timer.Reset(p.tick(ctx))
	}
}

// tick runs one poll and returns the delay before the next one.
func (p *Processor) tick(ctx context.Context) time.Duration {
	if p.metrics != nil {
		p.metrics.PollTicks.Inc()
	}

	ids, err := p.view.GetPendingRequests(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.PollErrors.Inc()
		}
		p.mu.Lock()
		p.pollFailures++
		failures := p.pollFailures
		p.mu.Unlock()

		delay := p.pollBackoff(failures)
		p.logger.Warn().Err(err).Int("consecutive_failures", failures).Dur("next_poll_in", delay).Msg("poll failed")
		return delay
	}

	p.mu.Lock()
	p.pollFailures = 0
	p.mu.Unlock()

	for _, id := range ids {
		if !p.markInFlight(id) {
			continue
		}
		p.wg.Add(1)
		go p.runOne(ctx, id)
	}
	return p.cfg.PollInterval
}

// pollBackoff computes a capped exponential delay, doubling per
// consecutive failure from PollInterval up to maxPollBackoff, plus up
// to 20% jitter so that a fleet of workers recovering from the same
// outage doesn't re-poll in lockstep.
func (p *Processor) pollBackoff(consecutiveFailures int) time.Duration {
	backoff := p.cfg.PollInterval
	for i := 1; i < consecutiveFailures; i++ {
		backoff *= 2
		if backoff >= maxPollBackoff {
			backoff = maxPollBackoff
			break
		}
	}
	if backoff > maxPollBackoff {
		backoff = maxPollBackoff
	}
	return backoff + jitter(backoff)
}

func jitter(d time.Duration) time.Duration {
	fifth := int64(d) / 5
	if fifth <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(fifth))
}

func (p *Processor) runOne(ctx context.Context, id uint64) {
	defer p.wg.Done()
	defer p.clearInFlight(id)

	if p.metrics != nil {
		p.metrics.RequestsInFlight.Inc()
		defer p.metrics.RequestsInFlight.Dec()
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	select {
	case <-p.stopCh:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PerIDDeadline)
	defer cancel()

	outcome := p.processOne(ctx, id)
	if p.metrics != nil {
		p.metrics.RequestsOutcome.WithLabelValues(outcome).Inc()
	}
}

// processOne runs the fetch -> analyze -> submit pipeline for a
// single id and returns an outcome label for metrics.
func (p *Processor) processOne(ctx context.Context, id uint64) string {
	req, err := p.view.GetAnalysisRequest(ctx, id)
	if err != nil {
		p.logger.Warn().Uint64("id", id).Err(err).Msg("fetch analysis request failed")
		return "fetch_error"
	}

	// A request observed non-pending is never re-processed; status is
	// monotonic and the contract is authoritative.
	if req.Status != statusPending {
		return "already_terminal"
	}
	if req.Result != "" {
		p.logger.Warn().Uint64("id", id).Msg("pending request already carries a non-empty result; treating as done")
		return "already_terminal"
	}

	user1, user2, err := p.fetchSNPData(ctx, id)
	if err != nil {
		return p.failWithRetry(ctx, id, err, "snp fetch failed after retries")
	}

	result, stats, err := snp.Analyze(user1, user2)
	user1, user2 = "", "" // SNP data must never be logged or retained past analysis

	p.logger.Debug().
		Uint64("id", id).
		Int("user1_retained", stats.User1.RecordsRetained).
		Int("user2_retained", stats.User2.RecordsRetained).
		Int("common", stats.CommonCount).
		Msg("analysis complete")

	if err != nil {
		return p.failAnalysis(ctx, id, err)
	}

	if ctx.Err() != nil {
		// Cancellation observed at the suspension point before submit:
		// unwind without submitting, per spec.md §5.
		return "cancelled"
	}

	return p.submit(ctx, id, result)
}

// fetchSNPData retries GetSNPDataForAnalysis up to Retry.MaxAttempts
// times with the same capped-exponential backoff as submit, per
// spec.md §4.5's "retry up to N times (default 3) with backoff, else
// call markAnalysisFailed" policy for HostError/HostUnavailable/Timeout.
func (p *Processor) fetchSNPData(ctx context.Context, id uint64) (user1, user2 string, err error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.Retry.MaxAttempts; attempt++ {
		user1, user2, err = p.view.GetSNPDataForAnalysis(ctx, id)
		if err == nil {
			return user1, user2, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", "", lastErr
		}
		if attempt == p.cfg.Retry.MaxAttempts-1 {
			break
		}
		p.logger.Warn().Uint64("id", id).Int("attempt", attempt+1).Err(err).Msg("snp fetch failed, retrying")
		select {
		case <-time.After(p.cfg.Retry.CalculateBackoff(attempt)):
		case <-ctx.Done():
			return "", "", lastErr
		}
	}
	return "", "", lastErr
}

func (p *Processor) submit(ctx context.Context, id uint64, result snp.Result) string {
	recommendations := result.Recommendations
	if extra, err := p.tipsGen.Generate(ctx, result.Relationship, result.IBS.IBSScore); err != nil {
		p.logger.Warn().Uint64("id", id).Err(err).Msg("tips generator failed, continuing with static catalogue only")
	} else if len(extra) > 0 {
		recommendations = append(append([]string(nil), recommendations...), extra...)
	}

	payload := resultPayload{
		Status:          "success",
		NCommonSNPs:     result.NCommonSNPs,
		IBSAnalysis:     result.IBS,
		IBS2Pct:         result.IBS2Percentage,
		Relationship:    result.Relationship,
		Confidence:      result.Confidence,
		PCADistance:     result.PCADistance,
		Recommendations: recommendations,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error().Uint64("id", id).Err(err).Msg("result marshal failed")
		return "marshal_error"
	}

	confidencePct := uint64(result.Confidence * 100)

	var lastErr error
	for attempt := 0; attempt < p.cfg.Retry.MaxAttempts; attempt++ {
		err := p.view.SubmitAnalysisResult(ctx, id, string(body), confidencePct, result.Relationship)
		if err == nil {
			return "submitted"
		}
		if werrors.Is(err, werrors.ErrContractStateRejection) {
			// Another submission already completed this id: terminal
			// success from the worker's point of view.
			return "already_processed"
		}
		lastErr = err
		if ctx.Err() != nil {
			return "cancelled"
		}
		select {
		case <-time.After(p.cfg.Retry.CalculateBackoff(attempt)):
		case <-ctx.Done():
			return "cancelled"
		}
	}

	p.logger.Warn().Uint64("id", id).Err(lastErr).Msg("submit exhausted retries, marking failed")
	if err := p.view.MarkAnalysisFailed(ctx, id, "submission failed after retries"); err != nil {
		p.logger.Error().Uint64("id", id).Err(err).Msg("markAnalysisFailed also failed, releasing id")
	}
	return "submit_failed"
}

// failWithRetry reports a fetch that failed even after fetchSNPData's
// retries as a terminal on-chain failure.
func (p *Processor) failWithRetry(ctx context.Context, id uint64, cause error, reason string) string {
	p.logger.Warn().Uint64("id", id).Err(cause).Msg(reason)
	if err := p.view.MarkAnalysisFailed(ctx, id, reason); err != nil {
		if werrors.Is(err, werrors.ErrContractStateRejection) {
			return "already_processed"
		}
		p.logger.Error().Uint64("id", id).Err(err).Msg("markAnalysisFailed failed, releasing id")
		return "mark_failed_error"
	}
	return "failed"
}

// failAnalysis reports a non-retryable C2 rejection (InsufficientData,
// InsufficientOverlap, MalformedInput) as a terminal on-chain failure
// with the rejection's human-readable reason.
func (p *Processor) failAnalysis(ctx context.Context, id uint64, cause error) string {
	reason := cause.Error()
	var coded *werrors.CodedError
	if werrors.As(cause, &coded) {
		reason = coded.Message
	}
	if err := p.view.MarkAnalysisFailed(ctx, id, reason); err != nil {
		if werrors.Is(err, werrors.ErrContractStateRejection) {
			return "already_processed"
		}
		p.logger.Error().Uint64("id", id).Err(err).Msg("markAnalysisFailed failed, releasing id")
		return "mark_failed_error"
	}
	return "failed"
}

func (p *Processor) markInFlight(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[id]; ok {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Processor) clearInFlight(id uint64) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// InFlightCount reports how many ids are currently being processed,
// for diagnostics.
func (p *Processor) InFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// resultPayload mirrors spec.md §3's analysis-result JSON exactly,
// field order included.
type resultPayload struct {
	Status          string          `json:"status"`
	NCommonSNPs     int             `json:"n_common_snps"`
	IBSAnalysis     snp.IBSAnalysis `json:"ibs_analysis"`
	IBS2Pct         float64         `json:"ibs2_percentage"`
	Relationship    string          `json:"relationship"`
	Confidence      float64         `json:"confidence"`
	PCADistance     float64         `json:"pca_distance"`
	Recommendations []string        `json:"recommendations"`
}

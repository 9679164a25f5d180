package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rolloutkit/rollout/internal/types"
)

const defaultValidatorTimeout = 30 * time.Second

// Store is the persistence slice the runner depends on. The concrete store
// is injected; the runner never reaches for a global registry.
type Store interface {
	GetPipeline(ctx context.Context, id string) (*Pipeline, error)
	SaveExecution(ctx context.Context, exec *Execution) error
}

// Observer receives execution telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ValidatorRan(t ValidatorType, status ResultStatus, d time.Duration)
	ExecutionFinished(status ExecutionStatus, d time.Duration)
}

// Config holds runner configuration.
type Config struct {
	Store    Store
	Registry *Registry   // defaults to the built-in check registry
	Logger   *log.Logger // defaults to a discard logger
	Observer Observer    // optional telemetry sink

	// MaxParallel bounds concurrent validator checks in parallel mode.
	// Default: 4.
	MaxParallel int64

	// Circuit breaker settings, shared per validator type across
	// executions. BreakerThreshold 0 disables the breaker.
	BreakerThreshold   int
	BreakerSuccesses   int
	BreakerOpenTimeout time.Duration
}

// Runner executes validation pipelines against features.
type Runner struct {
	store       Store
	registry    *Registry
	logger      *log.Logger
	observer    Observer
	maxParallel int64

	breakerMu        sync.Mutex
	breakers         map[ValidatorType]*Breaker
	breakerThreshold int
	breakerSuccesses int
	breakerTimeout   time.Duration

	activeMu sync.Mutex
	active   map[string]*activeExecution
}

// activeExecution pairs an in-flight execution record with its cancel
// handle. All mutation of the record goes through its mutex so cancellation
// can fence out late validator results.
type activeExecution struct {
	mu     sync.Mutex
	exec   *Execution
	cancel context.CancelFunc
}

// NewRunner creates a pipeline runner.
func NewRunner(cfg *Config) (*Runner, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}
	successes := cfg.BreakerSuccesses
	if successes <= 0 {
		successes = 2
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	return &Runner{
		store:            cfg.Store,
		registry:         registry,
		logger:           logger,
		observer:         cfg.Observer,
		maxParallel:      maxParallel,
		breakers:         make(map[ValidatorType]*Breaker),
		breakerThreshold: cfg.BreakerThreshold,
		breakerSuccesses: successes,
		breakerTimeout:   openTimeout,
		active:           make(map[string]*activeExecution),
	}, nil
}

// Execute runs the named pipeline against the request's feature. An unknown
// pipeline id is a configuration error: it is returned to the caller and no
// execution record is created. Validator failures are not errors; they are
// recorded on the returned execution.
func (r *Runner) Execute(ctx context.Context, pipelineID string, req Request) (*Execution, error) {
	p, err := r.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("looking up pipeline %s: %w", pipelineID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exec := &Execution{
		ID:         uuid.NewString(),
		PipelineID: p.ID,
		FeatureID:  req.Feature.ID,
		Status:     ExecutionPending,
	}
	ae := &activeExecution{exec: exec, cancel: cancel}

	r.activeMu.Lock()
	r.active[exec.ID] = ae
	r.activeMu.Unlock()
	defer func() {
		r.activeMu.Lock()
		delete(r.active, exec.ID)
		r.activeMu.Unlock()
	}()

	selected := selectValidators(p)

	ae.mu.Lock()
	exec.Status = ExecutionRunning
	exec.StartedAt = time.Now()
	mode := "sequential"
	if p.Parallel {
		mode = "parallel"
	}
	ae.logf("execution started: pipeline=%s feature=%s validators=%d mode=%s",
		p.ID, req.Feature.ID, len(selected), mode)
	ae.mu.Unlock()

	r.logger.Info("pipeline execution started",
		"execution", exec.ID, "pipeline", p.ID, "feature", req.Feature.ID, "mode", mode)

	if p.Parallel {
		r.runParallel(runCtx, p, selected, req, ae)
	} else {
		r.runSequential(runCtx, p, selected, req, ae)
	}

	r.finalize(ae, runCtx.Err())

	// Persist even when the surrounding context is gone; losing the record
	// of a cancelled run would make cancellation look like data corruption.
	if err := r.store.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
		r.logger.Warn("failed to persist execution", "execution", exec.ID, "err", err)
	}

	return exec, nil
}

// ActiveExecutions returns the ids of executions currently in flight.
func (r *Runner) ActiveExecutions() []string {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel moves a running execution to cancelled. Results already recorded
// remain valid; no further results are appended afterwards.
func (r *Runner) Cancel(executionID string) error {
	r.activeMu.Lock()
	ae, ok := r.active[executionID]
	r.activeMu.Unlock()
	if !ok {
		return fmt.Errorf("no running execution with id %s", executionID)
	}

	ae.mu.Lock()
	if !ae.exec.Status.IsTerminal() {
		ae.exec.Status = ExecutionCancelled
		ae.exec.FinishedAt = time.Now()
		ae.logf("execution cancelled")
	}
	ae.mu.Unlock()

	ae.cancel()
	return nil
}

// selectValidators filters to enabled validators and orders them: explicit
// execution order first, then ascending priority, ties by declaration order.
func selectValidators(p *Pipeline) []ValidatorConfig {
	orderIdx := make(map[string]int, len(p.ExecutionOrder))
	for i, id := range p.ExecutionOrder {
		orderIdx[id] = i
	}

	var selected []ValidatorConfig
	for _, v := range p.Validators {
		if v.Enabled {
			selected = append(selected, v)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		oi, iOk := orderIdx[selected[i].ID]
		oj, jOk := orderIdx[selected[j].ID]
		switch {
		case iOk && jOk:
			return oi < oj
		case iOk != jOk:
			return iOk // explicitly ordered validators run first
		default:
			return selected[i].Priority < selected[j].Priority
		}
	})

	return selected
}

func (r *Runner) runSequential(ctx context.Context, p *Pipeline, validators []ValidatorConfig, req Request, ae *activeExecution) {
	for _, vc := range validators {
		if ctx.Err() != nil {
			return
		}

		result := r.runValidator(ctx, p, vc, req)
		if !ae.appendResult(result) {
			return // cancelled while the validator ran
		}

		if p.FailFast && result.Status == ResultFailed {
			ae.mu.Lock()
			ae.logf("fail-fast: validator %s failed, skipping remaining validators", vc.ID)
			ae.mu.Unlock()
			return
		}
	}
}

// runParallel launches every validator concurrently and joins on all of
// them. A faulting validator becomes a failed result for that validator
// only; it never takes down its siblings.
func (r *Runner) runParallel(ctx context.Context, p *Pipeline, validators []ValidatorConfig, req Request, ae *activeExecution) {
	sem := semaphore.NewWeighted(r.maxParallel)
	var wg sync.WaitGroup

	for _, vc := range validators {
		wg.Add(1)
		go func(vc ValidatorConfig) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return // execution cancelled before this validator started
			}
			defer sem.Release(1)

			result := r.runValidator(ctx, p, vc, req)
			ae.appendResult(result)
		}(vc)
	}

	wg.Wait()
}

// runValidator executes one validator with timeout, panic isolation, the
// circuit breaker, and the pipeline's retry policy applied.
func (r *Runner) runValidator(ctx context.Context, p *Pipeline, vc ValidatorConfig, req Request) ValidatorResult {
	result := ValidatorResult{
		ValidatorID: vc.ID,
		Type:        vc.Type,
		StartedAt:   time.Now(),
	}
	finish := func() {
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)
		if r.observer != nil {
			r.observer.ValidatorRan(vc.Type, result.Status, result.Duration)
		}
	}

	check, ok := r.registry.Lookup(vc.Type)
	if !ok {
		result.Status = ResultFailed
		result.Error = fmt.Sprintf("no check registered for validator type %s", vc.Type)
		finish()
		return result
	}

	// The pipeline's retry ceiling caps the validator's own retry count.
	retries := vc.Retries
	if retries > p.Retry.MaxRetries {
		retries = p.Retry.MaxRetries
	}

	breaker := r.breakerFor(vc.Type)
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		result.Attempts = attempt + 1

		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				lastErr = err
				break // open circuit: fail fast, retrying would be pointless
			}
		}

		res, err := r.invoke(ctx, check, vc, req)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			result.Score = res.Score
			result.Recommendations = res.Recommendations
			for _, issue := range res.Issues {
				issue.ValidatorID = vc.ID
				result.Issues = append(result.Issues, issue)
			}
			if res.Passed {
				result.Status = ResultPassed
			} else {
				result.Status = ResultFailed
			}
			finish()
			return result
		}

		lastErr = err
		if breaker != nil {
			breaker.RecordFailure()
		}

		category := Categorize(err)
		if !p.Retry.Retryable(category) || attempt == retries {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		delay := p.Retry.Delay(attempt)
		r.logger.Debug("retrying validator",
			"validator", vc.ID, "attempt", attempt+1, "category", category, "delay", delay, "err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = retries // no more attempts after cancellation
		}
	}

	result.Status = ResultFailed
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	finish()
	return result
}

type checkOutcome struct {
	res *CheckResult
	err error
}

// invoke runs a single check attempt with its timeout, converting panics
// into ordinary faults. The select enforces the timeout even against a
// check that ignores its context.
func (r *Runner) invoke(ctx context.Context, check Check, vc ValidatorConfig, req Request) (*CheckResult, error) {
	timeout := vc.Timeout
	if timeout <= 0 {
		timeout = defaultValidatorTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan checkOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- checkOutcome{err: fmt.Errorf("check panicked: %v", p)}
			}
		}()
		res, err := check.Run(cctx, req)
		ch <- checkOutcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		if out.res == nil {
			return nil, fmt.Errorf("check for %s returned no result", vc.Type)
		}
		return out.res, nil
	case <-cctx.Done():
		return nil, cctx.Err()
	}
}

func (r *Runner) breakerFor(t ValidatorType) *Breaker {
	if r.breakerThreshold <= 0 {
		return nil
	}
	r.breakerMu.Lock()
	defer r.breakerMu.Unlock()
	b, ok := r.breakers[t]
	if !ok {
		b = NewBreaker(r.breakerThreshold, r.breakerSuccesses, r.breakerTimeout)
		r.breakers[t] = b
	}
	return b
}

// finalize aggregates results and closes out the execution status. Partial
// results from a cancelled run stay on the record.
func (r *Runner) finalize(ae *activeExecution, ctxErr error) {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	e := ae.exec

	var sum float64
	anyFailed := false
	anyCritical := false
	seenRec := make(map[string]bool)

	for _, res := range e.Results {
		sum += res.Score
		if res.Status == ResultFailed {
			anyFailed = true
		}
		for _, issue := range res.Issues {
			e.Issues = append(e.Issues, issue)
			if issue.Severity == types.SeverityCritical {
				anyCritical = true
			}
		}
		for _, rec := range res.Recommendations {
			if !seenRec[rec] {
				seenRec[rec] = true
				e.Recommendations = append(e.Recommendations, rec)
			}
		}
	}

	if len(e.Results) > 0 {
		e.OverallScore = sum / float64(len(e.Results))
	}
	e.Passed = !anyFailed && !anyCritical && e.OverallScore >= 80

	if !e.Status.IsTerminal() {
		switch {
		case errors.Is(ctxErr, context.DeadlineExceeded):
			e.Status = ExecutionFailed
		case ctxErr != nil:
			e.Status = ExecutionCancelled
		default:
			e.Status = ExecutionCompleted
		}
		e.FinishedAt = time.Now()
	}

	ae.logf("execution finished: status=%s score=%.1f passed=%t results=%d",
		e.Status, e.OverallScore, e.Passed, len(e.Results))

	if r.observer != nil {
		r.observer.ExecutionFinished(e.Status, e.FinishedAt.Sub(e.StartedAt))
	}
}

// appendResult records a validator result unless the execution has already
// reached a terminal state. Returns false if the result was fenced out.
func (a *activeExecution) appendResult(res ValidatorResult) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.exec.Status != ExecutionRunning {
		return false
	}
	a.exec.Results = append(a.exec.Results, res)
	a.logf("validator %s finished: status=%s score=%.1f attempts=%d",
		res.ValidatorID, res.Status, res.Score, res.Attempts)
	return true
}

// logf appends to the execution's narrative log. Callers must hold the
// execution mutex.
func (a *activeExecution) logf(format string, args ...any) {
	a.exec.Log = append(a.exec.Log, LogEntry{
		Timestamp: time.Now(),
		Message:   fmt.Sprintf(format, args...),
	})
}

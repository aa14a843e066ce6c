package acquire

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/cache"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/pkg/models"
)

// ExhaustedMessage is surfaced when no tier produced comparables.
const ExhaustedMessage = "All comparable data sources exhausted: check API keys or wait for quota reset"

// State is a waterfall state.
type State int

const (
	StateIdle State = iota
	StateTryingTier
	StateSucceeded
	StateAllExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTryingTier:
		return "trying_tier"
	case StateSucceeded:
		return "succeeded"
	case StateAllExhausted:
		return "all_exhausted"
	}
	return "unknown"
}

// Outcome is the result of trying one tier.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeEmpty          Outcome = "empty"
	OutcomeError          Outcome = "error"
	OutcomeQuotaExhausted Outcome = "quota_exhausted"
	OutcomeCircuitOpen    Outcome = "circuit_open"
	OutcomeCancelled      Outcome = "cancelled"
)

// Attempt records one tier of a run.
type Attempt struct {
	Provider string  `json:"provider"`
	Tier     int     `json:"tier"`
	Outcome  Outcome `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// ComparablesResult is the answer of FetchComparables.
type ComparablesResult struct {
	Comparables []models.Comparable `json:"comparables"`
	DataSource  string              `json:"data_source,omitempty"`
	Tier        int                 `json:"tier,omitempty"`
	Cached      bool                `json:"cached"`
	Exhausted   bool                `json:"exhausted"`
	Message     string              `json:"message,omitempty"`
	Attempts    []Attempt           `json:"attempts,omitempty"`
	RunID       string              `json:"run_id"`
	FetchedAt   time.Time           `json:"fetched_at"`
}

// Step tries one tier. A non-empty result with OutcomeSuccess ends the run.
type Step struct {
	Name string
	Tier int
	Run  func(ctx context.Context) ([]models.Comparable, Outcome, error)
}

// Machine evaluates steps in order:
// Idle -> TryingTier(n) -> Succeeded | AllExhausted.
type Machine struct {
	steps []Step

	state    State
	current  int
	result   []models.Comparable
	winner   *Step
	attempts []Attempt
	trace    []State
	err      error
}

// NewMachine creates a machine over steps.
func NewMachine(steps []Step) *Machine {
	return &Machine{steps: steps, state: StateIdle, trace: []State{StateIdle}}
}

func (m *Machine) transition(to State) {
	m.state = to
	m.trace = append(m.trace, to)
}

// Run drives the machine to a terminal state. A done context ends the run
// as exhausted without trying the remaining tiers.
func (m *Machine) Run(ctx context.Context) State {
	for {
		switch m.state {
		case StateIdle:
			if len(m.steps) == 0 {
				m.transition(StateAllExhausted)
				continue
			}
			m.current = 0
			m.transition(StateTryingTier)

		case StateTryingTier:
			step := m.steps[m.current]
			if err := ctx.Err(); err != nil {
				m.cancel(step, err)
				continue
			}

			comps, outcome, err := step.Run(ctx)
			if outcome == OutcomeSuccess && len(comps) == 0 {
				outcome = OutcomeEmpty
			}
			a := Attempt{Provider: step.Name, Tier: step.Tier, Outcome: outcome}
			if err != nil {
				a.Error = err.Error()
			}
			m.attempts = append(m.attempts, a)

			if outcome == OutcomeSuccess {
				m.result = comps
				m.winner = &m.steps[m.current]
				m.transition(StateSucceeded)
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				m.err = ctxErr
				m.transition(StateAllExhausted)
				continue
			}
			m.current++
			if m.current >= len(m.steps) {
				m.transition(StateAllExhausted)
				continue
			}
			// Stay in TryingTier for the next tier.
			m.trace = append(m.trace, StateTryingTier)

		default:
			return m.state
		}
	}
}

func (m *Machine) cancel(step Step, err error) {
	m.attempts = append(m.attempts, Attempt{
		Provider: step.Name,
		Tier:     step.Tier,
		Outcome:  OutcomeCancelled,
		Error:    err.Error(),
	})
	m.err = err
	m.transition(StateAllExhausted)
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Trace returns every state entered, in order.
func (m *Machine) Trace() []State { return append([]State(nil), m.trace...) }

// Attempts returns the per-tier records.
func (m *Machine) Attempts() []Attempt { return append([]Attempt(nil), m.attempts...) }

// Result returns the winning comparables and step, if any.
func (m *Machine) Result() ([]models.Comparable, *Step) { return m.result, m.winner }

// Err returns the context error that stopped the run, if any.
func (m *Machine) Err() error { return m.err }

// cachedComparables is the cache payload for comps_ entries.
type cachedComparables struct {
	Comparables []models.Comparable `json:"comparables"`
	DataSource  string              `json:"data_source"`
	Tier        int                 `json:"tier"`
}

// FetchComparables returns comparables for the subject from the cache or
// the first tier that has any. Concurrent calls for the same identity share
// one run, which keeps going when the caller that started it gives up.
func (e *Engine) FetchComparables(ctx context.Context, id models.Identity, forceRefresh bool) (*ComparablesResult, error) {
	if err := e.checkIdentity(id); err != nil {
		return nil, err
	}
	key := cache.Key(cache.Comps, id)

	if !forceRefresh {
		var hit cachedComparables
		if e.cache.GetJSON(ctx, key, &hit) {
			e.metrics.WaterfallRun("cached", hit.DataSource)
			return &ComparablesResult{
				Comparables: hit.Comparables,
				DataSource:  hit.DataSource,
				Tier:        hit.Tier,
				Cached:      true,
				RunID:       uuid.NewString(),
				FetchedAt:   time.Now().UTC(),
			}, nil
		}
	}

	flightKey := key
	if forceRefresh {
		flightKey += "|refresh"
	}
	// The run outlives any single caller; tier timeouts bound it.
	runCtx := context.WithoutCancel(ctx)
	ch := e.flights.DoChan(flightKey, func() (interface{}, error) {
		return e.runWaterfall(runCtx, id, key), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		shared := *r.Val.(*ComparablesResult)
		return &shared, nil
	}
}

func (e *Engine) runWaterfall(ctx context.Context, id models.Identity, key string) *ComparablesResult {
	runID := uuid.NewString()
	log := e.logger.With(zap.String("run_id", runID), zap.String("identity", id.Key()))

	steps := make([]Step, len(e.tiers))
	for i, t := range e.tiers {
		t := t
		steps[i] = Step{
			Name: t.provider.Info().Name,
			Tier: t.index,
			Run: func(ctx context.Context) ([]models.Comparable, Outcome, error) {
				return e.tryTier(ctx, t, id, log)
			},
		}
	}

	m := NewMachine(steps)
	m.Run(ctx)

	res := &ComparablesResult{
		Attempts:  m.Attempts(),
		RunID:     runID,
		FetchedAt: time.Now().UTC(),
	}
	comps, winner := m.Result()
	if m.State() == StateSucceeded && winner != nil {
		res.Comparables = comps
		res.DataSource = winner.Name
		res.Tier = winner.Tier
		if err := e.cache.Set(ctx, key, cachedComparables{
			Comparables: comps,
			DataSource:  winner.Name,
			Tier:        winner.Tier,
		}, cache.Comps); err != nil {
			log.Error("cache comparables", zap.Error(err))
		}
		log.Info("comparables acquired",
			zap.String("provider", winner.Name),
			zap.Int("tier", winner.Tier),
			zap.Int("count", len(comps)),
		)
		e.metrics.WaterfallRun("succeeded", winner.Name)
		return res
	}

	res.Comparables = []models.Comparable{}
	res.Exhausted = true
	res.Message = ExhaustedMessage
	if err := m.Err(); err != nil {
		res.Message = ExhaustedMessage + " (" + err.Error() + ")"
		e.metrics.WaterfallRun("cancelled", "")
	} else {
		e.metrics.WaterfallRun("exhausted", "")
	}
	log.Warn("all comparable sources exhausted", zap.Int("tiers", len(steps)))
	return res
}

// tryTier runs one tier: quota check, breaker check, fetch with retries
// under the tier timeout, then usage accounting.
func (e *Engine) tryTier(ctx context.Context, t tierSpec, id models.Identity, log *zap.Logger) ([]models.Comparable, Outcome, error) {
	name := t.provider.Info().Name
	log = log.With(zap.String("provider", name), zap.Int("tier", t.index))

	if !e.available(ctx, name) {
		e.metrics.QuotaSkip(name)
		return nil, OutcomeQuotaExhausted, nil
	}
	if e.BreakerState(name) == gobreaker.StateOpen {
		log.Warn("circuit open, skipping tier")
		return nil, OutcomeCircuitOpen, nil
	}

	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	comps, err := call(tctx, e, name, provider.CapComparables, func(ctx context.Context) ([]models.Comparable, error) {
		return t.provider.FetchComparables(ctx, id)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, OutcomeCancelled, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn("circuit opened during tier", zap.Error(err))
			return nil, OutcomeCircuitOpen, err
		}
		e.account(ctx, name, err)
		log.Warn("tier failed", zap.Error(err))
		return nil, OutcomeError, err
	}

	// The provider billed the request whether or not it had data.
	e.account(ctx, name, nil)
	if len(comps) == 0 {
		log.Info("tier returned no comparables")
		return nil, OutcomeEmpty, nil
	}
	return comps, OutcomeSuccess, nil
}

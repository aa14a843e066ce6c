package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/acquire"
	"github.com/arvscout/arvscout/pkg/models"
)

// PurchaseHeuristic is applied to the purchase price when no source has
// an estimate.
const PurchaseHeuristic = 1.20

// MethodPurchaseHeuristic labels heuristic valuations.
const MethodPurchaseHeuristic = "purchase-price heuristic"

// ComparablesFetcher supplies comparables; *acquire.Engine implements it.
type ComparablesFetcher interface {
	FetchComparables(ctx context.Context, id models.Identity, forceRefresh bool) (*acquire.ComparablesResult, error)
}

// EstimatesFetcher supplies automated estimates; *acquire.Engine implements it.
type EstimatesFetcher interface {
	FetchEstimates(ctx context.Context, id models.Identity, forceRefresh bool) (*acquire.Estimates, error)
}

// Result is a full valuation with the evidence behind it.
type Result struct {
	Identity    models.Identity             `json:"identity"`
	Valuation   *models.AggregatedValuation `json:"valuation"`
	Bundle      models.EstimateBundle       `json:"bundle"`
	Comparables *acquire.ComparablesResult  `json:"comparables,omitempty"`
	Estimates   *acquire.Estimates          `json:"estimates,omitempty"`
	Breakdown   CompsBreakdown              `json:"comps_breakdown"`
	Warnings    []string                    `json:"warnings,omitempty"`
}

// Request describes one valuation.
type Request struct {
	Identity      models.Identity
	Subject       models.Subject
	PurchasePrice float64 // zero when unknown
	ForceRefresh  bool
}

// Service gathers evidence and aggregates it.
type Service struct {
	comps     ComparablesFetcher
	estimates EstimatesFetcher
	weights   Weights
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWeights overrides the base weights.
func WithWeights(w Weights) Option { return func(s *Service) { s.weights = w } }

// WithClock overrides the clock used for comparable recency.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a valuation service. estimates may be nil.
func NewService(comps ComparablesFetcher, estimates EstimatesFetcher, opts ...Option) *Service {
	s := &Service{
		comps:     comps,
		estimates: estimates,
		weights:   DefaultWeights(),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Estimate values the subject. With no evidence at all it falls back to
// the purchase price times 1.20, and fails with ErrNoSources when no
// purchase price is known either.
func (s *Service) Estimate(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Identity: req.Identity}

	comps, err := s.comps.FetchComparables(ctx, req.Identity, req.ForceRefresh)
	if err != nil {
		return nil, fmt.Errorf("fetch comparables: %w", err)
	}
	res.Comparables = comps
	if comps.Exhausted {
		res.Warnings = append(res.Warnings, comps.Message)
	}
	res.Bundle.Comps, res.Breakdown = CompsEstimate(req.Subject, comps.Comparables, s.now())

	if s.estimates != nil {
		est, err := s.estimates.FetchEstimates(ctx, req.Identity, req.ForceRefresh)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("automated estimates unavailable", zap.Error(err))
			res.Warnings = append(res.Warnings, "Automated estimates unavailable: "+err.Error())
		default:
			res.Estimates = est
			res.Bundle.AutomatedA = est.AutomatedA
			res.Bundle.AutomatedB = est.AutomatedB
		}
	}

	agg, err := s.weights.Aggregate(res.Bundle)
	if errors.Is(err, ErrNoSources) && req.PurchasePrice > 0 {
		v := req.PurchasePrice * PurchaseHeuristic
		agg = &models.AggregatedValuation{
			Value:  v,
			Method: MethodPurchaseHeuristic,
			Sources: []models.ValuationSource{
				{Name: "purchase_price", Value: req.PurchasePrice, Weight: 1},
			},
		}
		res.Warnings = append(res.Warnings, "No market evidence available; value is purchase price x 1.20")
		err = nil
	}
	if err != nil {
		return nil, err
	}
	res.Valuation = agg

	s.logger.Info("valuation computed",
		zap.String("identity", req.Identity.Key()),
		zap.Float64("value", agg.Value),
		zap.String("method", agg.Method),
		zap.Int("sources", len(agg.Sources)),
	)
	return res, nil
}

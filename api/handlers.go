package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/acquire"
	"github.com/arvscout/arvscout/internal/cache"
	"github.com/arvscout/arvscout/internal/valuation"
	"github.com/arvscout/arvscout/pkg/models"
)

// ValuationRequest is the body for POST /api/v1/valuation.
type ValuationRequest struct {
	models.Identity
	Subject       models.Subject `json:"subject"`
	PurchasePrice float64        `json:"purchase_price,omitempty" validate:"gte=0"`
	ForceRefresh  bool           `json:"force_refresh,omitempty"`
	// Validate also runs the historical validator on the result.
	Validate bool `json:"validate,omitempty"`
}

// ValuationResponse wraps a valuation and its optional validation.
type ValuationResponse struct {
	*valuation.Result
	Validation *models.HistoricalValidation `json:"validation,omitempty"`
}

// ValidateRequest is the body for POST /api/v1/validate.
type ValidateRequest struct {
	models.Identity
	Value float64 `json:"value" validate:"gt=0"`
}

// ClearCacheResponse reports a cache clear.
type ClearCacheResponse struct {
	Prefix  string `json:"prefix"`
	Removed int    `json:"removed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, map[string]interface{}{
		"status":    "ok",
		"version":   Version,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"ws_client": s.hub.ClientCount(),
	})
}

func identityFromQuery(r *http.Request) models.Identity {
	q := r.URL.Query()
	return models.Identity{
		Address:    q.Get("address"),
		City:       q.Get("city"),
		State:      q.Get("state"),
		Zip:        q.Get("zip"),
		ProviderID: q.Get("provider_id"),
	}
}

func (s *Server) handleComparables(w http.ResponseWriter, r *http.Request) {
	id := identityFromQuery(r)
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	res, err := s.engine.FetchComparables(r.Context(), id, refresh)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	s.hub.Broadcast(Event{
		Type:     EventComparables,
		Identity: id.Key(),
		Data: map[string]interface{}{
			"data_source": res.DataSource,
			"count":       len(res.Comparables),
			"cached":      res.Cached,
			"exhausted":   res.Exhausted,
		},
	})
	s.writeData(w, res)
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	var req ValuationRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.valuer.Estimate(r.Context(), valuation.Request{
		Identity:      req.Identity,
		Subject:       req.Subject,
		PurchasePrice: req.PurchasePrice,
		ForceRefresh:  req.ForceRefresh,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	out := ValuationResponse{Result: res}
	if req.Validate {
		v := s.validator.Validate(r.Context(), res.Valuation.Value, req.Identity)
		out.Validation = &v
	}

	s.hub.Broadcast(Event{
		Type:     EventValuation,
		Identity: req.Identity.Key(),
		Data: map[string]interface{}{
			"value":  res.Valuation.Value,
			"method": res.Valuation.Method,
		},
	})
	s.writeData(w, out)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeData(w, s.validator.Validate(r.Context(), req.Value, req.Identity))
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	series := r.URL.Query().Get("series")
	rate, err := s.engine.FetchMortgageRate(r.Context(), series)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if rate == nil {
		s.writeError(w, http.StatusNotFound, "no observation available for series")
		return
	}
	s.writeData(w, rate)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, s.engine.QuotaReport(r.Context()))
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	n, err := s.engine.ClearCache(r.Context(), prefix)
	if errors.Is(err, cache.ErrForeignPrefix) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("clear cache", zap.String("prefix", prefix), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.Broadcast(Event{Type: EventCacheCleared, Data: ClearCacheResponse{Prefix: prefix, Removed: n}})
	s.writeData(w, ClearCacheResponse{Prefix: prefix, Removed: n})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeFailure maps domain errors onto status codes.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, acquire.ErrInvalidIdentity):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, valuation.ErrNoSources):
		s.writeError(w, http.StatusUnprocessableEntity,
			"no valuation sources available; supply purchase_price for a heuristic estimate")
	case errors.Is(err, acquire.ErrNoProvider):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

// Package analysis defines the technical-analysis provider contract
// (an external collaborator per spec scope) and a resty/simplejson
// backed HTTP client for it.
package analysis

import (
	"context"
	"fmt"

	"dcabot/internal/domain"
	"dcabot/pkg/apperrors"

	"github.com/bitly/go-simplejson"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// Indicators is the scalar record the TA provider returns for a symbol.
type Indicators struct {
	TrendScore     float64
	TechnicalScore float64
	Recommendation domain.Recommendation
	Support        domain.MarketSnapshot // reused only for Support/HasSupport/Resistance/HasResistance fields
}

// Provider is the capability the refresher needs from the TA provider.
type Provider interface {
	GetIndicators(ctx context.Context, symbol string) (Indicators, error)
}

// Client is an HTTP Provider wrapping the TA service's REST API. Response
// fields beyond the required ones are optional and parsed loosely via
// simplejson rather than a strict struct, since providers commonly add
// fields without notice.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewClient builds a Client against baseURL, with a circuit breaker
// distinct from the executor's failsafe-go breaker so a flaky TA
// provider cannot be conflated with exchange health.
func NewClient(baseURL string) *Client {
	cbSettings := gobreaker.Settings{
		Name:        "ta_provider",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		http:    resty.New().SetBaseURL(baseURL),
		breaker: gobreaker.NewCircuitBreaker[[]byte](cbSettings),
	}
}

func (c *Client) GetIndicators(ctx context.Context, symbol string) (Indicators, error) {
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol).
			Get("/indicators")
		if err != nil {
			return nil, apperrors.NewExchangeError(apperrors.KindTransient, "ta provider request failed", err)
		}
		if resp.IsError() {
			return nil, apperrors.NewExchangeError(apperrors.KindTransient, fmt.Sprintf("ta provider status %d", resp.StatusCode()), nil)
		}
		return resp.Body(), nil
	})
	if err != nil {
		return Indicators{}, err
	}

	js, err := simplejson.NewJson(raw)
	if err != nil {
		return Indicators{}, fmt.Errorf("parse ta provider response: %w", err)
	}

	ind := Indicators{
		TrendScore:     js.Get("trendScore").MustFloat64(0),
		TechnicalScore: js.Get("technicalScore").MustFloat64(0),
		Recommendation: domain.Recommendation(js.Get("recommendation").MustString(string(domain.RecommendationNeutral))),
	}
	if support, ok := js.CheckGet("support"); ok {
		ind.Support.Support = decimal.NewFromFloat(support.MustFloat64(0))
		ind.Support.HasSupport = true
	}
	if resistance, ok := js.CheckGet("resistance"); ok {
		ind.Support.Resistance = decimal.NewFromFloat(resistance.MustFloat64(0))
		ind.Support.HasResistance = true
	}
	return ind, nil
}

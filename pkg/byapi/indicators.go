package byapi

import (
	"context"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/chengjon/byapi-unified-client/internal/httputil"
)

// IndicatorQuery selects an indicator series. Zero values mean daily bars,
// unadjusted prices, no date bounds and no limit.
type IndicatorQuery struct {
	Frequency string // d, w, m, or minutes: 5, 15, 30, 60
	Adjust    string // n (none), f (forward), b (backward)
	Start     string
	End       string
	Limit     int
}

// IndicatorService reads precomputed technical indicators.
type IndicatorService struct {
	client *Client
}

func (s *IndicatorService) MACD(ctx context.Context, code string, q IndicatorQuery) ([]TechnicalIndicator, error) {
	return s.series(ctx, IndicatorMACD, code, q)
}

func (s *IndicatorService) MA(ctx context.Context, code string, q IndicatorQuery) ([]TechnicalIndicator, error) {
	return s.series(ctx, IndicatorMA, code, q)
}

func (s *IndicatorService) BOLL(ctx context.Context, code string, q IndicatorQuery) ([]TechnicalIndicator, error) {
	return s.series(ctx, IndicatorBOLL, code, q)
}

func (s *IndicatorService) KDJ(ctx context.Context, code string, q IndicatorQuery) ([]TechnicalIndicator, error) {
	return s.series(ctx, IndicatorKDJ, code, q)
}

func (s *IndicatorService) series(ctx context.Context, kind IndicatorKind, code string, q IndicatorQuery) ([]TechnicalIndicator, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return nil, err
	}
	params, err := dateParams(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 {
		params["lt"] = strconv.Itoa(q.Limit)
	}

	freq, adjust := q.Frequency, q.Adjust
	if freq == "" {
		freq = "d"
	}
	if adjust == "" {
		adjust = "n"
	}

	endpoint := httputil.JoinURL("hsstock/history", string(kind), c.Symbol(), freq, adjust)
	payload, err := s.client.fetch(ctx, endpoint, params, true, false)
	if err != nil {
		return nil, err
	}
	return mapAll(records(payload), func(r gjson.Result) (TechnicalIndicator, error) {
		return mapIndicator(c, kind, r)
	})
}

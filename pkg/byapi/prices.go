package byapi

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
	"github.com/chengjon/byapi-unified-client/internal/httputil"
	"github.com/chengjon/byapi-unified-client/internal/worker"
)

// PriceService reads quotes and daily bars.
type PriceService struct {
	client *Client
}

// Latest returns the most recent daily bar of code.
func (s *PriceService) Latest(ctx context.Context, code string) (Quote, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return Quote{}, err
	}

	endpoint := httputil.JoinURL("hsstock/latest", c.Symbol(), "d", "n")
	payload, err := s.client.fetch(ctx, endpoint, map[string]string{"lt": "1"}, true, false)
	if err != nil {
		return Quote{}, err
	}

	recs := records(payload)
	if len(recs) == 0 {
		return Quote{}, apierror.NotFound("no quote for %s", c.Digits)
	}
	return mapBar(c, recs[len(recs)-1])
}

// Historical returns daily bars of code between start and end inclusive,
// oldest first. Dates are YYYY-MM-DD or YYYYMMDD; empty means unbounded.
// An empty range is not an error.
func (s *PriceService) Historical(ctx context.Context, code, start, end string) ([]Quote, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return nil, err
	}
	params, err := dateParams(start, end)
	if err != nil {
		return nil, err
	}

	endpoint := httputil.JoinURL("hsstock/history", c.Symbol(), "d", "n")
	payload, err := s.client.fetch(ctx, endpoint, params, true, false)
	if err != nil {
		return nil, err
	}
	return mapAll(records(payload), func(r gjson.Result) (Quote, error) { return mapBar(c, r) })
}

// RealTime returns the intraday snapshot of code.
func (s *PriceService) RealTime(ctx context.Context, code string) (Quote, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return Quote{}, err
	}

	payload, err := s.client.fetch(ctx, httputil.JoinURL("hsrl/ssjy", c.Digits), nil, false, false)
	if err != nil {
		return Quote{}, err
	}

	recs := records(payload)
	if len(recs) == 0 {
		return Quote{}, apierror.NotFound("no real-time quote for %s", c.Digits)
	}
	return mapRealTime(c, recs[0])
}

// BatchQuote is the outcome for one code of LatestBatch.
type BatchQuote struct {
	Code  string `json:"code"`
	Quote Quote  `json:"quote"`
	Err   error  `json:"-"`
}

const defaultBatchConcurrency = 4

// LatestBatch fetches the latest bar of every code using at most concurrency
// requests in flight. Results are in input order; a failed code carries its
// error and does not affect the others.
func (s *PriceService) LatestBatch(ctx context.Context, codes []string, concurrency int) []BatchQuote {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	out := make([]BatchQuote, len(codes))
	jobs := make([]worker.Job, len(codes))
	for i, code := range codes {
		out[i].Code = code
		jobs[i] = &latestJob{svc: s, result: &out[i]}
	}

	worker.Run(ctx, concurrency, jobs, s.client.logger)
	return out
}

type latestJob struct {
	svc    *PriceService
	result *BatchQuote
}

func (j *latestJob) Name() string { return "latest quote " + j.result.Code }

func (j *latestJob) Execute(ctx context.Context) error {
	j.result.Quote, j.result.Err = j.svc.Latest(ctx, j.result.Code)
	return j.result.Err
}

// dateParams builds the st/et query parameters.
func dateParams(start, end string) (map[string]string, error) {
	st, err := normalizeDate(start)
	if err != nil {
		return nil, err
	}
	et, err := normalizeDate(end)
	if err != nil {
		return nil, err
	}
	return map[string]string{"st": st, "et": et}, nil
}

func mapAll[T any](recs []gjson.Result, fn func(gjson.Result) (T, error)) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := fn(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

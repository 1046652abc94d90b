package byapi

import (
	"context"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/chengjon/byapi-unified-client/internal/httputil"
	"github.com/chengjon/byapi-unified-client/internal/stockcode"
)

// FinancialService reads balance sheets, income and cash flow statements.
type FinancialService struct {
	client *Client
}

// Statement returns one statement kind of code between start and end.
func (s *FinancialService) Statement(ctx context.Context, code string, kind StatementKind, start, end string) ([]FinancialStatement, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return nil, err
	}
	params, err := dateParams(start, end)
	if err != nil {
		return nil, err
	}
	return s.statement(ctx, c, kind, params)
}

// Statements fetches all three statements concurrently.
//
// When a date range is given and none of the statements has data in it, the
// request is repeated once without dates and the result is flagged with
// DateAutoAdjusted, so callers get the nearest available reports instead of
// nothing.
func (s *FinancialService) Statements(ctx context.Context, code, start, end string) (*FinancialData, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return nil, err
	}
	params, err := dateParams(start, end)
	if err != nil {
		return nil, err
	}

	data, err := s.all(ctx, c, params)
	if err != nil {
		return nil, err
	}

	if data.IsEmpty() && (params["st"] != "" || params["et"] != "") {
		s.client.logger.Info("No financial data in requested range, using latest reports",
			"code", c.Digits,
			"start", params["st"],
			"end", params["et"],
		)
		data, err = s.all(ctx, c, map[string]string{})
		if err != nil {
			return nil, err
		}
		data.DateAutoAdjusted = true
		data.RequestedRange = params["st"] + "-" + params["et"]
	}

	return data, nil
}

func (s *FinancialService) all(ctx context.Context, c stockcode.Code, params map[string]string) (*FinancialData, error) {
	data := &FinancialData{Code: c.Digits}

	// Each goroutine writes its own field.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data.Balance, err = s.statement(gctx, c, StatementBalance, params)
		return err
	})
	g.Go(func() (err error) {
		data.Income, err = s.statement(gctx, c, StatementIncome, params)
		return err
	})
	g.Go(func() (err error) {
		data.CashFlow, err = s.statement(gctx, c, StatementCashFlow, params)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FinancialService) statement(ctx context.Context, c stockcode.Code, kind StatementKind, params map[string]string) ([]FinancialStatement, error) {
	endpoint := httputil.JoinURL("hsstock/financial", string(kind), c.Symbol())
	payload, err := s.client.fetch(ctx, endpoint, params, true, false)
	if err != nil {
		return nil, err
	}
	return mapAll(records(payload), func(r gjson.Result) (FinancialStatement, error) {
		return mapStatement(kind, r)
	})
}

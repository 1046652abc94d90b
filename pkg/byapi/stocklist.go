package byapi

import (
	"context"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
)

const endpointStockList = "hslt/list"

// StockListService reads the listed-stock directory.
type StockListService struct {
	client *Client
}

// List returns every listed A-share stock. The result is cached.
func (s *StockListService) List(ctx context.Context) ([]StockInfo, error) {
	payload, err := s.client.fetch(ctx, endpointStockList, nil, false, true)
	if err != nil {
		return nil, err
	}

	recs := records(payload)
	out := make([]StockInfo, 0, len(recs))
	for _, r := range recs {
		info, err := mapStockInfo(r)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Find looks code up in the directory.
func (s *StockListService) Find(ctx context.Context, code string) (StockInfo, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return StockInfo{}, err
	}

	all, err := s.List(ctx)
	if err != nil {
		return StockInfo{}, err
	}
	for _, info := range all {
		if info.Code == c.Digits {
			return info, nil
		}
	}
	return StockInfo{}, apierror.NotFound("stock %s is not listed", c.Digits)
}

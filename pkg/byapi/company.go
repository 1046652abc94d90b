package byapi

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
	"github.com/chengjon/byapi-unified-client/internal/httputil"
)

// CompanyService reads company reference data.
type CompanyService struct {
	client *Client
}

// Profile returns the company introduction of code. The result is cached.
func (s *CompanyService) Profile(ctx context.Context, code string) (CompanyProfile, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return CompanyProfile{}, err
	}

	payload, err := s.client.fetch(ctx, httputil.JoinURL("hscp/gsjj", c.Digits), nil, false, true)
	if err != nil {
		return CompanyProfile{}, err
	}

	recs := records(payload)
	if len(recs) == 0 {
		return CompanyProfile{}, apierror.NotFound("no company profile for %s", c.Digits)
	}
	return mapCompanyProfile(c, recs[0])
}

// AnnouncementService reads company announcements.
type AnnouncementService struct {
	client *Client
}

// Latest returns up to limit recent announcements of code in provider order
// (newest first). limit <= 0 returns all of them.
func (s *AnnouncementService) Latest(ctx context.Context, code string, limit int) ([]Announcement, error) {
	c, err := s.client.validate(code)
	if err != nil {
		return nil, err
	}

	payload, err := s.client.fetch(ctx, httputil.JoinURL("hscp/ljgg", c.Digits), nil, false, false)
	if err != nil {
		return nil, err
	}

	recs := records(payload)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return mapAll(recs, func(r gjson.Result) (Announcement, error) {
		return mapAnnouncement(c, r)
	})
}

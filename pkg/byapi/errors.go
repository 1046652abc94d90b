package byapi

import (
	"errors"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
	"github.com/chengjon/byapi-unified-client/internal/ratelimit"
	"github.com/chengjon/byapi-unified-client/internal/stockcode"
)

// Error is the concrete type of every error returned by API calls.
// Use errors.Is with the sentinels below, or errors.As to read the status code.
type Error = apierror.Error

// ErrorKind classifies an Error.
type ErrorKind = apierror.Kind

const (
	KindAuthentication = apierror.KindAuthentication
	KindData           = apierror.KindData
	KindNotFound       = apierror.KindNotFound
	KindRateLimit      = apierror.KindRateLimit
	KindNetwork        = apierror.KindNetwork
	KindConfiguration  = apierror.KindConfiguration
)

var (
	ErrAuthentication = apierror.ErrAuthentication
	ErrData           = apierror.ErrData
	ErrNotFound       = apierror.ErrNotFound
	ErrRateLimit      = apierror.ErrRateLimit
	ErrNetwork        = apierror.ErrNetwork
	ErrConfiguration  = apierror.ErrConfiguration

	// ErrDailyQuotaExceeded is wrapped by the RateLimit error returned when
	// every key has used up its configured daily quota.
	ErrDailyQuotaExceeded = ratelimit.ErrDailyQuotaExceeded

	// ErrInvalidStockCode is returned before any request is made when a code
	// is not six digits.
	ErrInvalidStockCode = stockcode.ErrInvalidCode

	// ErrInvalidDate is returned for dates that are neither YYYY-MM-DD nor YYYYMMDD.
	ErrInvalidDate = errors.New("invalid date")
)

// KindOf returns the kind of err, or "" if err is not an API error.
func KindOf(err error) ErrorKind {
	return apierror.KindOf(err)
}

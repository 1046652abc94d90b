package byapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chengjon/byapi-unified-client/internal/utils"
)

// The provider uses short pinyin field names and changes them between
// endpoint families, so every field is looked up through a list of aliases.

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
	"20060102",
	"2006/01/02",
}

// records splits a payload into its elements. A JSON object is one record,
// null or an empty body is none.
func records(payload json.RawMessage) []gjson.Result {
	root := gjson.ParseBytes(payload)
	switch {
	case root.IsArray():
		return root.Array()
	case root.IsObject():
		if len(root.Map()) == 0 {
			return nil
		}
		return []gjson.Result{root}
	default:
		return nil
	}
}

// field returns the first alias present and non-null in r.
func field(r gjson.Result, aliases ...string) (gjson.Result, bool) {
	for _, a := range aliases {
		v := r.Get(a)
		if v.Exists() && v.Type != gjson.Null {
			if v.Type == gjson.String && strings.TrimSpace(v.Str) == "" {
				continue
			}
			return v, true
		}
	}
	return gjson.Result{}, false
}

func stringField(r gjson.Result, aliases ...string) string {
	v, ok := field(r, aliases...)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func optString(r gjson.Result, aliases ...string) *string {
	s := stringField(r, aliases...)
	if s == "" {
		return nil
	}
	return &s
}

// optFloat reads a number that may be encoded as a JSON string.
func optFloat(r gjson.Result, aliases ...string) (*float64, error) {
	v, ok := field(r, aliases...)
	if !ok {
		return nil, nil
	}

	switch v.Type {
	case gjson.Number:
		f := v.Num
		return &f, nil
	case gjson.String:
		s := strings.ReplaceAll(strings.TrimSpace(v.Str), ",", "")
		if s == "-" || s == "--" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %q is not a number", aliases[0], v.Str)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("field %s: unexpected %s value", aliases[0], v.Type)
	}
}

// floatField is optFloat with zero for a missing value.
func floatField(r gjson.Result, aliases ...string) (float64, error) {
	f, err := optFloat(r, aliases...)
	if err != nil || f == nil {
		return 0, err
	}
	return *f, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, utils.MarketLocation()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func timeField(r gjson.Result, aliases ...string) (time.Time, error) {
	s := stringField(r, aliases...)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", aliases[0], err)
	}
	return t, nil
}

func optTime(r gjson.Result, aliases ...string) (*time.Time, error) {
	t, err := timeField(r, aliases...)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

// normalizeDate accepts YYYY-MM-DD or YYYYMMDD and returns YYYYMMDD, the
// form the provider expects in st/et. Empty input stays empty.
func normalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("20060102"), nil
		}
	}
	return "", fmt.Errorf("%w: %q (expected YYYY-MM-DD or YYYYMMDD)", ErrInvalidDate, s)
}

// fieldMapper accumulates the first mapping error so a record can be read
// field by field without an error check per line.
type fieldMapper struct {
	r   gjson.Result
	err error
}

func (m *fieldMapper) float(aliases ...string) float64 {
	f, err := floatField(m.r, aliases...)
	if err != nil && m.err == nil {
		m.err = err
	}
	return f
}

func (m *fieldMapper) optFloat(aliases ...string) *float64 {
	f, err := optFloat(m.r, aliases...)
	if err != nil && m.err == nil {
		m.err = err
	}
	return f
}

func (m *fieldMapper) time(aliases ...string) time.Time {
	t, err := timeField(m.r, aliases...)
	if err != nil && m.err == nil {
		m.err = err
	}
	return t
}

func (m *fieldMapper) optTime(aliases ...string) *time.Time {
	t, err := optTime(m.r, aliases...)
	if err != nil && m.err == nil {
		m.err = err
	}
	return t
}

func (m *fieldMapper) str(aliases ...string) string     { return stringField(m.r, aliases...) }
func (m *fieldMapper) optStr(aliases ...string) *string { return optString(m.r, aliases...) }

type missingFieldError string

func (e missingFieldError) Error() string { return "missing field " + string(e) }

func errMissing(name string) error { return missingFieldError(name) }

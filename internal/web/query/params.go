// Package query parses list, get and count requests from URL query
// parameters: fields, filter, q, sort, limit and skip.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/conduit-lang/datasource/internal/orm/filter"
	ormquery "github.com/conduit-lang/datasource/internal/orm/query"
)

// ErrInvalidParam is returned for a malformed query parameter
var ErrInvalidParam = errors.New("invalid query parameter")

// ParseFields parses the fields parameter, either a comma separated list
// (?fields=total,customer) or a JSON array of names and
// {"name", "fields", "required"} objects. It returns nil when absent.
func ParseFields(r *http.Request) ([]ormquery.FieldSpec, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("fields"))
	if raw == "" {
		return nil, nil
	}

	var value interface{} = raw
	if strings.HasPrefix(raw, "[") {
		var list []interface{}
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("%w: fields: %v", ErrInvalidParam, err)
		}
		value = list
	}

	fields, err := ormquery.ParseFields(value)
	if err != nil {
		return nil, fmt.Errorf("%w: fields: %v", ErrInvalidParam, err)
	}
	return fields, nil
}

// ParseFilter parses the filter parameter, a JSON object.
// Example: ?filter={"status":"open","customer":{"name":"Acme"}}
func ParseFilter(r *http.Request) (filter.Filter, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("filter"))
	if raw == "" {
		return nil, nil
	}

	var object map[string]interface{}
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&object); err != nil {
		return nil, fmt.Errorf("%w: filter: %v", ErrInvalidParam, err)
	}

	f, err := filter.Parse(NormalizeNumbers(object).(map[string]interface{}))
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", ErrInvalidParam, err)
	}
	return f, nil
}

// NormalizeNumbers turns json.Number into int64 when integral, else float64
func NormalizeNumbers(value interface{}) interface{} {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]interface{}:
		for key, item := range v {
			v[key] = NormalizeNumbers(item)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = NormalizeNumbers(item)
		}
		return v
	default:
		return value
	}
}

// ParseSort parses the sort parameter into ordered sort keys.
// Example: ?sort=-created_at,title sorts by created_at descending then title.
func ParseSort(r *http.Request) []ormquery.SortKey {
	sort := r.URL.Query().Get("sort")
	if sort == "" {
		return nil
	}

	parts := strings.Split(sort, ",")
	result := make([]ormquery.SortKey, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "-") {
			result = append(result, ormquery.SortKey{Field: strings.TrimPrefix(trimmed, "-"), Weight: -1})
		} else {
			result = append(result, ormquery.SortKey{Field: strings.TrimPrefix(trimmed, "+"), Weight: 1})
		}
	}
	return result
}

// ParseInt parses a non-negative integer parameter, returning 0 when absent
func ParseInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidParam, name)
	}
	return value, nil
}

// ParseList parses a list request. qFields names the fields searched by q.
func ParseList(r *http.Request, qFields []string) (ormquery.ListOptions, error) {
	var opts ormquery.ListOptions
	var err error

	if opts.Fields, err = ParseFields(r); err != nil {
		return opts, err
	}
	if opts.Where, err = ParseFilter(r); err != nil {
		return opts, err
	}
	if opts.Limit, err = ParseInt(r, "limit"); err != nil {
		return opts, err
	}
	if opts.Skip, err = ParseInt(r, "skip"); err != nil {
		return opts, err
	}
	opts.Sort = ParseSort(r)
	opts.Q = r.URL.Query().Get("q")
	opts.QFields = qFields
	return opts, nil
}

// ParseGet parses a single record request
func ParseGet(r *http.Request) (ormquery.GetOptions, error) {
	var opts ormquery.GetOptions
	var err error

	if opts.Fields, err = ParseFields(r); err != nil {
		return opts, err
	}
	if opts.Where, err = ParseFilter(r); err != nil {
		return opts, err
	}
	return opts, nil
}

// ParseCount parses a count request
func ParseCount(r *http.Request, qFields []string) (ormquery.CountOptions, error) {
	where, err := ParseFilter(r)
	if err != nil {
		return ormquery.CountOptions{}, err
	}
	return ormquery.CountOptions{
		Where:   where,
		Q:       r.URL.Query().Get("q"),
		QFields: qFields,
	}, nil
}

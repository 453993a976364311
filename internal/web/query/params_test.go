package query

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/datasource/internal/orm/filter"
	ormquery "github.com/conduit-lang/datasource/internal/orm/query"
)

func request(params url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/orders?"+params.Encode(), nil)
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []ormquery.FieldSpec
	}{
		{"absent", "", nil},
		{"comma list", "total, customer", ormquery.BareFields("total", "customer")},
		{
			"json",
			`["total", {"name": "customer", "fields": ["name"], "required": true}]`,
			[]ormquery.FieldSpec{
				ormquery.Bare("total"),
				ormquery.Detailed{Name: "customer", Fields: ormquery.BareFields("name"), Required: boolPtr(true)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := url.Values{}
			if tt.raw != "" {
				params.Set("fields", tt.raw)
			}
			fields, err := ParseFields(request(params))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fields)
		})
	}

	_, err := ParseFields(request(url.Values{"fields": {"[1,"}}))
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(request(url.Values{"filter": {`{"status":"open","total":{"$gt":10},"rate":{"$lt":1.5}}`}}))
	require.NoError(t, err)
	assert.Equal(t, filter.Filter{
		filter.Comparison{Field: "rate", Operator: filter.OpLessThan, Value: 1.5},
		filter.Eq("status", "open"),
		filter.Comparison{Field: "total", Operator: filter.OpGreaterThan, Value: int64(10)},
	}, f)

	f, err = ParseFilter(request(url.Values{}))
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = ParseFilter(request(url.Values{"filter": {`[1]`}}))
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = ParseFilter(request(url.Values{"filter": {`{"total":{"$nope":1}}`}}))
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestParseSort(t *testing.T) {
	sort := ParseSort(request(url.Values{"sort": {"-created_at, title,+customer.name"}}))
	assert.Equal(t, []ormquery.SortKey{
		{Field: "created_at", Weight: -1},
		{Field: "title", Weight: 1},
		{Field: "customer.name", Weight: 1},
	}, sort)

	assert.Nil(t, ParseSort(request(url.Values{})))
}

func TestParseList(t *testing.T) {
	opts, err := ParseList(request(url.Values{
		"fields": {"total"},
		"q":      {"acme"},
		"sort":   {"-total"},
		"limit":  {"10"},
		"skip":   {"20"},
	}), []string{"status"})
	require.NoError(t, err)

	assert.Equal(t, ormquery.BareFields("total"), opts.Fields)
	assert.Equal(t, "acme", opts.Q)
	assert.Equal(t, []string{"status"}, opts.QFields)
	assert.Equal(t, 10, opts.Limit)
	assert.Equal(t, 20, opts.Skip)
	assert.Equal(t, []ormquery.SortKey{{Field: "total", Weight: -1}}, opts.Sort)

	_, err = ParseList(request(url.Values{"limit": {"ten"}}), nil)
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, err = ParseList(request(url.Values{"skip": {"-1"}}), nil)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestParseCount(t *testing.T) {
	opts, err := ParseCount(request(url.Values{"filter": {`{"status":"open"}`}, "q": {"x"}}), []string{"status"})
	require.NoError(t, err)
	assert.Equal(t, filter.Filter{filter.Eq("status", "open")}, opts.Where)
	assert.Equal(t, "x", opts.Q)
}

func boolPtr(b bool) *bool {
	return &b
}

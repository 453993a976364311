package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/datasource/internal/orm/crud"
	"github.com/conduit-lang/datasource/internal/orm/filter"
	"github.com/conduit-lang/datasource/internal/orm/query"
	"github.com/conduit-lang/datasource/internal/orm/schema"
	"github.com/conduit-lang/datasource/internal/web/router"
)

type fakeExecutor struct {
	rows    []map[string]interface{}
	total   int
	stored  map[string]interface{}
	persist func(record map[string]interface{}, isNew bool) (map[string]interface{}, error)

	plans   []*query.Plan
	deleted []map[string]interface{}
}

func (f *fakeExecutor) ExecutePlan(_ context.Context, plan *query.Plan) ([]map[string]interface{}, error) {
	f.plans = append(f.plans, plan)
	return f.rows, nil
}

func (f *fakeExecutor) ExecutePlanWithCount(_ context.Context, plan *query.Plan) ([]map[string]interface{}, int, error) {
	f.plans = append(f.plans, plan)
	return f.rows, f.total, nil
}

func (f *fakeExecutor) ExecuteGet(_ context.Context, plan *query.Plan) (map[string]interface{}, error) {
	f.plans = append(f.plans, plan)
	if f.stored == nil {
		return nil, nil
	}
	record := map[string]interface{}{}
	for k, v := range f.stored {
		record[k] = v
	}
	return record, nil
}

func (f *fakeExecutor) Persist(_ context.Context, _ *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
	if f.persist != nil {
		return f.persist(record, isNew)
	}
	return record, nil
}

func (f *fakeExecutor) Delete(_ context.Context, _ *schema.Entity, record map[string]interface{}) error {
	f.deleted = append(f.deleted, record)
	return nil
}

func newServer(t *testing.T, executor *fakeExecutor) http.Handler {
	t.Helper()

	registry, err := schema.Load([]schema.Definition{{
		Name: "Order",
		Fields: []schema.FieldDefinition{
			{Name: "id", Type: "int", Annotations: []string{"primary"}},
			{Name: "status", Type: "string"},
			{Name: "note", Type: "text", Nullable: true},
		},
	}})
	require.NoError(t, err)
	order, ok := registry.Entity("Order")
	require.True(t, ok)

	repo := crud.NewRepository(order, executor, crud.Options{})
	r := router.NewRouter()
	require.NoError(t, New(repo, Options{QFields: []string{"status", "note"}}).Register(r, ""))
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func TestList(t *testing.T) {
	executor := &fakeExecutor{
		rows:  []map[string]interface{}{{"id": int64(1), "status": "open"}},
		total: 4,
	}
	h := newServer(t, executor)

	target := "/orders?fields=status&limit=5&skip=5&sort=-status&total=true&q=op&filter=" +
		url.QueryEscape(`{"status":{"$ne":"closed"}}`)
	rec, body := do(t, h, http.MethodGet, target, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["total"])
	assert.Equal(t, []interface{}{map[string]interface{}{"id": float64(1), "status": "open"}}, body["data"])

	require.Len(t, executor.plans, 2)
	list := executor.plans[0]
	require.NotNil(t, list.Limit)
	assert.Equal(t, 5, *list.Limit)
	assert.Equal(t, []query.OrderTerm{{Field: "status", Direction: query.Desc}}, list.Order)
	assert.Equal(t, []string{"status", "id"}, list.Attributes)
}

func TestListWithoutTotal(t *testing.T) {
	executor := &fakeExecutor{rows: []map[string]interface{}{}}
	h := newServer(t, executor)

	rec, body := do(t, h, http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "total")
	assert.Equal(t, []interface{}{}, body["data"])
	assert.Len(t, executor.plans, 1)
}

func TestListRejectsBadParams(t *testing.T) {
	h := newServer(t, &fakeExecutor{})

	rec, body := do(t, h, http.MethodGet, "/orders?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "limit")

	rec, _ = do(t, h, http.MethodGet, "/orders?filter=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCount(t *testing.T) {
	executor := &fakeExecutor{total: 9}
	h := newServer(t, executor)

	rec, body := do(t, h, http.MethodGet, "/orders/count?q=op", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"count": float64(9)}, body)

	require.Len(t, executor.plans, 1)
	assert.True(t, executor.plans[0].Distinct)
}

func TestShow(t *testing.T) {
	executor := &fakeExecutor{stored: map[string]interface{}{"id": int64(7), "status": "open"}}
	h := newServer(t, executor)

	rec, body := do(t, h, http.MethodGet, "/orders/7", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open", body["status"])

	require.Len(t, executor.plans, 1)
	assert.Contains(t, executor.plans[0].Where, filter.Eq("id", int64(7)))
}

func TestShowNotFound(t *testing.T) {
	h := newServer(t, &fakeExecutor{})

	rec, body := do(t, h, http.MethodGet, "/orders/7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["code"])
}

func TestShowInvalidID(t *testing.T) {
	executor := &fakeExecutor{}
	h := newServer(t, executor)

	rec, body := do(t, h, http.MethodGet, "/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["details"], "id")
	assert.Empty(t, executor.plans)
}

func TestCreate(t *testing.T) {
	var persisted map[string]interface{}
	executor := &fakeExecutor{
		stored: map[string]interface{}{"id": int64(3), "status": "open"},
		persist: func(record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
			assert.True(t, isNew)
			persisted = record
			return map[string]interface{}{"id": int64(3), "status": record["status"]}, nil
		},
	}
	h := newServer(t, executor)

	rec, body := do(t, h, http.MethodPost, "/orders", `{"status":"open","qty":2}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(3), body["id"])
	assert.Equal(t, int64(2), persisted["qty"])
}

func TestCreateRejectsInvalidBody(t *testing.T) {
	h := newServer(t, &fakeExecutor{})

	rec, _ := do(t, h, http.MethodPost, "/orders", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/orders", `null`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateUniqueViolation(t *testing.T) {
	executor := &fakeExecutor{
		persist: func(map[string]interface{}, bool) (map[string]interface{}, error) {
			return nil, &pgconn.PgError{Code: "23505", Detail: "Key (status)=(open) already exists."}
		},
	}
	h := newServer(t, executor)

	rec, body := do(t, h, http.MethodPost, "/orders", `{"status":"open"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, details, "status")
}

func TestUpdate(t *testing.T) {
	var persisted map[string]interface{}
	executor := &fakeExecutor{
		stored: map[string]interface{}{"id": int64(7), "status": "open", "note": "first"},
		persist: func(record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
			assert.False(t, isNew)
			persisted = record
			return record, nil
		},
	}
	h := newServer(t, executor)

	rec, _ := do(t, h, http.MethodPut, "/orders/7", `{"status":"closed","id":99}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"id": int64(7), "status": "closed", "note": "first"}, persisted)
}

func TestUpdateMissingRecord(t *testing.T) {
	h := newServer(t, &fakeExecutor{})

	rec, _ := do(t, h, http.MethodPut, "/orders/7", `{"status":"closed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	executor := &fakeExecutor{stored: map[string]interface{}{"id": int64(7), "status": "open"}}
	h := newServer(t, executor)

	rec, body := do(t, h, http.MethodDelete, "/orders/7", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open", body["status"])
	require.Len(t, executor.deleted, 1)
	assert.Equal(t, int64(7), executor.deleted[0]["id"])
}

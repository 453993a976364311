package crud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/datasource/internal/orm/filter"
	"github.com/conduit-lang/datasource/internal/orm/query"
	"github.com/conduit-lang/datasource/internal/orm/schema"
	"github.com/conduit-lang/datasource/internal/web/cache"
)

// MockExecutor is a mock implementation of the Executor interface
type MockExecutor struct {
	ExecutePlanFunc          func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, error)
	ExecutePlanWithCountFunc func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, int, error)
	ExecuteGetFunc           func(ctx context.Context, plan *query.Plan) (map[string]interface{}, error)
	PersistFunc              func(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error)
	DeleteFunc               func(ctx context.Context, entity *schema.Entity, record map[string]interface{}) error

	plans []*query.Plan
}

func (m *MockExecutor) ExecutePlan(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, error) {
	m.plans = append(m.plans, plan)
	if m.ExecutePlanFunc != nil {
		return m.ExecutePlanFunc(ctx, plan)
	}
	return []map[string]interface{}{}, nil
}

func (m *MockExecutor) ExecutePlanWithCount(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, int, error) {
	m.plans = append(m.plans, plan)
	if m.ExecutePlanWithCountFunc != nil {
		return m.ExecutePlanWithCountFunc(ctx, plan)
	}
	return []map[string]interface{}{}, 0, nil
}

func (m *MockExecutor) ExecuteGet(ctx context.Context, plan *query.Plan) (map[string]interface{}, error) {
	m.plans = append(m.plans, plan)
	if m.ExecuteGetFunc != nil {
		return m.ExecuteGetFunc(ctx, plan)
	}
	return nil, nil
}

func (m *MockExecutor) Persist(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
	if m.PersistFunc != nil {
		return m.PersistFunc(ctx, entity, record, isNew)
	}
	return record, nil
}

func (m *MockExecutor) Delete(ctx context.Context, entity *schema.Entity, record map[string]interface{}) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, entity, record)
	}
	return nil
}

func newOrderEntity(t *testing.T) *schema.Entity {
	t.Helper()

	registry, err := schema.Load([]schema.Definition{
		{
			Name: "Order",
			Fields: []schema.FieldDefinition{
				{Name: "id", Type: "uuid", Annotations: []string{"primary"}},
				{Name: "total", Type: "decimal"},
				{Name: "status", Type: "string"},
				{Name: "customer_id", Type: "uuid"},
			},
			Relationships: []schema.RelationshipDefinition{
				{Name: "customer", Type: "belongs_to", Target: "Customer"},
			},
		},
		{
			Name: "Customer",
			Fields: []schema.FieldDefinition{
				{Name: "id", Type: "uuid", Annotations: []string{"primary"}},
				{Name: "name", Type: "string"},
			},
		},
	})
	require.NoError(t, err)

	order, ok := registry.Entity("Order")
	require.True(t, ok)
	return order
}

var orderFieldMap = query.FieldMap{
	"customer": {Fields: query.BareFields("id", "name")},
}

func TestRepositoryFind(t *testing.T) {
	executor := &MockExecutor{
		ExecutePlanFunc: func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, error) {
			return []map[string]interface{}{
				{"id": "o1", "total": []byte("12.5"), "customer": map[string]interface{}{"id": "c1", "name": []byte("Acme")}},
			}, nil
		},
	}
	repo := NewRepository(newOrderEntity(t), executor, Options{FieldMap: orderFieldMap})

	records, err := repo.Find(context.Background(), FindOptions{
		Fields: query.BareFields("total", "customer"),
		Where:  filter.MustParse(map[string]interface{}{"customer": map[string]interface{}{"name": "Acme"}}),
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, json.Number("12.5"), records[0]["total"])
	assert.Equal(t, "Acme", records[0]["customer"].(map[string]interface{})["name"])

	require.Len(t, executor.plans, 1)
	plan := executor.plans[0]
	assert.Equal(t, []string{"total", "id"}, plan.Attributes)
	require.Len(t, plan.Include, 1)
	assert.Equal(t, filter.Filter{filter.Eq("name", "Acme")}, plan.Include[0].Where)
	assert.True(t, plan.Where.IsEmpty())
	require.NotNil(t, plan.Limit)
	assert.Equal(t, 5, *plan.Limit)
}

func TestRepositoryFindConvertsErrors(t *testing.T) {
	executor := &MockExecutor{
		ExecutePlanFunc: func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, error) {
			return nil, &pgconn.PgError{Code: "23503", Detail: "Key (customer_id)=(c9) is not present"}
		},
	}
	repo := NewRepository(newOrderEntity(t), executor, Options{})

	_, err := repo.Find(context.Background(), FindOptions{})
	assert.True(t, IsForeignKeyViolation(err))
}

func TestRepositoryFindOne(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		executor := &MockExecutor{
			ExecuteGetFunc: func(ctx context.Context, plan *query.Plan) (map[string]interface{}, error) {
				return map[string]interface{}{"id": "o1", "status": "open"}, nil
			},
		}
		repo := NewRepository(newOrderEntity(t), executor, Options{})

		record, err := repo.FindOne(context.Background(), GetOptions{Where: filter.Filter{filter.Eq("id", "o1")}})
		require.NoError(t, err)
		assert.Equal(t, "open", record["status"])
		assert.Nil(t, executor.plans[0].Limit)
	})

	t.Run("absent", func(t *testing.T) {
		repo := NewRepository(newOrderEntity(t), &MockExecutor{}, Options{})

		_, err := repo.FindOne(context.Background(), GetOptions{Where: filter.Filter{filter.Eq("id", "missing")}})
		assert.True(t, IsNotFound(err))
	})
}

func TestRepositoryCreate(t *testing.T) {
	repo := NewRepository(newOrderEntity(t), &MockExecutor{}, Options{})
	data := map[string]interface{}{"status": "open"}

	inst := repo.Create(data)
	assert.True(t, inst.IsNew())

	inst.Set("status", "closed")
	assert.Equal(t, "open", data["status"], "create copies its input")

	value, ok := inst.Get("status")
	assert.True(t, ok)
	assert.Equal(t, "closed", value)
}

func TestRepositorySave(t *testing.T) {
	var persisted map[string]interface{}
	var persistedNew bool

	executor := &MockExecutor{
		PersistFunc: func(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
			persisted, persistedNew = record, isNew
			return map[string]interface{}{"id": "o1", "total": 10.0, "status": "open", "customer_id": "c1"}, nil
		},
		ExecuteGetFunc: func(ctx context.Context, plan *query.Plan) (map[string]interface{}, error) {
			return map[string]interface{}{
				"id": "o1", "total": 10.0, "status": "open", "customer_id": "c1",
				"customer": map[string]interface{}{"id": "c1", "name": "Acme"},
			}, nil
		},
	}
	repo := NewRepository(newOrderEntity(t), executor, Options{FieldMap: orderFieldMap})

	inst := repo.Create(map[string]interface{}{"total": 10, "status": "open", "customer_id": "c1"})
	record, err := repo.Save(context.Background(), inst)
	require.NoError(t, err)

	assert.True(t, persistedNew)
	assert.Equal(t, "open", persisted["status"])
	assert.False(t, inst.IsNew())
	assert.Equal(t, "o1", inst.Values["id"])

	assert.Equal(t, "Acme", record["customer"].(map[string]interface{})["name"])

	require.Len(t, executor.plans, 1)
	refetch := executor.plans[0]
	assert.Equal(t, filter.Filter{filter.Eq("id", "o1")}, refetch.Where)
	assert.Equal(t, []string{"id", "total", "status", "customer_id"}, refetch.Attributes)
	require.Len(t, refetch.Include, 1)
	assert.Equal(t, "customer", refetch.Include[0].Association.Name)

	// A second save updates
	_, err = repo.Save(context.Background(), inst)
	require.NoError(t, err)
	assert.False(t, persistedNew)
}

func TestRepositorySaveUsesIDField(t *testing.T) {
	executor := &MockExecutor{
		PersistFunc: func(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
			return map[string]interface{}{"id": "o1", "status": "open"}, nil
		},
		ExecuteGetFunc: func(ctx context.Context, plan *query.Plan) (map[string]interface{}, error) {
			return map[string]interface{}{"id": "o1", "status": "open"}, nil
		},
	}
	repo := NewRepository(newOrderEntity(t), executor, Options{IDField: "status"})

	_, err := repo.Save(context.Background(), repo.Create(map[string]interface{}{"status": "open"}))
	require.NoError(t, err)
	assert.Equal(t, filter.Filter{filter.Eq("status", "open")}, executor.plans[0].Where)
}

func TestRepositorySaveErrors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		persistCalled := false
		executor := &MockExecutor{
			PersistFunc: func(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
				persistCalled = true
				return record, nil
			},
		}
		validator := ValidatorFunc(func(ctx context.Context, entity *schema.Entity, record map[string]interface{}, op Operation) error {
			assert.Equal(t, OperationCreate, op)
			return &ValidationError{Errors: []FieldError{{Field: "status", Message: "is required"}}}
		})
		repo := NewRepository(newOrderEntity(t), executor, Options{Validator: validator})

		_, err := repo.Save(context.Background(), repo.Create(map[string]interface{}{}))
		assert.True(t, IsValidationFailed(err))
		assert.False(t, persistCalled)
	})

	t.Run("unique violation", func(t *testing.T) {
		executor := &MockExecutor{
			PersistFunc: func(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
				return nil, &pgconn.PgError{Code: "23505", Detail: "Key (status)=(open) already exists."}
			},
		}
		repo := NewRepository(newOrderEntity(t), executor, Options{})

		_, err := repo.Save(context.Background(), repo.Create(map[string]interface{}{"status": "open"}))
		assert.True(t, IsUniqueViolation(err))
		assert.Contains(t, err.Error(), "failed to create Order record")
	})

	t.Run("refetch misses", func(t *testing.T) {
		repo := NewRepository(newOrderEntity(t), &MockExecutor{
			PersistFunc: func(ctx context.Context, entity *schema.Entity, record map[string]interface{}, isNew bool) (map[string]interface{}, error) {
				return map[string]interface{}{"id": "o1"}, nil
			},
		}, Options{})

		_, err := repo.Save(context.Background(), repo.Create(map[string]interface{}{}))
		assert.True(t, IsNotFound(err))
	})
}

func TestRepositoryRemove(t *testing.T) {
	var deleted map[string]interface{}
	executor := &MockExecutor{
		DeleteFunc: func(ctx context.Context, entity *schema.Entity, record map[string]interface{}) error {
			deleted = record
			return nil
		},
	}
	repo := NewRepository(newOrderEntity(t), executor, Options{})

	inst := repo.Instance(map[string]interface{}{"id": "o1"})
	removed, err := repo.Remove(context.Background(), inst)
	require.NoError(t, err)
	assert.Same(t, inst, removed)
	assert.Equal(t, "o1", deleted["id"])

	executor.DeleteFunc = func(ctx context.Context, entity *schema.Entity, record map[string]interface{}) error {
		return sql.ErrNoRows
	}
	_, err = repo.Remove(context.Background(), inst)
	assert.True(t, IsNotFound(err))
}

func TestRepositoryCount(t *testing.T) {
	calls := 0
	executor := &MockExecutor{
		ExecutePlanWithCountFunc: func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, int, error) {
			calls++
			return nil, 3, nil
		},
	}
	repo := NewRepository(newOrderEntity(t), executor, Options{FieldMap: orderFieldMap})

	count, err := repo.Count(context.Background(), CountOptions{
		Where: filter.MustParse(map[string]interface{}{"customer": map[string]interface{}{"name": "Acme"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, calls)

	plan := executor.plans[0]
	assert.True(t, plan.Distinct)
	require.NotNil(t, plan.Limit)
	assert.Equal(t, 1, *plan.Limit)
	assert.Nil(t, plan.Attributes)
	require.Len(t, plan.Include, 1)
	assert.Equal(t, "customer", plan.Include[0].Association.Name)
}

func TestRepositoryCountCache(t *testing.T) {
	memory := cache.NewMemoryCache()
	defer memory.Close()

	calls := 0
	executor := &MockExecutor{
		ExecutePlanWithCountFunc: func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, int, error) {
			calls++
			return nil, 10 + calls, nil
		},
	}
	repo := NewRepository(newOrderEntity(t), executor, Options{Counts: cache.NewCounts(memory, time.Minute)})
	ctx := context.Background()
	opts := CountOptions{Where: filter.Filter{filter.Eq("status", "open")}}

	first, err := repo.Count(ctx, opts)
	require.NoError(t, err)
	second, err := repo.Count(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	other, err := repo.Count(ctx, CountOptions{Where: filter.Filter{filter.Eq("status", "closed")}})
	require.NoError(t, err)
	assert.Equal(t, 12, other)

	_, err = repo.Remove(ctx, repo.Instance(map[string]interface{}{"id": "o1"}))
	require.NoError(t, err)

	third, err := repo.Count(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 13, third)
}

func TestRepositoryCountCacheFollowsJoinedWrites(t *testing.T) {
	memory := cache.NewMemoryCache()
	defer memory.Close()
	counts := cache.NewCounts(memory, time.Minute)

	order := newOrderEntity(t)
	assoc, ok := order.Association("customer")
	require.True(t, ok)

	matching := 1
	orders := NewRepository(order, &MockExecutor{
		ExecutePlanWithCountFunc: func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, int, error) {
			return nil, matching, nil
		},
	}, Options{FieldMap: orderFieldMap, Counts: counts})

	customerCalls := 0
	customers := NewRepository(assoc.Target, &MockExecutor{
		ExecutePlanWithCountFunc: func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, int, error) {
			customerCalls++
			return nil, 3, nil
		},
		ExecuteGetFunc: func(ctx context.Context, plan *query.Plan) (map[string]interface{}, error) {
			return map[string]interface{}{"id": "c1", "name": "Globex"}, nil
		},
	}, Options{Counts: counts})

	ctx := context.Background()
	byCustomer := CountOptions{Where: filter.MustParse(map[string]interface{}{
		"customer": map[string]interface{}{"name": "Acme"},
	})}

	count, err := orders.Count(ctx, byCustomer)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = customers.Count(ctx, CountOptions{})
	require.NoError(t, err)

	// renaming the customer changes which orders match
	matching = 0
	_, err = customers.Save(ctx, customers.Instance(map[string]interface{}{"id": "c1", "name": "Globex"}))
	require.NoError(t, err)

	count, err = orders.Count(ctx, byCustomer)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// order writes leave customer counts cached
	_, err = orders.Remove(ctx, orders.Instance(map[string]interface{}{"id": "o1"}))
	require.NoError(t, err)
	_, err = customers.Count(ctx, CountOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, customerCalls)
}

func TestRepositoryFieldValue(t *testing.T) {
	repo := NewRepository(newOrderEntity(t), &MockExecutor{}, Options{})
	record := map[string]interface{}{
		"customer": map[string]interface{}{"name": "Acme"},
	}

	value, ok := repo.FieldValue(record, "customer.name")
	assert.True(t, ok)
	assert.Equal(t, "Acme", value)

	repo.SetFieldValue(record, "[customer][name]", "Globex")
	assert.Equal(t, "Globex", record["customer"].(map[string]interface{})["name"])

	repo.SetFieldValue(record, "address.city", "Paris")
	_, ok = record["address"]
	assert.False(t, ok)
}

func TestRepositoryLogsPlans(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	repo := NewRepository(newOrderEntity(t), &MockExecutor{}, Options{Logger: zap.New(core)})

	_, err := repo.Find(context.Background(), FindOptions{Fields: query.BareFields("status")})
	require.NoError(t, err)

	entries := logs.FilterMessage("built plan").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Order", fields["resource"])
	assert.Equal(t, "find", fields["operation"])
}

func TestRepositoryFindPassesThroughUnknownErrors(t *testing.T) {
	boom := errors.New("boom")
	repo := NewRepository(newOrderEntity(t), &MockExecutor{
		ExecutePlanFunc: func(ctx context.Context, plan *query.Plan) ([]map[string]interface{}, error) {
			return nil, boom
		},
	}, Options{})

	_, err := repo.Find(context.Background(), FindOptions{})
	assert.ErrorIs(t, err, boom)
}

package sqlexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/datasource/internal/orm/filter"
	"github.com/conduit-lang/datasource/internal/orm/query"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

func newTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	registry, err := schema.Load([]schema.Definition{
		{
			Name: "Order",
			Fields: []schema.FieldDefinition{
				{Name: "id", Type: "uuid", Annotations: []string{"primary"}},
				{Name: "total", Type: "decimal"},
				{Name: "status", Type: "string"},
				{Name: "customer_id", Type: "uuid"},
				{Name: "created_at", Type: "timestamp"},
				{Name: "updated_at", Type: "timestamp"},
			},
			Relationships: []schema.RelationshipDefinition{
				{Name: "customer", Type: "belongs_to", Target: "Customer"},
				{Name: "items", Type: "has_many", Target: "Item"},
				{Name: "tags", Type: "has_many_through", Target: "Tag", JoinTable: "order_tags"},
			},
		},
		{
			Name: "Customer",
			Fields: []schema.FieldDefinition{
				{Name: "id", Type: "uuid", Annotations: []string{"primary"}},
				{Name: "name", Type: "string"},
				{Name: "address_id", Type: "uuid"},
			},
			Relationships: []schema.RelationshipDefinition{
				{Name: "address", Type: "belongs_to", Target: "Address"},
			},
		},
		{
			Name: "Address",
			Fields: []schema.FieldDefinition{
				{Name: "id", Type: "uuid", Annotations: []string{"primary"}},
				{Name: "city", Type: "string"},
			},
		},
		{
			Name: "Item",
			Fields: []schema.FieldDefinition{
				{Name: "id", Type: "uuid", Annotations: []string{"primary"}},
				{Name: "sku", Type: "string"},
				{Name: "order_id", Type: "uuid"},
			},
		},
		{
			Name: "Tag",
			Fields: []schema.FieldDefinition{
				{Name: "id", Type: "int", Annotations: []string{"primary"}},
				{Name: "label", Type: "string"},
			},
		},
	})
	require.NoError(t, err)
	return registry
}

func orderBuilder(t *testing.T) *query.Builder {
	t.Helper()
	registry := newTestRegistry(t)
	order, ok := registry.Entity("Order")
	require.True(t, ok)

	return query.NewBuilder(order, query.Config{FieldMap: query.FieldMap{
		"customer": {Fields: []query.FieldSpec{
			query.Bare("id"),
			query.Bare("name"),
			query.Detailed{Name: "address", Fields: query.BareFields("city")},
		}},
		"items": {Fields: query.BareFields("sku")},
		"tags":  {Fields: query.BareFields("label")},
	}})
}

func TestCompileList(t *testing.T) {
	plan := orderBuilder(t).List(query.ListOptions{
		Fields: []query.FieldSpec{
			query.Bare("total"),
			query.Detailed{Name: "customer", Fields: query.BareFields("id", "name")},
		},
		Where: filter.MustParse(map[string]interface{}{
			"status":   "open",
			"customer": map[string]interface{}{"name": "Acme"},
		}),
		Sort:  []query.SortKey{{Field: "total", Weight: -1}},
		Limit: 10,
		Skip:  20,
	})

	stmt, err := Compile(Postgres, plan)
	require.NoError(t, err)

	assert.Equal(t, `SELECT "orders"."total" AS "total", "orders"."id" AS "id", `+
		`"customer"."id" AS "customer.id", "customer"."name" AS "customer.name" `+
		`FROM "orders" `+
		`INNER JOIN "customers" AS "customer" ON "customer"."id" = "orders"."customer_id" AND "customer"."name" = $1 `+
		`WHERE "orders"."status" = $2 `+
		`ORDER BY "orders"."total" DESC LIMIT $3 OFFSET $4`, stmt.SQL)
	assert.Equal(t, []interface{}{"Acme", "open", 10, 20}, stmt.Args)
}

func TestCompilePaginatesRootsBeforeHasManyJoins(t *testing.T) {
	plan := orderBuilder(t).List(query.ListOptions{
		Fields: query.BareFields("status", "items"),
		Sort:   []query.SortKey{{Field: "status", Weight: 1}, {Field: "items.sku", Weight: -1}},
		Limit:  5,
	})

	stmt, err := Compile(SQLite, plan)
	require.NoError(t, err)

	assert.Equal(t, `SELECT "orders"."status" AS "status", "orders"."id" AS "id", `+
		`"items"."sku" AS "items.sku", "items"."id" AS "items.id" `+
		`FROM (SELECT * FROM "orders" ORDER BY "orders"."status" ASC, `+
		`(SELECT MAX("items"."sku") FROM "items" AS "items" WHERE "items"."order_id" = "orders"."id") DESC LIMIT ?) AS "orders" `+
		`LEFT OUTER JOIN "items" AS "items" ON "items"."order_id" = "orders"."id" `+
		`ORDER BY "orders"."status" ASC, "items"."sku" DESC`, stmt.SQL)
	assert.Equal(t, []interface{}{5}, stmt.Args)
}

func TestCompilePaginatesOnlyMatchingRoots(t *testing.T) {
	plan := orderBuilder(t).List(query.ListOptions{
		Fields: query.BareFields("status", "items"),
		Where:  filter.MustParse(map[string]interface{}{"items": map[string]interface{}{"sku": "B"}}),
		Sort:   []query.SortKey{{Field: "status", Weight: 1}},
		Limit:  1,
	})

	stmt, err := Compile(SQLite, plan)
	require.NoError(t, err)

	assert.Equal(t, `SELECT "orders"."status" AS "status", "orders"."id" AS "id", `+
		`"items"."sku" AS "items.sku", "items"."id" AS "items.id" `+
		`FROM (SELECT * FROM "orders" `+
		`WHERE EXISTS (SELECT 1 FROM "items" AS "items" WHERE "items"."order_id" = "orders"."id" AND "items"."sku" = ?) `+
		`ORDER BY "orders"."status" ASC LIMIT ?) AS "orders" `+
		`INNER JOIN "items" AS "items" ON "items"."order_id" = "orders"."id" AND "items"."sku" = ? `+
		`ORDER BY "orders"."status" ASC`, stmt.SQL)
	assert.Equal(t, []interface{}{"B", 1, "B"}, stmt.Args)
}

func TestCompilePaginationKeepsNestedJoinFilters(t *testing.T) {
	plan := orderBuilder(t).Get(query.GetOptions{
		Fields: query.BareFields("items", "customer"),
		Where: filter.MustParse(map[string]interface{}{
			"status":   "open",
			"customer": map[string]interface{}{"address": map[string]interface{}{"city": "Paris"}},
		}),
	})
	limit := 1
	plan.Limit = &limit

	stmt, err := Compile(Postgres, plan)
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `FROM (SELECT * FROM "orders" WHERE "orders"."status" = $1 `+
		`AND EXISTS (SELECT 1 FROM "customers" AS "customer" WHERE "customer"."id" = "orders"."customer_id" `+
		`AND EXISTS (SELECT 1 FROM "addresses" AS "customer->address" `+
		`WHERE "customer->address"."id" = "customer"."address_id" AND "customer->address"."city" = $2)) `+
		`LIMIT $3) AS "orders" `)
	assert.Contains(t, stmt.SQL, `INNER JOIN "addresses" AS "customer->address" `+
		`ON "customer->address"."id" = "customer"."address_id" AND "customer->address"."city" = $4`)
	assert.Equal(t, []interface{}{"open", "Paris", 1, "Paris"}, stmt.Args)
}

func TestCompilePaginationSortsByNestedJoin(t *testing.T) {
	plan := orderBuilder(t).List(query.ListOptions{
		Fields: query.BareFields("items", "customer"),
		Sort:   []query.SortKey{{Field: "customer.address.city", Weight: 1}},
		Limit:  2,
	})

	stmt, err := Compile(Postgres, plan)
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `FROM (SELECT * FROM "orders" ORDER BY `+
		`(SELECT MIN("customer->address"."city") FROM "customers" AS "customer" `+
		`INNER JOIN "addresses" AS "customer->address" ON "customer->address"."id" = "customer"."address_id" `+
		`WHERE "customer"."id" = "orders"."customer_id") ASC LIMIT $1) AS "orders" `)
	assert.Contains(t, stmt.SQL, `ORDER BY "customer->address"."city" ASC`)
	assert.Equal(t, []interface{}{2}, stmt.Args)
}

func TestCompileNestedAndThroughJoins(t *testing.T) {
	t.Run("nested belongs_to", func(t *testing.T) {
		plan := orderBuilder(t).Get(query.GetOptions{
			Fields: query.BareFields("customer"),
			Where: filter.MustParse(map[string]interface{}{
				"customer": map[string]interface{}{"address": map[string]interface{}{"city": "Paris"}},
			}),
		})

		stmt, err := Compile(Postgres, plan)
		require.NoError(t, err)

		assert.Equal(t, `SELECT "orders"."id" AS "id", `+
			`"customer"."id" AS "customer.id", "customer"."name" AS "customer.name", `+
			`"customer->address"."city" AS "customer->address.city", "customer->address"."id" AS "customer->address.id" `+
			`FROM "orders" `+
			`INNER JOIN "customers" AS "customer" ON "customer"."id" = "orders"."customer_id" `+
			`INNER JOIN "addresses" AS "customer->address" ON "customer->address"."id" = "customer"."address_id" `+
			`AND "customer->address"."city" = $1`, stmt.SQL)
		assert.Equal(t, []interface{}{"Paris"}, stmt.Args)
	})

	t.Run("has_many_through", func(t *testing.T) {
		plan := orderBuilder(t).Get(query.GetOptions{Fields: query.BareFields("tags")})

		stmt, err := Compile(Postgres, plan)
		require.NoError(t, err)

		assert.Equal(t, `SELECT "orders"."id" AS "id", "tags"."label" AS "tags.label", "tags"."id" AS "tags.id" `+
			`FROM "orders" `+
			`LEFT OUTER JOIN "order_tags" AS "tags~through" ON "tags~through"."order_id" = "orders"."id" `+
			`LEFT OUTER JOIN "tags" AS "tags" ON "tags"."id" = "tags~through"."tag_id"`, stmt.SQL)
		assert.Empty(t, stmt.Args)
	})
}

func TestCompileCount(t *testing.T) {
	plan := orderBuilder(t).Count(query.CountOptions{
		Where: filter.MustParse(map[string]interface{}{
			"status":   "open",
			"customer": map[string]interface{}{"name": "Acme"},
		}),
	})

	stmt, err := CompileCount(Postgres, plan)
	require.NoError(t, err)

	assert.Equal(t, `SELECT COUNT(DISTINCT "orders"."id") AS "count" FROM "orders" `+
		`INNER JOIN "customers" AS "customer" ON "customer"."id" = "orders"."customer_id" AND "customer"."name" = $1 `+
		`WHERE "orders"."status" = $2`, stmt.SQL)
	assert.Equal(t, []interface{}{"Acme", "open"}, stmt.Args)
}

func TestCompileCountKeepsJoinForUnprojectedScope(t *testing.T) {
	plan := orderBuilder(t).Count(query.CountOptions{
		Where: filter.MustParse(map[string]interface{}{
			"customer": map[string]interface{}{"bogus": 1},
		}),
	})

	stmt, err := CompileCount(Postgres, plan)
	require.NoError(t, err)

	assert.Equal(t, `SELECT COUNT(DISTINCT "orders"."id") AS "count" FROM "orders" `+
		`INNER JOIN "customers" AS "customer" ON "customer"."id" = "orders"."customer_id"`, stmt.SQL)
	assert.Empty(t, stmt.Args)
}

func TestCompileExpressions(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		expr     filter.Expr
		expected string
		args     []interface{}
	}{
		{"equal", Postgres, filter.Eq("name", "a"), `"t"."name" = $1`, []interface{}{"a"}},
		{"not equal", Postgres, filter.Comparison{Field: "name", Operator: filter.OpNotEqual, Value: "a"}, `"t"."name" != $1`, []interface{}{"a"}},
		{"in", Postgres, filter.Comparison{Field: "id", Operator: filter.OpIn, Value: []interface{}{1, 2}}, `"t"."id" IN ($1, $2)`, []interface{}{1, 2}},
		{"empty in", Postgres, filter.Comparison{Field: "id", Operator: filter.OpIn, Value: []interface{}{}}, `FALSE`, nil},
		{"empty not in", Postgres, filter.Comparison{Field: "id", Operator: filter.OpNotIn, Value: []interface{}{}}, `TRUE`, nil},
		{"is null", Postgres, filter.Comparison{Field: "deleted_at", Operator: filter.OpIsNull}, `"t"."deleted_at" IS NULL`, nil},
		{"between", Postgres, filter.Comparison{Field: "total", Operator: filter.OpBetween, Value: []interface{}{1, 5}}, `"t"."total" BETWEEN $1 AND $2`, []interface{}{1, 5}},
		{"like", Postgres, filter.Contains("name", "foo"), `"t"."name" LIKE $1`, []interface{}{"%foo%"}},
		{"ilike postgres", Postgres, filter.Comparison{Field: "name", Operator: filter.OpILike, Value: "a%"}, `"t"."name" ILIKE $1`, []interface{}{"a%"}},
		{"ilike sqlite", SQLite, filter.Comparison{Field: "name", Operator: filter.OpILike, Value: "a%"}, `LOWER("t"."name") LIKE LOWER(?)`, []interface{}{"a%"}},
		{
			"or", Postgres,
			filter.Or{Exprs: []filter.Expr{filter.Eq("a", 1), filter.Eq("b", 2)}},
			`("t"."a" = $1 OR "t"."b" = $2)`, []interface{}{1, 2},
		},
		{"empty or", Postgres, filter.Or{}, `FALSE`, nil},
		{"empty and", Postgres, filter.And{}, `TRUE`, nil},
		{
			"not", SQLite,
			filter.Not{Expr: filter.And{Exprs: []filter.Expr{filter.Eq("a", 1), filter.Eq("b", 2)}}},
			`NOT (("t"."a" = ? AND "t"."b" = ?))`, []interface{}{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCompiler(tt.dialect)
			got, err := c.expr("t", tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.args, c.args)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	builder := orderBuilder(t)

	t.Run("scope without join", func(t *testing.T) {
		plan := builder.Get(query.GetOptions{
			Fields: query.BareFields("total"),
			Where:  filter.MustParse(map[string]interface{}{"customer": map[string]interface{}{"name": "Acme"}}),
		})
		_, err := Compile(Postgres, plan)
		assert.ErrorIs(t, err, ErrUnresolvedAssociation)
	})

	t.Run("invalid attribute", func(t *testing.T) {
		plan := builder.Get(query.GetOptions{Fields: query.BareFields(`total"; DROP TABLE orders; --`)})
		_, err := Compile(Postgres, plan)
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})

	t.Run("invalid filter field", func(t *testing.T) {
		plan := builder.Get(query.GetOptions{
			Fields: query.BareFields("total"),
			Where:  filter.Filter{filter.Eq("a b", 1)},
		})
		_, err := Compile(Postgres, plan)
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})

	t.Run("order on unknown join", func(t *testing.T) {
		plan := builder.List(query.ListOptions{
			Fields: query.BareFields("total"),
			Sort:   []query.SortKey{{Field: "customer.name", Weight: 1}},
		})
		_, err := Compile(Postgres, plan)
		assert.ErrorIs(t, err, ErrUnknownOrderField)
	})
}

func TestCompileSQLiteOffsetWithoutLimit(t *testing.T) {
	plan := orderBuilder(t).List(query.ListOptions{Fields: query.BareFields("total"), Skip: 3})

	stmt, err := Compile(SQLite, plan)
	require.NoError(t, err)

	assert.Equal(t, `SELECT "orders"."total" AS "total", "orders"."id" AS "id" FROM "orders" LIMIT -1 OFFSET ?`, stmt.SQL)
	assert.Equal(t, []interface{}{3}, stmt.Args)
}

func TestDialectFor(t *testing.T) {
	for _, driver := range []string{"postgres", "pgx", "pq"} {
		d, err := DialectFor(driver)
		require.NoError(t, err)
		assert.Equal(t, "postgres", d.Name())
	}

	d, err := DialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", d.Name())

	_, err = DialectFor("oracle")
	assert.Error(t, err)

	assert.Equal(t, `"a""b"`, Postgres.Quote(`a"b`))
}

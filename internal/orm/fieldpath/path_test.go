package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected []string
	}{
		{name: "single", path: "name", expected: []string{"name"}},
		{name: "dotted", path: "a.b.c", expected: []string{"a", "b", "c"}},
		{name: "leading dot", path: ".a.b", expected: []string{"a", "b"}},
		{name: "brackets", path: "items[0].name", expected: []string{"items", "0", "name"}},
		{name: "bracket keys", path: "meta[owner][email]", expected: []string{"meta", "owner", "email"}},
		{name: "leading bracket", path: "[a].b", expected: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokens(tt.path))
		})
	}
}

func TestGet(t *testing.T) {
	record := map[string]interface{}{
		"title": "Hello",
		"author": map[string]interface{}{
			"name": "Alice",
			"address": map[string]interface{}{
				"city": "Oslo",
			},
		},
		"tags":     []interface{}{"go", "sql"},
		"comments": []map[string]interface{}{{"body": "first"}},
		"deleted":  nil,
	}

	tests := []struct {
		path  string
		value interface{}
		found bool
	}{
		{path: "title", value: "Hello", found: true},
		{path: "author.name", value: "Alice", found: true},
		{path: ".author.name", value: "Alice", found: true},
		{path: "author[address][city]", value: "Oslo", found: true},
		{path: "tags[1]", value: "sql", found: true},
		{path: "comments[0].body", value: "first", found: true},
		{path: "deleted", value: nil, found: true},
		{path: "missing", value: nil, found: false},
		{path: "missing.deeper.path", value: nil, found: false},
		{path: "title.length", value: nil, found: false},
		{path: "tags[5]", value: nil, found: false},
		{path: "tags[x]", value: nil, found: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			value, found := Get(record, tt.path)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestSetRoundTrip(t *testing.T) {
	record := map[string]interface{}{
		"a": map[string]interface{}{"b": 1},
	}

	Set(record, "a.b", 42)

	value, found := Get(record, "a.b")
	require.True(t, found)
	assert.Equal(t, 42, value)
}

func TestSetCreatesLeafOnExistingContainer(t *testing.T) {
	record := map[string]interface{}{
		"a": map[string]interface{}{},
	}

	Set(record, "a.c", "new")

	assert.Equal(t, map[string]interface{}{"c": "new"}, record["a"])
}

func TestSetMissingIntermediateIsNoop(t *testing.T) {
	record := map[string]interface{}{
		"a": map[string]interface{}{"b": 1},
	}

	Set(record, "x.y", "value")
	Set(record, "a.b.c", "value")

	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"b": 1},
	}, record)
}

func TestSetSingleToken(t *testing.T) {
	record := map[string]interface{}{}

	Set(record, "status", "open")
	Set(record, ".priority", 2)

	assert.Equal(t, map[string]interface{}{"status": "open", "priority": 2}, record)
}

func TestSetIndexed(t *testing.T) {
	tags := []interface{}{"go", "sql"}
	record := map[string]interface{}{"tags": tags}

	Set(record, "tags[0]", "rust")
	Set(record, "tags[9]", "ignored")

	assert.Equal(t, []interface{}{"rust", "sql"}, record["tags"])
}

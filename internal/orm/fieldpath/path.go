// Package fieldpath provides dotted/bracketed path access into materialized records
package fieldpath

import (
	"regexp"
	"strconv"
	"strings"
)

// bracketPattern matches indexed segments like [0] or [name]
var bracketPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// Tokens normalizes a path into its segments.
// Example: "items[0].name" and ".items.0.name" both return ["items", "0", "name"]
func Tokens(path string) []string {
	path = bracketPattern.ReplaceAllString(path, ".$1")
	path = strings.TrimPrefix(path, ".")
	return strings.Split(path, ".")
}

// Get reads the value at path. The second return value is false when any
// segment of the path is missing.
func Get(record interface{}, path string) (interface{}, bool) {
	current := record
	for _, token := range Tokens(path) {
		next, ok := child(current, token)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Set writes value at path. Intermediate containers are never created: if
// any segment before the last is missing, the write is dropped.
func Set(record interface{}, path string, value interface{}) {
	tokens := Tokens(path)
	current := record
	for _, token := range tokens[:len(tokens)-1] {
		next, ok := child(current, token)
		if !ok {
			return
		}
		current = next
	}
	assign(current, tokens[len(tokens)-1], value)
}

// child returns the own member of container named by token
func child(container interface{}, token string) (interface{}, bool) {
	switch c := container.(type) {
	case map[string]interface{}:
		v, ok := c[token]
		return v, ok
	case []interface{}:
		i, ok := index(token, len(c))
		if !ok {
			return nil, false
		}
		return c[i], true
	case []map[string]interface{}:
		i, ok := index(token, len(c))
		if !ok {
			return nil, false
		}
		return c[i], true
	default:
		return nil, false
	}
}

// assign stores value under token on container; non-container targets are ignored
func assign(container interface{}, token string, value interface{}) {
	switch c := container.(type) {
	case map[string]interface{}:
		c[token] = value
	case []interface{}:
		if i, ok := index(token, len(c)); ok {
			c[i] = value
		}
	case []map[string]interface{}:
		m, isMap := value.(map[string]interface{})
		if i, ok := index(token, len(c)); ok && isMap {
			c[i] = m
		}
	}
}

func index(token string, length int) (int, bool) {
	i, err := strconv.Atoi(token)
	if err != nil || i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

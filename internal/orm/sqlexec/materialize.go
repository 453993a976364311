package sqlexec

import (
	"database/sql"
	"fmt"
)

// instance is a record being assembled from joined rows
type instance struct {
	record   map[string]interface{}
	children map[*joinNode]*instanceSet
}

// instanceSet keeps the distinct records of one join under one parent, in
// order of first appearance
type instanceSet struct {
	order []*instance
	byKey map[string]*instance
}

func newInstanceSet() *instanceSet {
	return &instanceSet{byKey: make(map[string]*instance)}
}

// materialize scans rows of a compiled statement into nested records: a map
// for belongs_to and has_one, a slice for has_many. Joined rows repeating a
// record are merged by primary key.
func materialize(stmt *Statement, rows *sql.Rows) ([]map[string]interface{}, error) {
	roots := newInstanceSet()

	for rows.Next() {
		values := make([]interface{}, len(stmt.columns))
		valuePtrs := make([]interface{}, len(stmt.columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		absorb(stmt, roots, stmt.root, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]map[string]interface{}, 0, len(roots.order))
	for _, inst := range roots.order {
		records = append(records, finish(stmt.root, inst))
	}
	return records, nil
}

// absorb merges the columns of node from one row into set and recurses into
// the node's joins. A row whose primary key is NULL did not match the join.
func absorb(stmt *Statement, set *instanceSet, node *joinNode, values []interface{}) {
	pk := values[node.pk]
	if pk == nil {
		return
	}
	key := keyOf(pk)

	inst, ok := set.byKey[key]
	if !ok {
		inst = &instance{
			record:   make(map[string]interface{}, len(node.attrs)),
			children: make(map[*joinNode]*instanceSet, len(node.children)),
		}
		for i, col := range stmt.columns {
			if col.node == node && !col.hidden {
				inst.record[col.attr] = values[i]
			}
		}
		set.byKey[key] = inst
		set.order = append(set.order, inst)
	}

	for _, child := range node.children {
		childSet, ok := inst.children[child]
		if !ok {
			childSet = newInstanceSet()
			inst.children[child] = childSet
		}
		absorb(stmt, childSet, child, values)
	}
}

// finish attaches joined records to their parents
func finish(node *joinNode, inst *instance) map[string]interface{} {
	for _, child := range node.children {
		set := inst.children[child]
		name := child.assoc.Name

		if child.assoc.Multiple() {
			list := make([]map[string]interface{}, 0)
			if set != nil {
				for _, item := range set.order {
					list = append(list, finish(child, item))
				}
			}
			inst.record[name] = list
			continue
		}

		if set == nil || len(set.order) == 0 {
			inst.record[name] = nil
			continue
		}
		inst.record[name] = finish(child, set.order[0])
	}
	return inst.record
}

func keyOf(value interface{}) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

package sqlexec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/datasource/internal/orm/filter"
	"github.com/conduit-lang/datasource/internal/orm/query"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

var (
	// ErrUnresolvedAssociation is returned when a filter still holds a scope
	// for an association that is not part of the join tree
	ErrUnresolvedAssociation = errors.New("filter references an association that is not joined")

	// ErrInvalidIdentifier is returned for field names that are not plain identifiers
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnknownOrderField is returned when an order term references an unknown join
	ErrUnknownOrderField = errors.New("unknown order field")

	// ErrUnsupportedOperator is returned for operators the compiler cannot render
	ErrUnsupportedOperator = errors.New("unsupported operator")
)

// Statement is a compiled plan
type Statement struct {
	SQL  string
	Args []interface{}

	root    *joinNode
	columns []columnRef
}

// joinNode is the root entity or one joined association
type joinNode struct {
	alias    string
	path     string
	parent   *joinNode
	entity   *schema.Entity
	assoc    *schema.Association
	include  *query.IncludeNode
	attrs    []string
	pk       int // index into Statement.columns
	children []*joinNode
}

type columnRef struct {
	node   *joinNode
	attr   string
	hidden bool
}

type compiler struct {
	dialect Dialect
	args    []interface{}
	root    *joinNode
	paths   map[string]*joinNode
	columns []columnRef
}

func newCompiler(dialect Dialect) *compiler {
	return &compiler{dialect: dialect, paths: make(map[string]*joinNode)}
}

// Compile compiles a plan into a SELECT returning one row per joined combination
func Compile(dialect Dialect, plan *query.Plan) (*Statement, error) {
	c := newCompiler(dialect)

	root, err := c.tree(plan)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if plan.Distinct {
		sb.WriteString("DISTINCT ")
	}
	selects := make([]string, len(c.columns))
	for i, col := range c.columns {
		label := col.attr
		if col.node != root {
			label = col.node.alias + "." + col.attr
		}
		selects[i] = fmt.Sprintf("%s AS %s", c.column(col.node.alias, col.attr), c.dialect.Quote(label))
	}
	sb.WriteString(strings.Join(selects, ", "))

	paginateInside := (plan.Limit != nil || plan.Offset != nil) && hasMultiple(root)

	// Root rows are paginated before joining when a join can repeat them.
	if paginateInside {
		sb.WriteString(" FROM (SELECT * FROM ")
		sb.WriteString(c.dialect.Quote(root.alias))
		if err := c.pageWhere(&sb, root, plan.Where); err != nil {
			return nil, err
		}
		if err := c.pageOrder(&sb, plan.Order); err != nil {
			return nil, err
		}
		c.paginate(&sb, plan.Limit, plan.Offset)
		sb.WriteString(") AS ")
		sb.WriteString(c.dialect.Quote(root.alias))
	} else {
		sb.WriteString(" FROM ")
		sb.WriteString(c.dialect.Quote(root.alias))
	}

	if err := c.joins(&sb, root); err != nil {
		return nil, err
	}

	if !paginateInside {
		if err := c.where(&sb, root.alias, plan.Where); err != nil {
			return nil, err
		}
	}
	if err := c.orderBy(&sb, plan.Order); err != nil {
		return nil, err
	}
	if !paginateInside {
		c.paginate(&sb, plan.Limit, plan.Offset)
	}

	return &Statement{SQL: sb.String(), Args: c.args, root: root, columns: c.columns}, nil
}

// CompileCount compiles a plan into a count of distinct root records. Order
// and pagination are ignored.
func CompileCount(dialect Dialect, plan *query.Plan) (*Statement, error) {
	c := newCompiler(dialect)

	root, err := c.tree(plan)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	pk := c.column(root.alias, root.entity.PrimaryKey())
	fmt.Fprintf(&sb, "SELECT COUNT(DISTINCT %s) AS %s", pk, c.dialect.Quote("count"))
	sb.WriteString(" FROM ")
	sb.WriteString(c.dialect.Quote(root.alias))

	if err := c.joins(&sb, root); err != nil {
		return nil, err
	}
	if err := c.where(&sb, root.alias, plan.Where); err != nil {
		return nil, err
	}

	return &Statement{SQL: sb.String(), Args: c.args}, nil
}

// tree builds the join tree and the select column list
func (c *compiler) tree(plan *query.Plan) (*joinNode, error) {
	if plan.Entity == nil {
		return nil, errors.New("plan has no entity")
	}
	root := &joinNode{alias: plan.Entity.Table(), entity: plan.Entity}
	c.root = root
	if err := c.addColumns(root, plan.Attributes); err != nil {
		return nil, err
	}
	for _, include := range plan.Include {
		child, err := c.child(root, include)
		if err != nil {
			return nil, err
		}
		root.children = append(root.children, child)
	}
	return root, nil
}

func (c *compiler) child(parent *joinNode, include *query.IncludeNode) (*joinNode, error) {
	assoc := include.Association
	node := &joinNode{
		alias:   assoc.Name,
		path:    assoc.Name,
		parent:  parent,
		entity:  assoc.Target,
		assoc:   assoc,
		include: include,
	}
	if parent.assoc != nil {
		node.alias = parent.alias + "->" + assoc.Name
		node.path = parent.path + "." + assoc.Name
	}
	c.paths[node.path] = node

	if err := c.addColumns(node, include.Attributes); err != nil {
		return nil, err
	}
	for _, nested := range include.Include {
		child, err := c.child(node, nested)
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, child)
	}
	return node, nil
}

// addColumns selects attrs of node plus its primary key, hidden when not requested
func (c *compiler) addColumns(node *joinNode, attrs []string) error {
	pk := node.entity.PrimaryKey()
	node.pk = -1
	seen := make(map[string]bool, len(attrs))
	for _, attr := range attrs {
		if seen[attr] {
			continue
		}
		if err := validateIdentifier(attr); err != nil {
			return err
		}
		seen[attr] = true
		node.attrs = append(node.attrs, attr)
		if attr == pk {
			node.pk = len(c.columns)
		}
		c.columns = append(c.columns, columnRef{node: node, attr: attr})
	}
	if node.pk < 0 {
		node.pk = len(c.columns)
		c.columns = append(c.columns, columnRef{node: node, attr: pk, hidden: true})
	}
	return nil
}

func (c *compiler) joins(sb *strings.Builder, parent *joinNode) error {
	for _, child := range parent.children {
		if err := c.join(sb, parent, child); err != nil {
			return err
		}
		if err := c.joins(sb, child); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) join(sb *strings.Builder, parent, child *joinNode) error {
	kind := "LEFT OUTER JOIN"
	if required(child.include) {
		kind = "INNER JOIN"
	}
	h, err := c.hop(parent.alias, child)
	if err != nil {
		return err
	}
	if h.through != "" {
		fmt.Fprintf(sb, " %s %s ON %s", kind, h.through, h.throughOn)
	}
	fmt.Fprintf(sb, " %s %s ON %s", kind, h.target, h.on)

	if !child.include.Where.IsEmpty() {
		cond, err := c.filter(child.alias, child.include.Where)
		if err != nil {
			return fmt.Errorf("join %s: %w", child.path, err)
		}
		sb.WriteString(" AND ")
		sb.WriteString(cond)
	}
	return nil
}

// hop is the SQL linking a joined node to its parent. Has-many-through
// associations pass through their join table first.
type hop struct {
	through   string
	throughOn string
	target    string
	on        string
}

func (c *compiler) hop(parentAlias string, node *joinNode) (hop, error) {
	assoc := node.assoc
	h := hop{target: c.dialect.Quote(node.entity.Table()) + " AS " + c.dialect.Quote(node.alias)}

	switch assoc.Type {
	case schema.RelationshipBelongsTo:
		h.on = fmt.Sprintf("%s = %s", c.column(node.alias, assoc.TargetKey), c.column(parentAlias, assoc.ForeignKey))
	case schema.RelationshipHasOne, schema.RelationshipHasMany:
		h.on = fmt.Sprintf("%s = %s", c.column(node.alias, assoc.ForeignKey), c.column(parentAlias, assoc.SourceKey))
	case schema.RelationshipHasManyThrough:
		through := node.alias + "~through"
		h.through = c.dialect.Quote(assoc.JoinTable) + " AS " + c.dialect.Quote(through)
		h.throughOn = fmt.Sprintf("%s = %s", c.column(through, assoc.ForeignKey), c.column(parentAlias, assoc.SourceKey))
		h.on = fmt.Sprintf("%s = %s", c.column(node.alias, assoc.TargetKey), c.column(through, assoc.AssociationKey))
	default:
		return hop{}, fmt.Errorf("unsupported relationship type %s for %s", assoc.Type, assoc.Name)
	}
	return h, nil
}

// correlated returns the FROM items of a subquery over the hop and the
// condition tying it to the outer parent row
func (h hop) correlated() (string, string) {
	if h.through == "" {
		return h.target, h.on
	}
	return h.through + " INNER JOIN " + h.target + " ON " + h.on, h.throughOn
}

// pageWhere filters the roots of a paginated subquery: the root filter plus
// an EXISTS for every join subtree that drops roots, so that the page is
// taken from the roots the outer joins keep
func (c *compiler) pageWhere(sb *strings.Builder, root *joinNode, where filter.Filter) error {
	var conds []string
	if !where.IsEmpty() {
		cond, err := c.filter(root.alias, where)
		if err != nil {
			return err
		}
		conds = append(conds, cond)
	}
	for _, child := range root.children {
		if !restricts(child) {
			continue
		}
		cond, err := c.exists(root.alias, child)
		if err != nil {
			return err
		}
		conds = append(conds, cond)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	return nil
}

func (c *compiler) exists(parentAlias string, node *joinNode) (string, error) {
	h, err := c.hop(parentAlias, node)
	if err != nil {
		return "", err
	}
	from, link := h.correlated()
	conds := []string{link}
	if !node.include.Where.IsEmpty() {
		cond, err := c.filter(node.alias, node.include.Where)
		if err != nil {
			return "", fmt.Errorf("join %s: %w", node.path, err)
		}
		conds = append(conds, cond)
	}
	for _, child := range node.children {
		if !restricts(child) {
			continue
		}
		cond, err := c.exists(node.alias, child)
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", from, strings.Join(conds, " AND ")), nil
}

// pageOrder orders the roots of a paginated subquery. A term on a joined
// field sorts by its smallest (ascending) or largest (descending) value.
func (c *compiler) pageOrder(sb *strings.Builder, order []query.OrderTerm) error {
	if len(order) == 0 {
		return nil
	}
	terms := make([]string, len(order))
	for i, term := range order {
		direction := query.Asc
		if term.Direction == query.Desc {
			direction = query.Desc
		}
		node, attr, err := c.resolveOrderField(term.Field)
		if err != nil {
			return err
		}
		if node == c.root {
			terms[i] = fmt.Sprintf("%s %s", c.column(node.alias, attr), direction)
			continue
		}
		expr, err := c.aggregate(node, attr, direction)
		if err != nil {
			return err
		}
		terms[i] = fmt.Sprintf("%s %s", expr, direction)
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(terms, ", "))
	return nil
}

// aggregate renders a correlated subquery reducing attr of node to one
// value per root row
func (c *compiler) aggregate(node *joinNode, attr string, direction query.Direction) (string, error) {
	var chain []*joinNode
	for n := node; n != c.root; n = n.parent {
		chain = append([]*joinNode{n}, chain...)
	}

	fn := "MIN"
	if direction == query.Desc {
		fn = "MAX"
	}

	first, err := c.hop(c.root.alias, chain[0])
	if err != nil {
		return "", err
	}
	from, link := first.correlated()

	var sb strings.Builder
	fmt.Fprintf(&sb, "(SELECT %s(%s) FROM %s", fn, c.column(node.alias, attr), from)
	for i, n := range chain[1:] {
		h, err := c.hop(chain[i].alias, n)
		if err != nil {
			return "", err
		}
		if h.through != "" {
			fmt.Fprintf(&sb, " INNER JOIN %s ON %s", h.through, h.throughOn)
		}
		fmt.Fprintf(&sb, " INNER JOIN %s ON %s", h.target, h.on)
		if !n.include.Where.IsEmpty() {
			cond, err := c.filter(n.alias, n.include.Where)
			if err != nil {
				return "", err
			}
			sb.WriteString(" AND ")
			sb.WriteString(cond)
		}
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(link)
	if !chain[0].include.Where.IsEmpty() {
		cond, err := c.filter(chain[0].alias, chain[0].include.Where)
		if err != nil {
			return "", err
		}
		sb.WriteString(" AND ")
		sb.WriteString(cond)
	}
	sb.WriteString(")")
	return sb.String(), nil
}

func (c *compiler) where(sb *strings.Builder, alias string, where filter.Filter) error {
	if where.IsEmpty() {
		return nil
	}
	cond, err := c.filter(alias, where)
	if err != nil {
		return err
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(cond)
	return nil
}

func (c *compiler) orderBy(sb *strings.Builder, order []query.OrderTerm) error {
	if len(order) == 0 {
		return nil
	}
	terms := make([]string, len(order))
	for i, term := range order {
		node, attr, err := c.resolveOrderField(term.Field)
		if err != nil {
			return err
		}
		direction := query.Asc
		if term.Direction == query.Desc {
			direction = query.Desc
		}
		terms[i] = fmt.Sprintf("%s %s", c.column(node.alias, attr), direction)
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(terms, ", "))
	return nil
}

// resolveOrderField maps "a.b.c" to the join node of path "a.b" and column c
func (c *compiler) resolveOrderField(field string) (*joinNode, string, error) {
	i := strings.LastIndex(field, ".")
	if i < 0 {
		if err := validateIdentifier(field); err != nil {
			return nil, "", err
		}
		return c.root, field, nil
	}
	node, ok := c.paths[field[:i]]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownOrderField, field)
	}
	attr := field[i+1:]
	if err := validateIdentifier(attr); err != nil {
		return nil, "", err
	}
	return node, attr, nil
}

func (c *compiler) paginate(sb *strings.Builder, limit, offset *int) {
	if limit != nil {
		fmt.Fprintf(sb, " LIMIT %s", c.bind(*limit))
	} else if offset != nil && c.dialect == SQLite {
		sb.WriteString(" LIMIT -1")
	}
	if offset != nil {
		fmt.Fprintf(sb, " OFFSET %s", c.bind(*offset))
	}
}

func (c *compiler) bind(value interface{}) string {
	c.args = append(c.args, value)
	return c.dialect.Placeholder(len(c.args))
}

func (c *compiler) column(alias, attr string) string {
	return c.dialect.Quote(alias) + "." + c.dialect.Quote(attr)
}

// filter renders a conjunction of expressions qualified by alias
func (c *compiler) filter(alias string, f filter.Filter) (string, error) {
	parts := make([]string, 0, len(f))
	for _, expr := range f {
		part, err := c.expr(alias, expr)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " AND "), nil
}

func (c *compiler) expr(alias string, expr filter.Expr) (string, error) {
	switch e := expr.(type) {
	case filter.Comparison:
		return c.comparison(alias, e)
	case filter.And:
		return c.group(alias, e.Exprs, " AND ", "TRUE")
	case filter.Or:
		return c.group(alias, e.Exprs, " OR ", "FALSE")
	case filter.Not:
		inner, err := c.expr(alias, e.Expr)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case *filter.Scope:
		return "", fmt.Errorf("%w: %s", ErrUnresolvedAssociation, e.Association)
	default:
		return "", fmt.Errorf("unsupported filter expression %T", expr)
	}
}

func (c *compiler) group(alias string, exprs []filter.Expr, connector, empty string) (string, error) {
	if len(exprs) == 0 {
		return empty, nil
	}
	parts := make([]string, len(exprs))
	for i, expr := range exprs {
		part, err := c.expr(alias, expr)
		if err != nil {
			return "", err
		}
		parts[i] = part
	}
	return "(" + strings.Join(parts, connector) + ")", nil
}

// comparison renders one comparison with bound parameters
func (c *compiler) comparison(alias string, cmp filter.Comparison) (string, error) {
	if err := validateIdentifier(cmp.Field); err != nil {
		return "", err
	}
	col := c.column(alias, cmp.Field)

	switch cmp.Operator {
	case filter.OpEqual, filter.OpNotEqual, filter.OpGreaterThan, filter.OpGreaterThanOrEqual,
		filter.OpLessThan, filter.OpLessThanOrEqual, filter.OpLike, filter.OpNotLike:
		return fmt.Sprintf("%s %s %s", col, cmp.Operator, c.bind(cmp.Value)), nil

	case filter.OpILike:
		return c.dialect.ILike(col, c.bind(cmp.Value), false), nil

	case filter.OpIn, filter.OpNotIn:
		values, ok := cmp.Value.([]interface{})
		if !ok {
			return "", fmt.Errorf("%s operator requires a list value", cmp.Operator)
		}
		if len(values) == 0 {
			// IN () matches nothing, NOT IN () matches everything
			if cmp.Operator == filter.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = c.bind(v)
		}
		return fmt.Sprintf("%s %s (%s)", col, cmp.Operator, strings.Join(placeholders, ", ")), nil

	case filter.OpIsNull, filter.OpIsNotNull:
		return fmt.Sprintf("%s %s", col, cmp.Operator), nil

	case filter.OpBetween:
		values, ok := cmp.Value.([]interface{})
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("BETWEEN operator requires [min, max] values")
		}
		low := c.bind(values[0])
		high := c.bind(values[1])
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, low, high), nil

	default:
		return "", fmt.Errorf("%w: %v", ErrUnsupportedOperator, cmp.Operator)
	}
}

// required reports whether an include is rendered as an inner join. An
// include scoped by the filter is required unless it says otherwise.
func required(include *query.IncludeNode) bool {
	if include.Required != nil {
		return *include.Required
	}
	return include.Where != nil
}

func hasMultiple(node *joinNode) bool {
	for _, child := range node.children {
		if child.assoc.Multiple() || hasMultiple(child) {
			return true
		}
	}
	return false
}

// restricts reports whether the joins of node can drop root rows: an inner
// join anywhere below a root association removes roots without a match
func restricts(node *joinNode) bool {
	if required(node.include) {
		return true
	}
	for _, child := range node.children {
		if restricts(child) {
			return true
		}
	}
	return false
}

// validateIdentifier checks that an identifier only contains letters, digits
// and underscores
func validateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	for _, char := range identifier {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_') {
			return fmt.Errorf("%w: %s (contains invalid character: %c)", ErrInvalidIdentifier, identifier, char)
		}
	}
	return nil
}

package jpql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/pkg/errors"
)

func malformed(text string, pos int, format string, args ...any) error {
	return errors.Wrapf(errs.ErrMalformedQuery, "%s at %d in %q", fmt.Sprintf(format, args...), pos, text)
}

// Parse 解析查询语句
func Parse(text string) (*Statement, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{text: text, tokens: tokens, aliases: map[string]string{}}
	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return stmt, nil
}

func MustParse(text string) *Statement {
	stmt, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return stmt
}

type parser struct {
	text   string
	tokens []token
	pos    int

	// 别名 -> 相对根实体的路径，根实体别名对应空串
	aliases map[string]string
	// select 子句在 from 之前出现，等别名确定之后再解析
	selectPaths []token
}

func (p *parser) eof() bool {
	return p.pos >= len(p.tokens)
}

func (p *parser) peek() token {
	if p.eof() {
		return token{code: -1, pos: len(p.text)}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return malformed(p.text, p.peek().pos, format, args...)
}

// keyword 关键字大小写不敏感
func (p *parser) keyword(words ...string) bool {
	t := p.peek()
	if t.code != identifierToken {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) accept(word string) bool {
	if p.keyword(word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(word string) error {
	if !p.accept(word) {
		return p.errorf("expected %q", word)
	}
	return nil
}

func (p *parser) expectCode(code int, name string) (token, error) {
	if p.peek().code != code {
		return token{}, p.errorf("expected %s", name)
	}
	return p.next(), nil
}

func (p *parser) identifier() (token, error) {
	t, err := p.expectCode(identifierToken, "identifier")
	if err != nil {
		return t, err
	}
	if reserved[strings.ToLower(t.text)] {
		return token{}, malformed(p.text, t.pos, "unexpected keyword %q", t.text)
	}
	return t, nil
}

var reserved = map[string]bool{
	"select": true, "from": true, "where": true, "join": true, "left": true, "inner": true, "outer": true,
	"fetch": true, "order": true, "by": true, "and": true, "or": true, "not": true, "in": true, "like": true,
	"is": true, "null": true, "between": true, "update": true, "set": true, "delete": true, "new": true,
}

func (p *parser) statement() (*Statement, error) {
	stmt := &Statement{Text: p.text}
	switch {
	case p.accept("select"):
		stmt.Kind = KindSelect
		return stmt, p.selectStatement(stmt)
	case p.accept("update"):
		stmt.Kind = KindUpdate
		return stmt, p.updateStatement(stmt)
	case p.accept("delete"):
		stmt.Kind = KindDelete
		p.accept("from")
		if err := p.from(stmt); err != nil {
			return nil, err
		}
		return stmt, p.where(stmt)
	}
	return nil, p.errorf("expected select, update or delete")
}

func (p *parser) from(stmt *Statement) error {
	entity, err := p.identifier()
	if err != nil {
		return err
	}
	stmt.Entity = entity.text
	if p.peek().code == identifierToken && !reserved[strings.ToLower(p.peek().text)] {
		p.accept("as")
		stmt.Alias = p.next().text
	}
	if stmt.Alias != "" {
		p.aliases[stmt.Alias] = ""
	}
	return nil
}

func (p *parser) selectStatement(stmt *Statement) error {
	if err := p.selectClause(stmt); err != nil {
		return err
	}
	if err := p.expect("from"); err != nil {
		return err
	}
	if err := p.from(stmt); err != nil {
		return err
	}
	if err := p.joins(stmt); err != nil {
		return err
	}
	if err := p.projection(stmt); err != nil {
		return err
	}
	if err := p.where(stmt); err != nil {
		return err
	}
	return p.orderBy(stmt)
}

// selectClause 记录 select 子句，别名在 from 之后才能解析
func (p *parser) selectClause(stmt *Statement) error {
	switch {
	case p.accept("new"):
		target, err := p.identifier()
		if err != nil {
			return err
		}
		stmt.Projection.Kind = plan.ProjectConstructor
		stmt.Projection.Target = target.text[strings.LastIndex(target.text, ".")+1:]
		if _, err := p.expectCode(openToken, "("); err != nil {
			return err
		}
		if err := p.pathList(); err != nil {
			return err
		}
		_, err = p.expectCode(closeToken, ")")
		return err
	case p.keyword("count"):
		p.next()
		stmt.Count = true
		if _, err := p.expectCode(openToken, "("); err != nil {
			return err
		}
		if _, err := p.identifier(); err != nil {
			return err
		}
		_, err := p.expectCode(closeToken, ")")
		return err
	}
	return p.pathList()
}

func (p *parser) pathList() error {
	for {
		t, err := p.identifier()
		if err != nil {
			return err
		}
		p.selectPaths = append(p.selectPaths, t)
		if p.peek().code != commaToken {
			return nil
		}
		p.next()
	}
}

func (p *parser) projection(stmt *Statement) error {
	if stmt.Count {
		return nil
	}
	var paths []string
	for _, t := range p.selectPaths {
		path, err := p.resolve(t)
		if err != nil {
			return err
		}
		paths = append(paths, path)
	}
	if stmt.Projection.Kind == plan.ProjectConstructor {
		stmt.Projection.Paths = paths
		return nil
	}
	switch {
	case len(paths) == 1 && paths[0] == "":
		stmt.Projection = plan.Projection{Kind: plan.ProjectEntity}
	case len(paths) == 1:
		stmt.Projection = plan.Projection{Kind: plan.ProjectScalar, Paths: paths}
	default:
		for i, path := range paths {
			if path == "" {
				return malformed(p.text, p.selectPaths[i].pos, "entity alias mixed with paths")
			}
		}
		stmt.Projection = plan.Projection{Kind: plan.ProjectFields, Paths: paths}
	}
	return nil
}

// resolve 把 alias.path 转换成相对根实体的路径
func (p *parser) resolve(t token) (string, error) {
	parts := strings.SplitN(t.text, ".", 2)
	prefix, ok := p.aliases[parts[0]]
	if !ok {
		if len(p.aliases) > 0 {
			return "", malformed(p.text, t.pos, "unknown alias %q", parts[0])
		}
		return t.text, nil
	}
	if len(parts) == 1 {
		return prefix, nil
	}
	if prefix == "" {
		return parts[1], nil
	}
	return prefix + "." + parts[1], nil
}

func (p *parser) joins(stmt *Statement) error {
	for {
		kind := plan.JoinInner
		switch {
		case p.accept("left"):
			kind = plan.JoinLeft
			p.accept("outer")
			if err := p.expect("join"); err != nil {
				return err
			}
		case p.accept("inner"):
			if err := p.expect("join"); err != nil {
				return err
			}
		case p.accept("join"):
		default:
			return nil
		}
		fetch := p.accept("fetch")
		t, err := p.identifier()
		if err != nil {
			return err
		}
		path, err := p.resolve(t)
		if err != nil {
			return err
		}
		if path == "" || strings.Contains(path, ".") {
			return malformed(p.text, t.pos, "join path %q must be alias.relation", t.text)
		}
		join := JoinClause{Path: path, Kind: kind, Fetch: fetch}
		if p.peek().code == identifierToken && !reserved[strings.ToLower(p.peek().text)] {
			p.accept("as")
			join.Alias = p.next().text
			p.aliases[join.Alias] = path
		}
		stmt.Joins = append(stmt.Joins, join)
	}
}

func (p *parser) where(stmt *Statement) error {
	if !p.accept("where") {
		return nil
	}
	n, err := p.or()
	if err != nil {
		return err
	}
	stmt.Where = n
	return nil
}

func (p *parser) or() (query.Node, error) {
	var nodes []query.Node
	for {
		n, err := p.and()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		if !p.accept("or") {
			break
		}
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return &query.Or{Nodes: nodes}, nil
}

func (p *parser) and() (query.Node, error) {
	var nodes []query.Node
	for {
		n, err := p.factor()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		if !p.accept("and") {
			break
		}
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return &query.And{Nodes: nodes}, nil
}

func (p *parser) factor() (query.Node, error) {
	if p.peek().code == openToken {
		p.next()
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectCode(closeToken, ")"); err != nil {
			return nil, err
		}
		return n, nil
	}
	return p.comparison()
}

var comparisonOperators = map[string]query.Operator{
	"=":  query.OpEq,
	"<>": query.OpNe,
	"!=": query.OpNe,
	">":  query.OpGt,
	">=": query.OpGte,
	"<":  query.OpLt,
	"<=": query.OpLte,
}

func (p *parser) comparison() (query.Node, error) {
	t, err := p.identifier()
	if err != nil {
		return nil, err
	}
	field, err := p.resolve(t)
	if err != nil {
		return nil, err
	}
	if field == "" {
		return nil, malformed(p.text, t.pos, "cannot compare entity alias %q", t.text)
	}

	if p.peek().code == comparisonToken {
		op := comparisonOperators[p.next().text]
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		return &query.Comparison{Field: field, Operator: op, Values: []query.Ref{v}}, nil
	}

	switch {
	case p.accept("is"):
		op := query.OpIsNull
		if p.accept("not") {
			op = query.OpIsNotNull
		}
		if err := p.expect("null"); err != nil {
			return nil, err
		}
		return &query.Comparison{Field: field, Operator: op, Values: []query.Ref{}}, nil
	case p.accept("between"):
		lo, err := p.value()
		if err != nil {
			return nil, err
		}
		if err := p.expect("and"); err != nil {
			return nil, err
		}
		hi, err := p.value()
		if err != nil {
			return nil, err
		}
		return &query.Comparison{Field: field, Operator: query.OpBetween, Values: []query.Ref{lo, hi}}, nil
	}

	not := p.accept("not")
	switch {
	case p.accept("like"):
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		op := query.OpLike
		if not {
			op = query.OpNotLike
		}
		return &query.Comparison{Field: field, Operator: op, Values: []query.Ref{v}}, nil
	case !not && p.accept("in"):
		v, err := p.collection()
		if err != nil {
			return nil, err
		}
		return &query.In{Field: field, Values: v}, nil
	}
	return nil, p.errorf("expected comparison operator")
}

func (p *parser) collection() (query.Ref, error) {
	if p.peek().code != openToken {
		v, err := p.value()
		if err != nil {
			return query.Ref{}, err
		}
		if v.Bound() {
			return query.Ref{}, p.errorf("in expects a parameter or a list")
		}
		return v, nil
	}
	p.next()
	var items []any
	for {
		v, err := p.value()
		if err != nil {
			return query.Ref{}, err
		}
		if !v.Bound() {
			return query.Ref{}, p.errorf("in list only accepts literals")
		}
		items = append(items, v.Value)
		if p.peek().code != commaToken {
			break
		}
		p.next()
	}
	if _, err := p.expectCode(closeToken, ")"); err != nil {
		return query.Ref{}, err
	}
	return query.Value(items), nil
}

// value 占位符或者字面值
func (p *parser) value() (query.Ref, error) {
	t := p.peek()
	switch t.code {
	case namedToken:
		p.next()
		return query.Named(t.text[1:]), nil
	case positionalToken:
		p.next()
		n, err := strconv.Atoi(t.text[1:])
		if err != nil || n < 1 {
			return query.Ref{}, malformed(p.text, t.pos, "invalid positional parameter %q", t.text)
		}
		return query.Positional(n - 1), nil
	case stringToken:
		p.next()
		return query.Value(strings.ReplaceAll(t.text[1:len(t.text)-1], `\'`, "'")), nil
	case numberToken:
		p.next()
		return number(p.text, t, false)
	case arithmeticToken:
		p.next()
		n, err := p.expectCode(numberToken, "number")
		if err != nil {
			return query.Ref{}, err
		}
		return number(p.text, n, t.text == "-")
	case identifierToken:
		switch strings.ToLower(t.text) {
		case "true", "false":
			p.next()
			return query.Value(strings.EqualFold(t.text, "true")), nil
		case "null":
			p.next()
			return query.Value(nil), nil
		}
	}
	return query.Ref{}, p.errorf("expected value")
}

func number(text string, t token, negative bool) (query.Ref, error) {
	s := t.text
	if negative {
		s = "-" + s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return query.Value(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return query.Ref{}, malformed(text, t.pos, "invalid number %q", t.text)
	}
	return query.Value(f), nil
}

func (p *parser) orderBy(stmt *Statement) error {
	if !p.accept("order") {
		return nil
	}
	if err := p.expect("by"); err != nil {
		return err
	}
	for {
		t, err := p.identifier()
		if err != nil {
			return err
		}
		path, err := p.resolve(t)
		if err != nil {
			return err
		}
		order := plan.By(path)
		if p.accept("desc") {
			order.Direction = plan.Desc
		} else {
			p.accept("asc")
		}
		stmt.OrderBy = append(stmt.OrderBy, order)
		if p.peek().code != commaToken {
			return nil
		}
		p.next()
	}
}

func (p *parser) updateStatement(stmt *Statement) error {
	if err := p.from(stmt); err != nil {
		return err
	}
	if err := p.expect("set"); err != nil {
		return err
	}
	for {
		a, err := p.assignment()
		if err != nil {
			return err
		}
		stmt.Assignments = append(stmt.Assignments, a)
		if p.peek().code != commaToken {
			break
		}
		p.next()
	}
	return p.where(stmt)
}

// assignment alias.f = value 或者 alias.f = alias.g (+|-) value
func (p *parser) assignment() (plan.Assignment, error) {
	t, err := p.identifier()
	if err != nil {
		return plan.Assignment{}, err
	}
	field, err := p.resolve(t)
	if err != nil {
		return plan.Assignment{}, err
	}
	if eq := p.next(); eq.code != comparisonToken || eq.text != "=" {
		return plan.Assignment{}, malformed(p.text, eq.pos, "expected =")
	}

	if p.peek().code == identifierToken && !p.keyword("true", "false", "null") {
		src, err := p.identifier()
		if err != nil {
			return plan.Assignment{}, err
		}
		source, err := p.resolve(src)
		if err != nil {
			return plan.Assignment{}, err
		}
		op, err := p.expectCode(arithmeticToken, "+ or -")
		if err != nil {
			return plan.Assignment{}, err
		}
		v, err := p.value()
		if err != nil {
			return plan.Assignment{}, err
		}
		return plan.Assignment{Field: field, Source: source, Operator: op.text, Value: v}, nil
	}

	v, err := p.value()
	if err != nil {
		return plan.Assignment{}, err
	}
	return plan.Assignment{Field: field, Value: v}, nil
}

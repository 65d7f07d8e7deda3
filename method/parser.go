package method

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/query"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

var subjects = []struct {
	prefix  string
	subject Subject
}{
	{"find", SubjectFind},
	{"read", SubjectFind},
	{"get", SubjectFind},
	{"query", SubjectFind},
	{"count", SubjectCount},
	{"delete", SubjectDelete},
	{"remove", SubjectDelete},
}

var shapeKeywords = map[string]plan.ResultShape{
	"List":     plan.ShapeManyList,
	"Optional": plan.ShapeSingleOptional,
	"Page":     plan.ShapePage,
	"Slice":    plan.ShapeSlice,
}

type operator struct {
	keyword string
	op      query.Operator
	in      bool
}

// 按关键字长度从长到短匹配
var operators = func() []operator {
	ops := []operator{
		{"GreaterThanEqual", query.OpGte, false},
		{"LessThanEqual", query.OpLte, false},
		{"GreaterThan", query.OpGt, false},
		{"LessThan", query.OpLt, false},
		{"Between", query.OpBetween, false},
		{"IsNotNull", query.OpIsNotNull, false},
		{"NotNull", query.OpIsNotNull, false},
		{"IsNull", query.OpIsNull, false},
		{"Null", query.OpIsNull, false},
		{"NotLike", query.OpNotLike, false},
		{"Like", query.OpLike, false},
		{"IsNot", query.OpNe, false},
		{"Not", query.OpNe, false},
		{"In", "", true},
		{"Equals", query.OpEq, false},
		{"Is", query.OpEq, false},
	}
	sort.SliceStable(ops, func(i, j int) bool { return len(ops[i].keyword) > len(ops[j].keyword) })
	return ops
}()

type candidate struct {
	token string
	path  string
}

type clause struct {
	path string
	op   operator
	or   bool
}

// Parse 解析方法签名，所有字段都按实体元数据解析
func Parse(reg *schema.Registry, entity string, sig Signature) (*Declaration, error) {
	e, err := reg.Resolve(entity)
	if err != nil {
		return nil, err
	}
	p := &parser{reg: reg, entity: e, sig: sig}
	return p.parse()
}

type parser struct {
	reg        *schema.Registry
	entity     *schema.Entity
	sig        Signature
	candidates []candidate
}

func (p *parser) malformed(format string, args ...any) error {
	return errors.Wrapf(errs.ErrMalformedQueryName, "%s.%s: %s", p.entity.Name, p.sig.Name, fmt.Sprintf(format, args...))
}

func (p *parser) parse() (*Declaration, error) {
	name := p.sig.Name
	decl := &Declaration{Entity: p.entity.Name, Subject: -1}
	var rest string
	for _, s := range subjects {
		if strings.HasPrefix(name, s.prefix) && boundary(name, len(s.prefix)) {
			decl.Subject = s.subject
			rest = name[len(s.prefix):]
			break
		}
	}
	if decl.Subject < 0 {
		return nil, p.malformed("unknown subject")
	}

	var err error
	if p.candidates, err = buildCandidates(p.reg, p.entity); err != nil {
		return nil, err
	}

	subject, predicate, order := split(rest)

	clauses, err := p.parseClauses(predicate)
	if err != nil {
		return nil, err
	}
	if decl.Sort, err = p.parseOrder(order); err != nil {
		return nil, err
	}
	if decl.Shape, err = p.shape(decl.Subject, subject); err != nil {
		return nil, err
	}
	if decl.Params, err = p.params(clauses, decl.Shape); err != nil {
		return nil, err
	}
	if decl.Predicate, err = p.predicate(clauses, decl.Params); err != nil {
		return nil, err
	}
	return decl, nil
}

// split 把方法名拆成主题词、条件和排序三部分
func split(rest string) (subject string, predicate string, order string) {
	idx := indexKeyword(rest, "By", 0)
	if idx < 0 {
		return rest, "", ""
	}
	if strings.HasSuffix(rest[:idx], "Order") {
		return rest[:idx-len("Order")], "", rest[idx+len("By"):]
	}
	subject, predicate = rest[:idx], rest[idx+len("By"):]
	if o := indexKeyword(predicate, "OrderBy", 0); o >= 0 {
		return subject, predicate[:o], predicate[o+len("OrderBy"):]
	}
	return subject, predicate, ""
}

// indexKeyword 查找后面紧跟大写字母或者结尾的关键字
func indexKeyword(s string, keyword string, from int) int {
	for i := from; i+len(keyword) <= len(s); i++ {
		if strings.HasPrefix(s[i:], keyword) && boundary(s, i+len(keyword)) {
			return i
		}
	}
	return -1
}

func boundary(s string, i int) bool {
	return i == len(s) || unicode.IsUpper(rune(s[i]))
}

func buildCandidates(reg *schema.Registry, e *schema.Entity) ([]candidate, error) {
	var candidates []candidate
	for _, f := range e.Fields {
		switch f.Relation {
		case schema.None:
			candidates = append(candidates, candidate{token: schema.UpperCamel(f.Name), path: f.Name})
		case schema.ToOne:
			target, err := reg.Resolve(f.Target)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, candidate{token: schema.UpperCamel(f.Name), path: f.Name + "." + target.ID})
			for _, sub := range target.Scalars() {
				candidates = append(candidates, candidate{
					token: schema.UpperCamel(f.Name) + schema.UpperCamel(sub.Name),
					path:  f.Name + "." + sub.Name,
				})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i].token) > len(candidates[j].token) })
	return candidates, nil
}

// clauseEnd 条件结束：字符串结尾，或者 And/Or 连接下一个条件。只剩 And/Or 时 dangling
func clauseEnd(s string) (rest string, or bool, dangling bool, ok bool) {
	switch {
	case s == "":
		return "", false, false, true
	case s == "And" || s == "Or":
		return "", s == "Or", true, true
	case strings.HasPrefix(s, "And") && len(s) > 3 && boundary(s, 3):
		return s[3:], false, false, true
	case strings.HasPrefix(s, "Or") && len(s) > 2 && boundary(s, 2):
		return s[2:], true, false, true
	}
	return "", false, false, false
}

func (p *parser) parseClauses(s string) ([]clause, error) {
	var clauses []clause
	or := false
	for s != "" {
		c, rest, nextOr, err := p.parseClause(s)
		if err != nil {
			return nil, err
		}
		c.or = or
		clauses = append(clauses, c)
		s, or = rest, nextOr
		if s == "" && or {
			return nil, p.malformed("dangling connector")
		}
	}
	return clauses, nil
}

func (p *parser) parseClause(s string) (clause, string, bool, error) {
	for _, c := range p.candidates {
		if !strings.HasPrefix(s, c.token) {
			continue
		}
		after := s[len(c.token):]
		if rest, or, dangling, ok := clauseEnd(after); ok {
			if dangling {
				return clause{}, "", false, p.malformed("dangling connector")
			}
			return clause{path: c.path, op: operator{op: query.OpEq}}, rest, or, nil
		}
		for _, op := range operators {
			if !strings.HasPrefix(after, op.keyword) {
				continue
			}
			if rest, or, dangling, ok := clauseEnd(after[len(op.keyword):]); ok {
				if dangling {
					return clause{}, "", false, p.malformed("dangling connector")
				}
				return clause{path: c.path, op: op}, rest, or, nil
			}
		}
	}
	return clause{}, "", false, errors.Wrapf(errs.ErrUnknownField, "%s.%s: cannot resolve %q", p.entity.Name, p.sig.Name, s)
}

func (p *parser) parseOrder(s string) (plan.Sort, error) {
	var orders plan.Sort
	for s != "" {
		matched := false
		for _, c := range p.candidates {
			if !strings.HasPrefix(s, c.token) {
				continue
			}
			after := s[len(c.token):]
			order := plan.By(c.path)
			switch {
			case strings.HasPrefix(after, "Desc") && boundary(after, 4):
				order.Direction = plan.Desc
				after = after[4:]
			case strings.HasPrefix(after, "Asc") && boundary(after, 3):
				after = after[3:]
			}
			if after != "" && !p.startsCandidate(after) {
				continue
			}
			orders = append(orders, order)
			s, matched = after, true
			break
		}
		if !matched {
			return nil, errors.Wrapf(errs.ErrUnknownField, "%s.%s: cannot resolve order %q", p.entity.Name, p.sig.Name, s)
		}
	}
	return orders, nil
}

func (p *parser) startsCandidate(s string) bool {
	for _, c := range p.candidates {
		if strings.HasPrefix(s, c.token) {
			return true
		}
	}
	return false
}

func (p *parser) shape(subject Subject, word string) (plan.ResultShape, error) {
	returns := p.sig.Returns
	switch subject {
	case SubjectCount:
		if returns != ReturnUnspecified && returns != ReturnCount {
			return 0, p.malformed("count query cannot return %d", returns)
		}
		return plan.ShapeCount, nil
	case SubjectDelete:
		if returns != ReturnUnspecified && returns != ReturnCount {
			return 0, p.malformed("delete query returns the affected count")
		}
		return plan.ShapeCount, nil
	}

	if shape, ok := shapeKeywords[word]; ok {
		if returns != ReturnUnspecified && returns != shapeReturn[shape] {
			return 0, p.malformed("subject %s conflicts with declared return", word)
		}
		return shape, nil
	}
	switch returns {
	case ReturnUnspecified, ReturnSequence:
		return plan.ShapeManyList, nil
	case ReturnSingle:
		return plan.ShapeSingle, nil
	case ReturnOptional:
		return plan.ShapeSingleOptional, nil
	case ReturnPage:
		return plan.ShapePage, nil
	case ReturnSlice:
		return plan.ShapeSlice, nil
	}
	return 0, p.malformed("find query cannot return a count")
}

var shapeReturn = map[plan.ResultShape]ReturnKind{
	plan.ShapeManyList:       ReturnSequence,
	plan.ShapeSingleOptional: ReturnOptional,
	plan.ShapePage:           ReturnPage,
	plan.ShapeSlice:          ReturnSlice,
}

// params 校验声明的参数，没有声明时按条件推断
func (p *parser) params(clauses []clause, shape plan.ResultShape) ([]plan.Param, error) {
	paged := shape == plan.ShapePage || shape == plan.ShapeSlice
	if p.sig.Params == nil {
		var params []plan.Param
		for _, c := range clauses {
			name := strings.ReplaceAll(c.path, ".", "_")
			switch {
			case c.op.in:
				params = append(params, plan.Collection(name))
			case c.op.op == query.OpBetween:
				params = append(params, plan.Scalar(name+"_from"), plan.Scalar(name+"_to"))
			default:
				for i := 0; i < c.op.op.Arity(); i++ {
					params = append(params, plan.Scalar(name))
				}
			}
		}
		if paged {
			params = append(params, plan.Pageable("page"))
		}
		return params, nil
	}

	hasPage := false
	for _, param := range p.sig.Params {
		if param.Kind == plan.ParamPage {
			hasPage = true
		}
	}
	if paged && !hasPage {
		return nil, p.malformed("%s query requires a page parameter", shape)
	}
	return p.sig.Params, nil
}

func (p *parser) predicate(clauses []clause, params []plan.Param) (query.Node, error) {
	var values []plan.Param
	for _, param := range params {
		if param.Bindable() {
			values = append(values, param)
		}
	}

	nodes := make([]query.Node, 0, len(clauses))
	next := 0
	take := func(c clause, collection bool) (query.Ref, error) {
		if next >= len(values) {
			return query.Ref{}, p.malformed("not enough parameters for %s", c.path)
		}
		param := values[next]
		if collection != (param.Kind == plan.ParamCollection) {
			return query.Ref{}, errors.Wrapf(errs.ErrTypeMismatch, "%s.%s: parameter %s (%s) bound to %s",
				p.entity.Name, p.sig.Name, param.Name, param.Kind, c.path)
		}
		next++
		return query.Positional(next - 1), nil
	}

	for _, c := range clauses {
		if c.op.in {
			ref, err := take(c, true)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &query.In{Field: c.path, Values: ref})
			continue
		}
		refs := make([]query.Ref, 0, c.op.op.Arity())
		for i := 0; i < c.op.op.Arity(); i++ {
			ref, err := take(c, false)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		nodes = append(nodes, &query.Comparison{Field: c.path, Operator: c.op.op, Values: refs})
	}
	if next != len(values) {
		return nil, p.malformed("%d parameters declared, %d consumed", len(values), next)
	}
	return group(clauses, nodes), nil
}

// group 没有 Or 时所有条件放在一个 And 里；有 Or 时从左到右折叠
func group(clauses []clause, nodes []query.Node) query.Node {
	if len(nodes) == 0 {
		return nil
	}
	hasOr := false
	for _, c := range clauses {
		hasOr = hasOr || c.or
	}
	if !hasOr {
		return &query.And{Nodes: nodes}
	}

	acc := nodes[0]
	for i := 1; i < len(nodes); i++ {
		if clauses[i].or {
			if o, ok := acc.(*query.Or); ok {
				o.Nodes = append(o.Nodes, nodes[i])
				continue
			}
			acc = &query.Or{Nodes: []query.Node{acc, nodes[i]}}
			continue
		}
		if a, ok := acc.(*query.And); ok {
			a.Nodes = append(a.Nodes, nodes[i])
			continue
		}
		acc = &query.And{Nodes: []query.Node{acc, nodes[i]}}
	}
	return acc
}

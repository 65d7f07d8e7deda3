package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/hatlonely/repox/cfg"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

// ESOptions Elasticsearch 连接选项
type ESOptions struct {
	Addresses  []string      `cfg:"addresses" def:"http://localhost:9200"`
	Username   string        `cfg:"username"`
	Password   string        `cfg:"password"`
	APIKey     string        `cfg:"apiKey"`
	Timeout    time.Duration `cfg:"timeout" def:"30s"`
	MaxRetries int           `cfg:"maxRetries" def:"3"`

	// 没有 limit 的查询最多返回的文档数
	MaxResultWindow int `cfg:"maxResultWindow" def:"10000"`
}

// ES 每个实体一个索引，文档字段用列名。不支持连接和关联抓取
type ES struct {
	reg    *schema.Registry
	client *elasticsearch.Client
	window int
}

// NewES client 为 nil 时只能生成请求体
func NewES(reg *schema.Registry, client *elasticsearch.Client) *ES {
	return &ES{reg: reg, client: client, window: 10000}
}

func NewESWithOptions(opts *ESOptions) (*ES, error) {
	if err := cfg.SetDefaults(opts); err != nil {
		return nil, err
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		APIKey:    opts.APIKey,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: opts.Timeout,
		},
		MaxRetries: opts.MaxRetries,
	})
	if err != nil {
		return nil, errors.Wrap(err, "elasticsearch.NewClient failed")
	}

	res, err := client.Info()
	if err != nil {
		return nil, errors.Wrap(err, "client.Info failed")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, errors.Errorf("elasticsearch connection error: %s", res.String())
	}

	return &ES{client: client, window: opts.MaxResultWindow}, nil
}

func (s *ES) attach(reg *schema.Registry) error {
	s.reg = reg
	return nil
}

func (s *ES) field(e *schema.Entity) func(field string) (string, error) {
	return func(field string) (string, error) {
		c, err := resolveColumn(s.reg, e, field)
		if err != nil {
			return "", err
		}
		if c.Relation != "" {
			return "", errors.Wrapf(errs.ErrUnsupported, "%s.%s: elasticsearch cannot join", e.Name, field)
		}
		return c.Column, nil
	}
}

func (s *ES) queryBody(e *schema.Entity, p *plan.QueryPlan) (map[string]any, error) {
	if len(p.Joins) > 0 {
		return nil, errors.Wrapf(errs.ErrUnsupported, "%s: elasticsearch cannot join", e.Name)
	}
	if p.Predicate == nil {
		return map[string]any{"match_all": map[string]any{}}, nil
	}
	q, err := p.Predicate.ToES(s.field(e))
	if err != nil {
		return nil, errors.WithMessagef(err, "render %s predicate", e.Name)
	}
	return q, nil
}

// searchBody 查询请求体
func (s *ES) searchBody(e *schema.Entity, p *plan.QueryPlan) (map[string]any, error) {
	toMany, err := toManyFetches(s.reg, e, p)
	if err != nil {
		return nil, err
	}
	if len(toMany) > 0 {
		return nil, errors.Wrapf(errs.ErrUnsupported, "%s.%s: elasticsearch cannot fetch relations", e.Name, toMany[0].Name)
	}
	q, err := s.queryBody(e, p)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"query": q, "from": p.Offset}
	if p.Limit > 0 {
		body["size"] = p.Limit
	} else {
		body["size"] = s.window
	}
	if len(p.Sort) > 0 {
		var sort []any
		for _, o := range p.Sort {
			field, err := s.field(e)(o.Field)
			if err != nil {
				return nil, err
			}
			sort = append(sort, map[string]any{field: map[string]any{"order": o.Direction.String()}})
		}
		body["sort"] = sort
	}
	return body, nil
}

func (s *ES) Execute(ctx context.Context, p *plan.QueryPlan) ([]Row, error) {
	e, err := s.reg.Resolve(p.Entity)
	if err != nil {
		return nil, err
	}
	body, err := s.searchBody(e, p)
	if err != nil {
		return nil, err
	}
	columns, err := outputColumns(s.reg, e, p)
	if err != nil {
		return nil, err
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	req := esapi.SearchRequest{Index: []string{e.Table}, Body: encode(body)}
	if err := s.do(ctx, "execute", req, &result); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		row := make(Row, len(columns))
		for _, c := range columns {
			v, err := normalize(c.Field, hit.Source[c.Column])
			if err != nil {
				return nil, err
			}
			row[c.Key] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *ES) ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	e, err := s.reg.Resolve(p.Entity)
	if err != nil {
		return 0, err
	}
	q, err := s.queryBody(e, p)
	if err != nil {
		return 0, err
	}
	var result struct {
		Count int64 `json:"count"`
	}
	req := esapi.CountRequest{Index: []string{e.Table}, Body: encode(map[string]any{"query": q})}
	if err := s.do(ctx, "count", req, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// script 把赋值翻译成 painless 脚本
func (s *ES) script(e *schema.Entity, mod *plan.Modification) (map[string]any, error) {
	var lines []string
	params := map[string]any{}
	for i, a := range mod.Assignments {
		if !a.Value.Bound() {
			return nil, errors.Wrapf(errs.ErrUnboundParameter, "%s.%s = %s", e.Name, a.Field, a.Value)
		}
		target, err := s.field(e)(a.Field)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("p%d", i)
		params[name] = a.Value.Value
		if a.Source == "" {
			lines = append(lines, fmt.Sprintf("ctx._source.%s = params.%s", target, name))
			continue
		}
		source, err := s.field(e)(a.Source)
		if err != nil {
			return nil, err
		}
		if a.Operator != "+" && a.Operator != "-" {
			return nil, errors.Wrapf(errs.ErrUnsupported, "operator %q", a.Operator)
		}
		lines = append(lines, fmt.Sprintf("ctx._source.%s = ctx._source.%s %s params.%s", target, source, a.Operator, name))
	}
	return map[string]any{"source": strings.Join(lines, "; "), "lang": "painless", "params": params}, nil
}

func (s *ES) ExecuteModification(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	if !p.IsBulkModification || p.Modification == nil {
		return 0, errors.Errorf("%s: plan is not a bulk modification", p.Entity)
	}
	e, err := s.reg.Resolve(p.Entity)
	if err != nil {
		return 0, err
	}
	q, err := s.queryBody(e, p)
	if err != nil {
		return 0, err
	}
	refresh := true

	var result struct {
		Deleted int64 `json:"deleted"`
		Updated int64 `json:"updated"`
	}
	if p.Modification.Kind == plan.ModifyDelete {
		req := esapi.DeleteByQueryRequest{Index: []string{e.Table}, Body: encode(map[string]any{"query": q}), Refresh: &refresh}
		if err := s.do(ctx, "modify", req, &result); err != nil {
			return 0, err
		}
		return result.Deleted, nil
	}

	script, err := s.script(e, p.Modification)
	if err != nil {
		return 0, err
	}
	req := esapi.UpdateByQueryRequest{Index: []string{e.Table}, Body: encode(map[string]any{"query": q, "script": script}), Refresh: &refresh}
	if err := s.do(ctx, "modify", req, &result); err != nil {
		return 0, err
	}
	return result.Updated, nil
}

// Insert 主键作为文档 id，字符串主键为空时使用 Elasticsearch 生成的 id
func (s *ES) Insert(ctx context.Context, e *schema.Entity, row Row) (any, error) {
	columns, err := rootColumns(s.reg, e)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	for _, c := range columns {
		v, err := normalize(c.Field, row[c.Key])
		if err != nil {
			return nil, err
		}
		doc[c.Column] = v
	}

	idColumn := e.IDField().Column
	id := doc[idColumn]
	if id == nil && e.IDField().Type == schema.TypeInt {
		return nil, errors.Errorf("%s: id is required", e.Name)
	}
	req := esapi.IndexRequest{Index: e.Table, Body: encode(doc), Refresh: "true"}
	if id != nil {
		req.DocumentID = fmt.Sprint(id)
	}
	var result struct {
		ID string `json:"_id"`
	}
	if err := s.do(ctx, "insert", req, &result); err != nil {
		return nil, err
	}
	if id == nil {
		return result.ID, nil
	}
	return id, nil
}

func (s *ES) do(ctx context.Context, op string, req esapi.Request, out any) error {
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return errs.Storage(op, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errs.Storage(op, errors.Errorf("elasticsearch error: %s", res.String()))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errs.Storage(op, errors.Wrap(err, "decode response"))
	}
	return nil
}

func encode(v any) *bytes.Reader {
	data, _ := json.Marshal(v)
	return bytes.NewReader(data)
}

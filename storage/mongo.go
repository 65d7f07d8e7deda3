package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/repox/cfg"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoOptions MongoDB 连接选项
type MongoOptions struct {
	URI         string        `cfg:"uri"`
	Host        string        `cfg:"host" def:"localhost"`
	Port        int           `cfg:"port" def:"27017"`
	Database    string        `cfg:"database" validate:"required"`
	Username    string        `cfg:"username"`
	Password    string        `cfg:"password"`
	AuthSource  string        `cfg:"authSource" def:"admin"`
	Timeout     time.Duration `cfg:"timeout" def:"30s"`
	MaxPoolSize uint64        `cfg:"maxPoolSize" def:"100"`
	MinPoolSize uint64        `cfg:"minPoolSize" def:"0"`
}

// Mongo 每个实体一个集合，文档字段用列名。连接通过 $lookup 实现
type Mongo struct {
	reg      *schema.Registry
	client   *mongo.Client
	database *mongo.Database
}

// NewMongo database 为 nil 时只能生成 pipeline
func NewMongo(reg *schema.Registry, database *mongo.Database) *Mongo {
	return &Mongo{reg: reg, database: database}
}

func NewMongoWithOptions(opts *MongoOptions) (*Mongo, error) {
	if err := cfg.SetDefaults(opts); err != nil {
		return nil, err
	}
	uri := opts.URI
	if uri == "" {
		if opts.Username != "" && opts.Password != "" {
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d/%s?authSource=%s",
				opts.Username, opts.Password, opts.Host, opts.Port, opts.Database, opts.AuthSource)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d/%s", opts.Host, opts.Port, opts.Database)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetMaxPoolSize(opts.MaxPoolSize)
	clientOptions.SetMinPoolSize(opts.MinPoolSize)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "mongo.Connect failed")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "client.Ping failed")
	}

	return &Mongo{client: client, database: client.Database(opts.Database)}, nil
}

func (m *Mongo) attach(reg *schema.Registry) error {
	m.reg = reg
	return nil
}

func (m *Mongo) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(context.Background())
}

// path 字段路径对应的文档路径，关联字段位于以关联名命名的子文档
func (m *Mongo) path(e *schema.Entity) func(field string) (string, error) {
	return func(field string) (string, error) {
		c, err := resolveColumn(m.reg, e, field)
		if err != nil {
			return "", err
		}
		if c.Relation == "" {
			return c.Column, nil
		}
		return c.Relation + "." + c.Column, nil
	}
}

// filterStages 连接和过滤
func (m *Mongo) filterStages(e *schema.Entity, p *plan.QueryPlan) (mongo.Pipeline, error) {
	var pipeline mongo.Pipeline
	for _, j := range p.Joins {
		f, target, err := m.reg.ResolveRelation(e, j.Path)
		if err != nil {
			return nil, err
		}
		if f.Relation != schema.ToOne {
			return nil, errors.Wrapf(errs.ErrUnsupported, "%s.%s: join on a to-many relation", e.Name, j.Path)
		}
		pipeline = append(pipeline,
			bson.D{{Key: "$lookup", Value: bson.D{
				{Key: "from", Value: target.Table},
				{Key: "localField", Value: f.JoinColumn},
				{Key: "foreignField", Value: target.IDField().Column},
				{Key: "as", Value: f.Name},
			}}},
			bson.D{{Key: "$unwind", Value: bson.D{
				{Key: "path", Value: "$" + f.Name},
				{Key: "preserveNullAndEmptyArrays", Value: j.Kind == plan.JoinLeft},
			}}},
		)
	}
	if p.Predicate != nil {
		filter, err := p.Predicate.ToMongo(m.path(e))
		if err != nil {
			return nil, errors.WithMessagef(err, "render %s predicate", e.Name)
		}
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: filter}})
	}
	return pipeline, nil
}

// pipeline 查询的完整 aggregate pipeline
func (m *Mongo) pipeline(e *schema.Entity, p *plan.QueryPlan) (mongo.Pipeline, error) {
	pipeline, err := m.filterStages(e, p)
	if err != nil {
		return nil, err
	}
	if len(p.Sort) > 0 {
		var sort bson.D
		for _, o := range p.Sort {
			path, err := m.path(e)(o.Field)
			if err != nil {
				return nil, err
			}
			direction := 1
			if o.Direction == plan.Desc {
				direction = -1
			}
			sort = append(sort, bson.E{Key: path, Value: direction})
		}
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sort}})
	}
	if p.Offset > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64(p.Offset)}})
	}
	if p.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(p.Limit)}})
	}

	toMany, err := toManyFetches(m.reg, e, p)
	if err != nil {
		return nil, err
	}
	for _, f := range toMany {
		target, err := m.reg.Resolve(f.Target)
		if err != nil {
			return nil, err
		}
		back, _ := target.Field(f.MappedBy)
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: target.Table},
			{Key: "localField", Value: e.IDField().Column},
			{Key: "foreignField", Value: back.JoinColumn},
			{Key: "as", Value: f.Name},
		}}})
	}
	return pipeline, nil
}

func (m *Mongo) Execute(ctx context.Context, p *plan.QueryPlan) ([]Row, error) {
	e, err := m.reg.Resolve(p.Entity)
	if err != nil {
		return nil, err
	}
	pipeline, err := m.pipeline(e, p)
	if err != nil {
		return nil, err
	}
	columns, err := outputColumns(m.reg, e, p)
	if err != nil {
		return nil, err
	}
	toMany, err := toManyFetches(m.reg, e, p)
	if err != nil {
		return nil, err
	}

	cursor, err := m.database.Collection(e.Table).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errs.Storage("execute", err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errs.Storage("execute", err)
	}

	rows := make([]Row, 0, len(docs))
	for _, doc := range docs {
		row, err := m.decode(doc, columns)
		if err != nil {
			return nil, err
		}
		for _, f := range toMany {
			if row[f.Name], err = m.decodeChildren(f, doc[f.Name]); err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *Mongo) decode(doc bson.M, columns []column) (Row, error) {
	row := make(Row, len(columns))
	for _, c := range columns {
		var v any
		if c.Relation == "" {
			v = doc[c.Column]
		} else if sub, ok := document(doc[c.Relation]); ok {
			v = sub[c.Column]
		}
		if dt, ok := v.(primitive.DateTime); ok {
			v = dt.Time()
		}
		nv, err := normalize(c.Field, v)
		if err != nil {
			return nil, err
		}
		row[c.Key] = nv
	}
	return row, nil
}

func document(v any) (bson.M, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case bson.D:
		m := make(bson.M, len(d))
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}

func (m *Mongo) decodeChildren(f schema.Field, v any) ([]Row, error) {
	target, err := m.reg.Resolve(f.Target)
	if err != nil {
		return nil, err
	}
	columns, err := rootColumns(m.reg, target)
	if err != nil {
		return nil, err
	}
	children := []Row{}
	items, _ := v.(bson.A)
	for _, item := range items {
		doc, ok := document(item)
		if !ok {
			continue
		}
		child, err := m.decode(doc, columns)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func (m *Mongo) ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	e, err := m.reg.Resolve(p.Entity)
	if err != nil {
		return 0, err
	}
	pipeline, err := m.filterStages(e, p)
	if err != nil {
		return 0, err
	}
	pipeline = append(pipeline, bson.D{{Key: "$count", Value: "n"}})

	cursor, err := m.database.Collection(e.Table).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, errs.Storage("count", err)
	}
	var result []struct {
		N int64 `bson:"n"`
	}
	if err := cursor.All(ctx, &result); err != nil {
		return 0, errs.Storage("count", err)
	}
	if len(result) == 0 {
		return 0, nil
	}
	return result[0].N, nil
}

// update 用 pipeline 形式的更新表达 field = source (+|-) value
func (m *Mongo) update(e *schema.Entity, mod *plan.Modification) (mongo.Pipeline, error) {
	var set bson.D
	for _, a := range mod.Assignments {
		if !a.Value.Bound() {
			return nil, errors.Wrapf(errs.ErrUnboundParameter, "%s.%s = %s", e.Name, a.Field, a.Value)
		}
		target, err := m.path(e)(a.Field)
		if err != nil {
			return nil, err
		}
		var value any = bson.D{{Key: "$literal", Value: a.Value.Value}}
		if a.Source != "" {
			source, err := m.path(e)(a.Source)
			if err != nil {
				return nil, err
			}
			switch a.Operator {
			case "+":
				value = bson.D{{Key: "$add", Value: bson.A{"$" + source, a.Value.Value}}}
			case "-":
				value = bson.D{{Key: "$subtract", Value: bson.A{"$" + source, a.Value.Value}}}
			default:
				return nil, errors.Wrapf(errs.ErrUnsupported, "operator %q", a.Operator)
			}
		}
		set = append(set, bson.E{Key: target, Value: value})
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}, nil
}

func (m *Mongo) modificationFilter(e *schema.Entity, p *plan.QueryPlan) (any, error) {
	if !p.IsBulkModification || p.Modification == nil {
		return nil, errors.Errorf("%s: plan is not a bulk modification", p.Entity)
	}
	if len(p.Joins) > 0 {
		return nil, errors.Wrapf(errs.ErrUnsupported, "%s: bulk modification with joins", e.Name)
	}
	if p.Predicate == nil {
		return bson.M{}, nil
	}
	filter, err := p.Predicate.ToMongo(m.path(e))
	if err != nil {
		return nil, errors.WithMessagef(err, "render %s predicate", e.Name)
	}
	return filter, nil
}

func (m *Mongo) ExecuteModification(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	e, err := m.reg.Resolve(p.Entity)
	if err != nil {
		return 0, err
	}
	filter, err := m.modificationFilter(e, p)
	if err != nil {
		return 0, err
	}
	collection := m.database.Collection(e.Table)

	if p.Modification.Kind == plan.ModifyDelete {
		res, err := collection.DeleteMany(ctx, filter)
		if err != nil {
			return 0, errs.Storage("modify", err)
		}
		return res.DeletedCount, nil
	}

	update, err := m.update(e, p.Modification)
	if err != nil {
		return 0, err
	}
	res, err := collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, errs.Storage("modify", err)
	}
	return res.MatchedCount, nil
}

// Insert 整数主键为空时从 counters 集合取下一个值
func (m *Mongo) Insert(ctx context.Context, e *schema.Entity, row Row) (any, error) {
	columns, err := rootColumns(m.reg, e)
	if err != nil {
		return nil, err
	}
	doc := bson.M{}
	for _, c := range columns {
		v, err := normalize(c.Field, row[c.Key])
		if err != nil {
			return nil, err
		}
		doc[c.Column] = v
	}

	idColumn := e.IDField().Column
	if doc[idColumn] == nil {
		if e.IDField().Type != schema.TypeInt && e.IDField().Type != schema.TypeAny {
			return nil, errors.Errorf("%s: id is required", e.Name)
		}
		var counter struct {
			Seq int64 `bson:"seq"`
		}
		err := m.database.Collection("counters").FindOneAndUpdate(ctx,
			bson.M{"_id": e.Table},
			bson.M{"$inc": bson.M{"seq": int64(1)}},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&counter)
		if err != nil {
			return nil, errs.Storage("insert", err)
		}
		doc[idColumn] = counter.Seq
	}

	if _, err := m.database.Collection(e.Table).InsertOne(ctx, doc); err != nil {
		return nil, errs.Storage("insert", err)
	}
	return doc[idColumn], nil
}

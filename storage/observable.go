package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hatlonely/repox/cfg"
	"github.com/hatlonely/repox/log"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/ref"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableOptions struct {
	// Storage 被包装的底层存储配置
	Storage *ref.TypeOptions `cfg:"storage" validate:"required"`

	// Logger 日志配置，为空时使用默认日志器
	Logger *log.Options `cfg:"logger"`

	EnableMetrics bool `cfg:"enableMetrics" def:"true"`
	EnableLogging bool `cfg:"enableLogging" def:"true"`
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// Name 指标名前缀，也是日志和 span 的 component
	Name string `cfg:"name" def:"repox_storage"`
}

// ObservableMetrics 存储操作的 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
	resultRows        *prometheus.HistogramVec
}

// NewObservableMetrics 同名指标已注册时复用已有的收集器
func NewObservableMetrics(name string) *ObservableMetrics {
	return &ObservableMetrics{
		operationCounter: registerCollector(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "entity", "status"},
		)),
		operationDuration: registerCollector(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of storage operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation", "entity"},
		)),
		activeOperations: registerCollector(prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of active storage operations",
			},
			[]string{"operation"},
		)),
		resultRows: registerCollector(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_result_rows",
				Help:    "Number of rows returned or affected by storage operations",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"operation"},
		)),
	}
}

func registerCollector[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Observable 装饰器，为任何 Storage 添加指标、日志和追踪
type Observable struct {
	storage Storage

	logger        log.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool
}

func NewObservableWithOptions(options *ObservableOptions) (*Observable, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}
	if options.Storage == nil {
		return nil, errors.New("observable storage requires an underlying storage")
	}

	register()
	typeOptions := *options.Storage
	if typeOptions.Namespace == "" {
		typeOptions.Namespace = "storage"
	}
	s, err := ref.NewWithTypeOptions[Storage](&typeOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create underlying storage")
	}
	return NewObservable(s, options)
}

// NewObservable 包装已有的存储
func NewObservable(s Storage, options *ObservableOptions) (*Observable, error) {
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}
	obs := &Observable{
		storage:       s,
		name:          options.Name,
		enableMetrics: options.EnableMetrics,
		enableLogging: options.EnableLogging,
		enableTracing: options.EnableTracing,
	}

	if options.EnableLogging {
		obs.logger = log.Default()
		if options.Logger != nil {
			l, err := log.NewLoggerWithOptions(options.Logger)
			if err != nil {
				return nil, errors.WithMessage(err, "failed to create logger")
			}
			obs.logger = l
		}
		obs.logger = obs.logger.WithGroup("observableStorage")
	}
	if options.EnableMetrics {
		obs.metrics = NewObservableMetrics(options.Name)
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer(fmt.Sprintf("storage.%s", options.Name))
	}
	return obs, nil
}

func (obs *Observable) attach(reg *schema.Registry) error {
	if a, ok := obs.storage.(attachable); ok {
		return a.attach(reg)
	}
	return nil
}

// Unwrap 返回被包装的存储
func (obs *Observable) Unwrap() Storage {
	return obs.storage
}

func (obs *Observable) Close() error {
	return Close(obs.storage)
}

// observeOperation 统一的操作观测逻辑，fn 返回结果行数
func (obs *Observable) observeOperation(ctx context.Context, operation string, entity string, fn func(context.Context) (int64, error)) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("operation", operation),
				attribute.String("entity", entity),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	n, err := fn(ctx)
	duration := time.Since(start)

	if obs.enableTracing && span != nil {
		span.SetAttributes(
			attribute.Int64("duration_ms", duration.Milliseconds()),
			attribute.Int64("rows", n),
		)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, entity, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation, entity).Observe(duration.Seconds())
		if err == nil {
			obs.metrics.resultRows.WithLabelValues(operation).Observe(float64(n))
		}
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil {
			obs.logger.ErrorContext(ctx, "storage operation failed",
				"component", obs.name,
				"operation", operation,
				"entity", entity,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			obs.logger.InfoContext(ctx, "storage operation completed",
				"component", obs.name,
				"operation", operation,
				"entity", entity,
				"rows", n,
				"duration_ms", duration.Milliseconds(),
			)
		}
	}

	return err
}

func (obs *Observable) Execute(ctx context.Context, p *plan.QueryPlan) ([]Row, error) {
	var rows []Row
	err := obs.observeOperation(ctx, "execute", p.Entity, func(ctx context.Context) (int64, error) {
		var err error
		rows, err = obs.storage.Execute(ctx, p)
		return int64(len(rows)), err
	})
	return rows, err
}

func (obs *Observable) ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	var n int64
	err := obs.observeOperation(ctx, "count", p.Entity, func(ctx context.Context) (int64, error) {
		var err error
		n, err = obs.storage.ExecuteCount(ctx, p)
		return 1, err
	})
	return n, err
}

func (obs *Observable) ExecuteModification(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	var n int64
	err := obs.observeOperation(ctx, "modify", p.Entity, func(ctx context.Context) (int64, error) {
		var err error
		n, err = obs.storage.ExecuteModification(ctx, p)
		return n, err
	})
	return n, err
}

func (obs *Observable) Insert(ctx context.Context, e *schema.Entity, row Row) (any, error) {
	w, ok := obs.storage.(Writer)
	if !ok {
		return nil, errors.Errorf("storage %T does not support insert", obs.storage)
	}
	var id any
	err := obs.observeOperation(ctx, "insert", e.Name, func(ctx context.Context) (int64, error) {
		var err error
		id, err = w.Insert(ctx, e, row)
		return 1, err
	})
	return id, err
}

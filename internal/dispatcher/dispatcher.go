// package dispatcher 将一次逻辑请求分发到所有已启用服务的客户端，
// 并把各客户端的结果合并为统一的响应。
package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/templatequery"
)

// NothingConfiguredMessage 是没有任何服务启用时连通性测试返回的消息。
const NothingConfiguredMessage = "Nothing configured. At least one API service should be configured."

// InstanceConfig 是启用开关名到布尔值的映射，来自持久化的数据源配置。
type InstanceConfig map[string]bool

// Dispatcher 是数据源实例的分发器。
// 每次调用都是独立的，分支之间没有共享的可变状态。
type Dispatcher struct {
	registry []services.Descriptor
	config   InstanceConfig
	pool     *Pool
	logger   *zap.Logger
	metrics  *Metrics
}

// New 创建分发器。config 会被复制，之后的外部修改不会影响分发器。
// metrics 可以为 nil。
func New(registry []services.Descriptor, config InstanceConfig, pool *Pool, logger *zap.Logger, metrics *Metrics) *Dispatcher {
	cfg := make(InstanceConfig, len(config))
	for k, v := range config {
		cfg[k] = v
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		config:   cfg,
		pool:     pool,
		logger:   logger,
		metrics:  metrics,
	}
}

// SelectedServices 按注册表声明顺序返回已启用的服务标识。
func (d *Dispatcher) SelectedServices() []string {
	var selected []string
	for _, desc := range d.registry {
		if !d.config[desc.EnableFlag] {
			continue
		}
		if key, ok := services.ResolveIn(d.registry, desc.Namespace); ok {
			selected = append(selected, key)
		}
	}
	return selected
}

type queryBranch struct {
	service string
	client  services.Client
	req     *services.QueryRequest
}

// Query 将请求按服务拆分后并发发送给各已启用服务的客户端。
// 任一客户端失败时立即返回该错误（不做包装），其余分支的 context 被取消。
// 结果按注册表顺序拼接，与完成顺序无关。
func (d *Dispatcher) Query(ctx context.Context, req *services.QueryRequest) ([]services.TimeSeries, error) {
	var branches []queryBranch
	for _, key := range d.SelectedServices() {
		c, ok := d.pool.Client(key)
		if !ok {
			continue
		}
		sub := req.CloneFor(key)
		if len(sub.Targets) == 0 {
			continue
		}
		branches = append(branches, queryBranch{service: key, client: c, req: sub})
	}
	if len(branches) == 0 {
		return []services.TimeSeries{}, nil
	}

	d.logger.Debug("dispatching query", zap.Int("branches", len(branches)), zap.Int("targets", len(req.Targets)))

	results := make([][]services.TimeSeries, len(branches))
	g, gctx := errgroup.WithContext(ctx)

	var (
		errMu    sync.Mutex
		firstErr error
	)
	for i, b := range branches {
		g.Go(func() error {
			series, err := d.queryOne(gctx, b)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return err
			}
			results[i] = series
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	// 不等待其余分支：第一个失败会取消 gctx。
	select {
	case <-done:
	case <-gctx.Done():
	}

	errMu.Lock()
	err := firstErr
	errMu.Unlock()
	if err != nil {
		d.logger.Warn("query dispatch failed", zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Wait 返回时也会取消 gctx，此时 done 可能尚未关闭。
	<-done

	total := 0
	for _, r := range results {
		total += len(r)
	}
	merged := make([]services.TimeSeries, 0, total)
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

// queryOne 在分支 goroutine 中调用客户端，把 panic 转换为该分支的错误。
func (d *Dispatcher) queryOne(ctx context.Context, b queryBranch) (series []services.TimeSeries, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("query panicked", zap.String("service", b.service), zap.Any("panic", r))
			series, err = nil, fmt.Errorf("%s query panicked: %v", b.service, r)
		}
		d.metrics.observe(b.service, "query", outcomeOf(err), start)
	}()
	return b.client.Query(ctx, b.req)
}

// MetricFindQuery 为模板变量查询返回可选值。只访问由命名空间确定的单个客户端，
// 与启用配置无关。查询不完整或命名空间未知时返回空列表。
func (d *Dispatcher) MetricFindQuery(ctx context.Context, raw string) ([]services.Option, error) {
	params := templatequery.Parse(raw)
	if len(params) == 0 || params[templatequery.KeyNamespace] == "" || params[templatequery.KeyAction] == "" {
		return []services.Option{}, nil
	}

	key, ok := services.ResolveIn(d.registry, params[templatequery.KeyNamespace])
	if !ok {
		d.logger.Debug("template query for unknown namespace", zap.String("namespace", params[templatequery.KeyNamespace]))
		return []services.Option{}, nil
	}
	c, ok := d.pool.Client(key)
	if !ok {
		return []services.Option{}, nil
	}

	start := time.Now()
	opts, err := c.MetricFindQuery(ctx, params)
	d.metrics.observe(key, "metric_find", outcomeOf(err), start)
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		return []services.Option{}, nil
	}
	return opts, nil
}

// Regions 直接委派给 serviceKey 对应的客户端。
func (d *Dispatcher) Regions(ctx context.Context, serviceKey string) ([]services.Option, error) {
	c, ok := d.pool.Client(serviceKey)
	if !ok {
		return []services.Option{}, nil
	}
	return c.Regions(ctx)
}

// Metrics 直接委派给 serviceKey 对应的客户端。
func (d *Dispatcher) Metrics(ctx context.Context, serviceKey, region string) ([]services.Option, error) {
	c, ok := d.pool.Client(serviceKey)
	if !ok {
		return []services.Option{}, nil
	}
	return c.Metrics(ctx, region)
}

// Instances 直接委派给 serviceKey 对应的客户端。
func (d *Dispatcher) Instances(ctx context.Context, serviceKey, region string, params map[string]string) ([]services.Option, error) {
	c, ok := d.pool.Client(serviceKey)
	if !ok {
		return []services.Option{}, nil
	}
	return c.Instances(ctx, region, params)
}

// Zones 委派给支持可用区的客户端；不支持该能力的服务返回空列表。
func (d *Dispatcher) Zones(ctx context.Context, serviceKey, region string) ([]services.Option, error) {
	zl, ok := d.pool.ZoneLister(serviceKey)
	if !ok {
		return []services.Option{}, nil
	}
	return zl.Zones(ctx, region)
}

// TestDatasource 并发测试所有已启用服务的连通性，并等待全部完成。
// 单个服务失败不会中断其他服务的测试。
func (d *Dispatcher) TestDatasource(ctx context.Context) services.Status {
	type branch struct {
		service string
		client  services.Client
	}
	var branches []branch
	for _, key := range d.SelectedServices() {
		if c, ok := d.pool.Client(key); ok {
			branches = append(branches, branch{service: key, client: c})
		}
	}
	if len(branches) == 0 {
		return services.Status{
			Status:  services.StatusError,
			Message: NothingConfiguredMessage,
			Title:   services.Title(services.StatusError),
		}
	}

	statuses := make([]services.Status, len(branches))
	var g errgroup.Group
	for i, b := range branches {
		g.Go(func() error {
			statuses[i] = d.testOne(ctx, b.service, b.client)
			return nil
		})
	}
	_ = g.Wait()

	overall := ReduceStatuses(statuses)
	if overall.Status != services.StatusSuccess {
		d.logger.Warn("datasource test reported failures", zap.String("status", overall.Status))
	}
	return overall
}

func (d *Dispatcher) testOne(ctx context.Context, service string, c services.Client) (st services.Status) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("connectivity test panicked", zap.String("service", service), zap.Any("panic", r))
			st = services.Status{
				Status:  services.StatusError,
				Message: fmt.Sprintf("%s connectivity test panicked: %v", service, r),
			}
		}
		outcome := "ok"
		if st.Status != services.StatusSuccess {
			outcome = "error"
		}
		d.metrics.observe(service, "test", outcome, start)
	}()
	return c.TestDatasource(ctx)
}

// ReduceStatuses 合并多个测试结果：整体状态初始为 success，
// 按顺序遇到的最后一个非 success 状态覆盖整体状态。
// 消息为每个结果一行，格式为 "序号. 消息"，序号从 1 开始。
func ReduceStatuses(statuses []services.Status) services.Status {
	status := services.StatusSuccess
	lines := make([]string, 0, len(statuses))
	for i, s := range statuses {
		if s.Status != services.StatusSuccess {
			status = s.Status
		}
		lines = append(lines, strconv.Itoa(i+1)+". "+s.Message)
	}
	return services.Status{
		Status:  status,
		Message: strings.Join(lines, "\n"),
		Title:   services.Title(status),
	}
}

package services

import (
	"context"
	"strings"
	"time"
)

// Client 是每个服务的监控 API 客户端必须实现的能力接口。
// 每个客户端独立完成自己的网络调用并返回规范化结果。
type Client interface {
	// Query 执行数据查询，req 中只包含属于该服务的目标。
	Query(ctx context.Context, req *QueryRequest) ([]TimeSeries, error)

	// TestDatasource 检查连通性。它不返回错误：
	// 任何内部失败都必须表示为 Status == StatusError 的结果。
	TestDatasource(ctx context.Context) Status

	// MetricFindQuery 为模板变量返回可选值，params 为已解析的查询参数。
	MetricFindQuery(ctx context.Context, params map[string]string) ([]Option, error)

	Regions(ctx context.Context) ([]Option, error)
	Metrics(ctx context.Context, region string) ([]Option, error)
	Instances(ctx context.Context, region string, params map[string]string) ([]Option, error)
}

// ZoneLister 是可选能力，只有提供可用区概念的服务才实现。
type ZoneLister interface {
	Zones(ctx context.Context, region string) ([]Option, error)
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Status 是一次连通性测试的结果。
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Title   string `json:"title,omitempty"`
}

// Option 是一个可供选择的条目（地域、可用区、实例、指标等）。
type Option struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Datapoint 是 [值, 毫秒时间戳]。
type Datapoint [2]float64

// TimeSeries 是一条时间序列。
type TimeSeries struct {
	Target     string      `json:"target"`
	Datapoints []Datapoint `json:"datapoints"`
}

// TimeRange 是查询的时间范围。
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// QueryTarget 是面板上的一个查询单元，Service 标明由哪个客户端处理。
type QueryTarget struct {
	RefID      string   `json:"refId"`
	Service    string   `json:"service"`
	Hide       bool     `json:"hide,omitempty"`
	Region     string   `json:"region,omitempty"`
	MetricName string   `json:"metricName,omitempty"`
	Period     int64    `json:"period,omitempty"`
	Instances  []string `json:"instances,omitempty"`
	Alias      string   `json:"alias,omitempty"`

	// Dimensions 是附加的固定维度，会与实例维度一起提交。
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// QueryRequest 是一次数据查询请求。
type QueryRequest struct {
	Range         TimeRange     `json:"range"`
	Interval      string        `json:"interval,omitempty"`
	IntervalMs    int64         `json:"intervalMs,omitempty"`
	MaxDataPoints int           `json:"maxDataPoints,omitempty"`
	Targets       []QueryTarget `json:"targets"`
}

// CloneFor 返回请求的深拷贝，其目标列表只保留属于 service 的条目，
// 并保持它们原有的相对顺序。各分支之间不共享任何可变数据。
func (r *QueryRequest) CloneFor(service string) *QueryRequest {
	out := &QueryRequest{
		Range:         r.Range,
		Interval:      r.Interval,
		IntervalMs:    r.IntervalMs,
		MaxDataPoints: r.MaxDataPoints,
	}
	for _, t := range r.Targets {
		if t.Service != service {
			continue
		}
		out.Targets = append(out.Targets, t.clone())
	}
	return out
}

func (t QueryTarget) clone() QueryTarget {
	if t.Instances != nil {
		t.Instances = append([]string(nil), t.Instances...)
	}
	if t.Dimensions != nil {
		dims := make(map[string]string, len(t.Dimensions))
		for k, v := range t.Dimensions {
			dims[k] = v
		}
		t.Dimensions = dims
	}
	return t
}

// Title 将状态的首字母大写，例如 "error" -> "Error"。
func Title(status string) string {
	if status == "" {
		return ""
	}
	return strings.ToUpper(status[:1]) + status[1:]
}

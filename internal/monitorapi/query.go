package monitorapi

import (
	"context"
	"strings"
	"time"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
)

// 监控 API 支持的统计周期（秒）。
var supportedPeriods = []int64{60, 300, 3600, 86400}

type dimension struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type instanceDimensions struct {
	Dimensions []dimension `json:"Dimensions"`
}

type monitorDataRequest struct {
	Namespace  string               `json:"Namespace"`
	MetricName string               `json:"MetricName"`
	Period     int64                `json:"Period"`
	StartTime  string               `json:"StartTime"`
	EndTime    string               `json:"EndTime"`
	Instances  []instanceDimensions `json:"Instances"`
}

type dataPoint struct {
	Dimensions []dimension `json:"Dimensions"`
	Timestamps []float64   `json:"Timestamps"`
	Values     []float64   `json:"Values"`
}

type monitorDataResponse struct {
	Period     int64       `json:"Period"`
	MetricName string      `json:"MetricName"`
	DataPoints []dataPoint `json:"DataPoints"`
}

// Query 对每个目标调用一次 GetMonitorData，按目标顺序返回时间序列。
// 任一目标失败则整个查询失败。
func (c *Client) Query(ctx context.Context, req *services.QueryRequest) ([]services.TimeSeries, error) {
	var out []services.TimeSeries
	for _, t := range req.Targets {
		if t.Hide || t.MetricName == "" || len(t.Instances) == 0 {
			continue
		}

		payload := monitorDataRequest{
			Namespace:  c.desc.Namespace,
			MetricName: t.MetricName,
			Period:     period(t.Period, req.IntervalMs),
			StartTime:  req.Range.From.Format(time.RFC3339),
			EndTime:    req.Range.To.Format(time.RFC3339),
		}
		for _, id := range t.Instances {
			dims := []dimension{{Name: c.desc.Dimension, Value: id}}
			for k, v := range t.Dimensions {
				dims = append(dims, dimension{Name: k, Value: v})
			}
			payload.Instances = append(payload.Instances, instanceDimensions{Dimensions: dims})
		}

		var resp monitorDataResponse
		if err := c.call(ctx, monitorProduct, monitorVersion, "GetMonitorData", c.region(t.Region), payload, &resp); err != nil {
			return nil, err
		}

		for _, dp := range resp.DataPoints {
			out = append(out, services.TimeSeries{
				Target:     seriesName(t, c.dimensionValue(dp.Dimensions)),
				Datapoints: datapoints(dp),
			})
		}
	}
	return out, nil
}

func (c *Client) dimensionValue(dims []dimension) string {
	for _, d := range dims {
		if d.Name == c.desc.Dimension {
			return d.Value
		}
	}
	if len(dims) > 0 {
		return dims[0].Value
	}
	return ""
}

// period 选择目标显式指定的周期；否则取不小于面板间隔的最小支持周期。
func period(explicit, intervalMs int64) int64 {
	if explicit > 0 {
		return explicit
	}
	interval := intervalMs / 1000
	for _, p := range supportedPeriods {
		if p >= interval {
			return p
		}
	}
	return supportedPeriods[len(supportedPeriods)-1]
}

func seriesName(t services.QueryTarget, instance string) string {
	if t.Alias != "" {
		name := strings.ReplaceAll(t.Alias, "{{instance}}", instance)
		return strings.ReplaceAll(name, "{{metric}}", t.MetricName)
	}
	return instance + "." + t.MetricName
}

func datapoints(dp dataPoint) []services.Datapoint {
	n := min(len(dp.Timestamps), len(dp.Values))
	out := make([]services.Datapoint, 0, n)
	for i := range n {
		out = append(out, services.Datapoint{dp.Values[i], dp.Timestamps[i] * 1000})
	}
	return out
}

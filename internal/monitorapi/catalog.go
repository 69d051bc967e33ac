package monitorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/templatequery"
)

const instancePageSize = 100

// Regions 列出账号可用的地域。地域在各产品间共享，统一通过 cvm 接口查询。
func (c *Client) Regions(ctx context.Context) ([]services.Option, error) {
	var resp struct {
		RegionSet []struct {
			Region      string `json:"Region"`
			RegionName  string `json:"RegionName"`
			RegionState string `json:"RegionState"`
		} `json:"RegionSet"`
	}
	if err := c.call(ctx, regionProduct, regionVersion, "DescribeRegions", c.opts.DefaultRegion, struct{}{}, &resp); err != nil {
		return nil, err
	}

	opts := make([]services.Option, 0, len(resp.RegionSet))
	for _, r := range resp.RegionSet {
		if r.RegionState != "" && r.RegionState != "AVAILABLE" {
			continue
		}
		opts = append(opts, services.Option{Text: r.RegionName, Value: r.Region})
	}
	return opts, nil
}

// Metrics 列出该服务命名空间下的指标。
func (c *Client) Metrics(ctx context.Context, region string) ([]services.Option, error) {
	var resp struct {
		MetricSet []struct {
			MetricName string `json:"MetricName"`
			Unit       string `json:"Unit"`
		} `json:"MetricSet"`
	}
	payload := map[string]string{"Namespace": c.desc.Namespace}
	if err := c.call(ctx, monitorProduct, monitorVersion, "DescribeBaseMetrics", c.region(region), payload, &resp); err != nil {
		return nil, err
	}

	opts := make([]services.Option, 0, len(resp.MetricSet))
	for _, m := range resp.MetricSet {
		opts = append(opts, services.Option{Text: m.MetricName, Value: m.MetricName})
	}
	return opts, nil
}

// Instances 列出地域内的实例。params 中的 display 指定用作显示文本的字段，默认为实例名称。
func (c *Client) Instances(ctx context.Context, region string, params map[string]string) ([]services.Option, error) {
	payload := map[string]int{"Offset": 0, "Limit": instancePageSize}
	if v, ok := params["limit"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			payload["Limit"] = n
		}
	}

	var raw map[string]json.RawMessage
	if err := c.call(ctx, c.desc.Product, c.desc.Version, c.desc.InstanceAction, c.region(region), payload, &raw); err != nil {
		return nil, err
	}

	var items []map[string]any
	if set, ok := raw[c.desc.InstanceSet]; ok && len(set) > 0 {
		if err := json.Unmarshal(set, &items); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", c.desc.InstanceSet, err)
		}
	}

	display := strings.Trim(params["display"], "${}")
	if display == "" {
		display = c.desc.InstanceName
	}

	opts := make([]services.Option, 0, len(items))
	for _, item := range items {
		id, _ := item[c.desc.InstanceIDKey].(string)
		if id == "" {
			continue
		}
		text := fieldText(item[display])
		if text == "" {
			text = id
		}
		opts = append(opts, services.Option{Text: text, Value: id})
	}
	return opts, nil
}

func fieldText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// Zones 列出地域内可用的可用区。
func (z *ZonalClient) Zones(ctx context.Context, region string) ([]services.Option, error) {
	var resp struct {
		ZoneSet []struct {
			Zone      string `json:"Zone"`
			ZoneName  string `json:"ZoneName"`
			ZoneState string `json:"ZoneState"`
		} `json:"ZoneSet"`
	}
	if err := z.call(ctx, z.desc.Product, z.desc.Version, "DescribeZones", z.region(region), struct{}{}, &resp); err != nil {
		return nil, err
	}

	opts := make([]services.Option, 0, len(resp.ZoneSet))
	for _, zone := range resp.ZoneSet {
		if zone.ZoneState != "" && zone.ZoneState != "AVAILABLE" {
			continue
		}
		opts = append(opts, services.Option{Text: zone.ZoneName, Value: zone.Zone})
	}
	return opts, nil
}

// MetricFindQuery 根据 action 返回模板变量的可选值；未知的 action 返回 nil。
func (c *Client) MetricFindQuery(ctx context.Context, params map[string]string) ([]services.Option, error) {
	region := params[templatequery.KeyRegion]
	switch strings.ToLower(params[templatequery.KeyAction]) {
	case "describeregions":
		return c.Regions(ctx)
	case "describeinstances":
		return c.Instances(ctx, region, params)
	case "describemetrics", "describebasemetrics":
		return c.Metrics(ctx, region)
	default:
		return nil, nil
	}
}

// MetricFindQuery 额外支持 DescribeZones。
func (z *ZonalClient) MetricFindQuery(ctx context.Context, params map[string]string) ([]services.Option, error) {
	if strings.EqualFold(params[templatequery.KeyAction], "DescribeZones") {
		return z.Zones(ctx, params[templatequery.KeyRegion])
	}
	return z.Client.MetricFindQuery(ctx, params)
}

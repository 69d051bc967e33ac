package cloudmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/dispatcher"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/consul"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/static"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
)

func TestUnmarshalCaddyfile(t *testing.T) {
	d := caddyfile.NewTestDispenser(`cloud_monitor {
		base_path /api/tcm
		secret_id AKID
		secret_key s3cr3t
		region ap-guangzhou
		timeout 5s
		cvm_enabled true
		cdb_enabled
		clb_enabled false
		provider consul {
			service_name tcm-proxy
			poll_interval 3s
		}
	}`)

	var cm CloudMonitor
	require.NoError(t, cm.UnmarshalCaddyfile(d))
	assert.Equal(t, "/api/tcm", cm.BasePath)
	assert.Equal(t, "AKID", cm.SecretID)
	assert.Equal(t, "s3cr3t", cm.SecretKey)
	assert.Equal(t, "ap-guangzhou", cm.Region)
	assert.Equal(t, caddy.Duration(5*time.Second), cm.Timeout)
	assert.Equal(t, map[string]bool{"cvm_enabled": true, "cdb_enabled": true, "clb_enabled": false}, cm.Services)

	cp, ok := cm.provider.(*consul.ConsulProvider)
	require.True(t, ok)
	assert.Equal(t, "tcm-proxy", cp.ServiceName)
	assert.Equal(t, 3*time.Second, cp.PollInterval)
	assert.NoError(t, cm.Validate())

	// Caddyfile 适配结果是 JSON，提供者配置必须能随之保留
	raw, err := json.Marshal(&cm)
	require.NoError(t, err)
	var adapted CloudMonitor
	require.NoError(t, json.Unmarshal(raw, &adapted))
	assert.Equal(t, "consul", adapted.Provider)

	restored := consul.New()
	require.NoError(t, json.Unmarshal(adapted.ProviderConfig, restored))
	assert.Equal(t, "tcm-proxy", restored.ServiceName)
	assert.Equal(t, 3*time.Second, restored.PollInterval)
}

func TestUnmarshalCaddyfileStaticProvider(t *testing.T) {
	d := caddyfile.NewTestDispenser(`cloud_monitor {
		provider static http://10.0.0.1:8080
		redis_enabled true
	}`)

	var cm CloudMonitor
	require.NoError(t, cm.UnmarshalCaddyfile(d))
	sp, ok := cm.provider.(*static.StaticProvider)
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.1:8080", sp.URL)
	assert.True(t, cm.Services["redis_enabled"])
}

func TestUnmarshalCaddyfileErrors(t *testing.T) {
	for _, input := range []string{
		"cloud_monitor {\n bogus 1\n}",
		"cloud_monitor {\n cvm_enabled maybe\n}",
		"cloud_monitor {\n provider etcd\n}",
		"cloud_monitor {\n timeout soon\n}",
		"cloud_monitor /a /b",
		"cloud_monitor {\n base_path\n}",
	} {
		var cm CloudMonitor
		assert.Error(t, cm.UnmarshalCaddyfile(caddyfile.NewTestDispenser(input)), input)
	}
}

// 通过 httpcaddyfile 适配完整站点块：指令后的路径是匹配器，前缀来自 base_path。
func TestCaddyfileAdaptsToHandlerJSON(t *testing.T) {
	input := `:8080 {
	cloud_monitor /api/tcm/* {
		base_path /api/tcm
		cvm_enabled
		provider consul {
			service_name tcm-proxy
			poll_interval 3s
		}
	}
}`
	adapter := caddyfile.Adapter{ServerType: httpcaddyfile.ServerType{}}
	out, _, err := adapter.Adapt([]byte(input), nil)
	require.NoError(t, err)

	var cfg any
	require.NoError(t, json.Unmarshal(out, &cfg))
	route, handler := findHandlerRoute(cfg, "cloud_monitor")
	require.NotNil(t, handler, string(out))
	assert.Equal(t, []any{map[string]any{"path": []any{"/api/tcm/*"}}}, route["match"])

	raw, err := json.Marshal(handler)
	require.NoError(t, err)
	var cm CloudMonitor
	require.NoError(t, json.Unmarshal(raw, &cm))
	assert.Equal(t, "/api/tcm", cm.BasePath)
	assert.Equal(t, map[string]bool{"cvm_enabled": true}, cm.Services)
	assert.Equal(t, "consul", cm.Provider)

	cp := consul.New()
	require.NoError(t, json.Unmarshal(cm.ProviderConfig, cp))
	assert.Equal(t, "tcm-proxy", cp.ServiceName)
	assert.Equal(t, 3*time.Second, cp.PollInterval)
}

// findHandlerRoute 在适配后的 JSON 中查找包含指定处理器的路由。
func findHandlerRoute(v any, name string) (map[string]any, map[string]any) {
	switch v := v.(type) {
	case map[string]any:
		if handle, ok := v["handle"].([]any); ok {
			for _, h := range handle {
				if hm, ok := h.(map[string]any); ok && hm["handler"] == name {
					return v, hm
				}
			}
		}
		for _, child := range v {
			if r, h := findHandlerRoute(child, name); h != nil {
				return r, h
			}
		}
	case []any:
		for _, child := range v {
			if r, h := findHandlerRoute(child, name); h != nil {
				return r, h
			}
		}
	}
	return nil, nil
}

func TestValidateRejectsEndpointWithProvider(t *testing.T) {
	cm := CloudMonitor{Endpoint: "http://10.0.0.1:8080", Provider: "consul"}
	assert.ErrorContains(t, cm.Validate(), "mutually exclusive")
}

func TestValidateRejectsUnknownFlag(t *testing.T) {
	cm := CloudMonitor{Services: map[string]bool{"s3_enabled": true}}
	assert.ErrorContains(t, cm.Validate(), "s3_enabled")
}

type stubClient struct {
	key    string
	err    error
	status services.Status
}

func (s stubClient) Query(ctx context.Context, req *services.QueryRequest) ([]services.TimeSeries, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []services.TimeSeries
	for _, t := range req.Targets {
		out = append(out, services.TimeSeries{Target: s.key + ":" + t.RefID, Datapoints: []services.Datapoint{{1, 2}}})
	}
	return out, nil
}

func (s stubClient) TestDatasource(ctx context.Context) services.Status { return s.status }

func (s stubClient) MetricFindQuery(ctx context.Context, params map[string]string) ([]services.Option, error) {
	return []services.Option{{Text: params["action"], Value: s.key}}, nil
}

func (s stubClient) Regions(ctx context.Context) ([]services.Option, error) {
	return []services.Option{{Text: "Guangzhou", Value: "ap-guangzhou"}}, nil
}

func (s stubClient) Metrics(ctx context.Context, region string) ([]services.Option, error) {
	return nil, nil
}

func (s stubClient) Instances(ctx context.Context, region string, params map[string]string) ([]services.Option, error) {
	return []services.Option{{Text: params["display"], Value: region}}, nil
}

func newTestModule(t *testing.T, flags map[string]bool, errs map[string]error) *CloudMonitor {
	t.Helper()
	pool, err := dispatcher.NewPool(services.Registry, func(d services.Descriptor) services.Client {
		return stubClient{key: d.Key, err: errs[d.Key], status: services.Status{Status: "success", Message: d.Key + " ok"}}
	})
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	return &CloudMonitor{
		BasePath:   "/api/tcm/",
		logger:     logger,
		dispatcher: dispatcher.New(services.Registry, flags, pool, logger, nil),
	}
}

func serve(t *testing.T, cm *CloudMonitor, method, target, body string) (*httptest.ResponseRecorder, bool, error) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	nextCalled := false
	next := caddyhttp.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		nextCalled = true
		return nil
	})
	err := cm.ServeHTTP(rec, req, next)
	return rec, nextCalled, err
}

func TestServeQuery(t *testing.T) {
	cm := newTestModule(t, map[string]bool{"cvm_enabled": true, "cdb_enabled": true}, nil)

	body := `{"range":{"from":"2024-01-01T00:00:00Z","to":"2024-01-01T01:00:00Z"},
		"targets":[{"refId":"A","service":"cdb"},{"refId":"B","service":"cvm"},{"refId":"C","service":"clb"}]}`
	rec, _, err := serve(t, cm, http.MethodPost, "/api/tcm/query", body)
	require.NoError(t, err)

	var resp struct {
		Data []services.TimeSeries `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "cvm:B", resp.Data[0].Target)
	assert.Equal(t, "cdb:A", resp.Data[1].Target)
}

func TestServeQueryNothingEnabled(t *testing.T) {
	cm := newTestModule(t, nil, nil)
	rec, _, err := serve(t, cm, http.MethodPost, "/api/tcm/query", `{"targets":[{"refId":"A","service":"cvm"}]}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestServeQueryClientError(t *testing.T) {
	cm := newTestModule(t, map[string]bool{"cvm_enabled": true}, map[string]error{"cvm": errors.New("auth failure")})
	_, _, err := serve(t, cm, http.MethodPost, "/api/tcm/query", `{"targets":[{"refId":"A","service":"cvm"}]}`)

	var he caddyhttp.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadGateway, he.StatusCode)
	assert.EqualError(t, he.Err, "auth failure")
}

func TestServeQueryBadRequest(t *testing.T) {
	cm := newTestModule(t, nil, nil)

	_, _, err := serve(t, cm, http.MethodPost, "/api/tcm/query", `{not json`)
	var he caddyhttp.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.StatusCode)

	_, _, err = serve(t, cm, http.MethodGet, "/api/tcm/query", "")
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusMethodNotAllowed, he.StatusCode)
}

func TestServeSearch(t *testing.T) {
	cm := newTestModule(t, nil, nil)

	rec, _, err := serve(t, cm, http.MethodPost, "/api/tcm/search", `{"query":"Namespace=QCE/CDB&Action=DescribeRegions"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text":"DescribeRegions","value":"cdb"}]`, rec.Body.String())

	rec, _, err = serve(t, cm, http.MethodPost, "/api/tcm/search", `{"query":"Namespace=QCE/CDB"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServeTest(t *testing.T) {
	cm := newTestModule(t, nil, nil)
	rec, _, err := serve(t, cm, http.MethodGet, "/api/tcm/test", "")
	require.NoError(t, err)

	var st services.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, services.Status{Status: "error", Title: "Error", Message: dispatcher.NothingConfiguredMessage}, st)

	cm = newTestModule(t, map[string]bool{"cvm_enabled": true, "redis_enabled": true}, nil)
	rec, _, err = serve(t, cm, http.MethodGet, "/api/tcm/test", "")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "success", st.Status)
	assert.Equal(t, "1. cvm ok\n2. redis ok", st.Message)
}

func TestServeCatalog(t *testing.T) {
	cm := newTestModule(t, nil, nil)

	rec, _, err := serve(t, cm, http.MethodGet, "/api/tcm/regions?service=cvm", "")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text":"Guangzhou","value":"ap-guangzhou"}]`, rec.Body.String())

	rec, _, err = serve(t, cm, http.MethodGet, "/api/tcm/metrics?service=cvm&region=ap-guangzhou", "")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, rec.Body.String())

	// stubClient 不实现可用区能力
	rec, _, err = serve(t, cm, http.MethodGet, "/api/tcm/zones?service=cvm&region=ap-guangzhou", "")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec, _, err = serve(t, cm, http.MethodGet, "/api/tcm/instances?service=cdb&region=ap-beijing&Display=InstanceName", "")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text":"InstanceName","value":"ap-beijing"}]`, rec.Body.String())

	_, _, err = serve(t, cm, http.MethodGet, "/api/tcm/regions", "")
	var he caddyhttp.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.StatusCode)
}

func TestServeFallsThrough(t *testing.T) {
	cm := newTestModule(t, nil, nil)
	for _, target := range []string{"/other/query", "/api/tcm/unknown", "/"} {
		_, nextCalled, err := serve(t, cm, http.MethodGet, target, "")
		require.NoError(t, err)
		assert.True(t, nextCalled, target)
	}
}

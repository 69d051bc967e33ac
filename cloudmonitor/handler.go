package cloudmonitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
)

const maxRequestBody = 1 << 20

type queryResponse struct {
	Data []services.TimeSeries `json:"data"`
}

type searchRequest struct {
	Query string `json:"query"`
}

// ServeHTTP 处理 BasePath 下的数据源路由，其他请求交给下一个处理器。
func (cm *CloudMonitor) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	route, ok := strings.CutPrefix(r.URL.Path, strings.TrimRight(cm.BasePath, "/"))
	if !ok {
		return next.ServeHTTP(w, r)
	}

	switch route {
	case "/query":
		return cm.serveQuery(w, r)
	case "/search":
		return cm.serveSearch(w, r)
	case "/test":
		return cm.serveTest(w, r)
	case "/regions", "/metrics", "/zones", "/instances":
		return cm.serveCatalog(w, r, route)
	default:
		return next.ServeHTTP(w, r)
	}
}

func (cm *CloudMonitor) serveQuery(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return caddyhttp.Error(http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
	var req services.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	series, err := cm.dispatcher.Query(r.Context(), &req)
	if err != nil {
		cm.logger.Error("query failed", zap.Error(err))
		return caddyhttp.Error(http.StatusBadGateway, err)
	}
	return writeJSON(w, queryResponse{Data: series})
}

func (cm *CloudMonitor) serveSearch(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return caddyhttp.Error(http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	opts, err := cm.dispatcher.MetricFindQuery(r.Context(), req.Query)
	if err != nil {
		cm.logger.Error("template variable query failed", zap.String("query", req.Query), zap.Error(err))
		return caddyhttp.Error(http.StatusBadGateway, err)
	}
	return writeJSON(w, opts)
}

func (cm *CloudMonitor) serveTest(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		return caddyhttp.Error(http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
	return writeJSON(w, cm.dispatcher.TestDatasource(r.Context()))
}

func (cm *CloudMonitor) serveCatalog(w http.ResponseWriter, r *http.Request, route string) error {
	if r.Method != http.MethodGet {
		return caddyhttp.Error(http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
	q := r.URL.Query()
	service := q.Get("service")
	if service == "" {
		return caddyhttp.Error(http.StatusBadRequest, fmt.Errorf("missing service parameter"))
	}
	region := q.Get("region")

	var (
		opts []services.Option
		err  error
	)
	switch route {
	case "/regions":
		opts, err = cm.dispatcher.Regions(r.Context(), service)
	case "/metrics":
		opts, err = cm.dispatcher.Metrics(r.Context(), service, region)
	case "/zones":
		opts, err = cm.dispatcher.Zones(r.Context(), service, region)
	case "/instances":
		params := make(map[string]string, len(q))
		for k := range q {
			params[strings.ToLower(k)] = q.Get(k)
		}
		opts, err = cm.dispatcher.Instances(r.Context(), service, region, params)
	}
	if err != nil {
		cm.logger.Error("catalog request failed", zap.String("route", route), zap.String("service", service), zap.Error(err))
		return caddyhttp.Error(http.StatusBadGateway, err)
	}
	if opts == nil {
		opts = []services.Option{}
	}
	return writeJSON(w, opts)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return caddyhttp.Error(http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

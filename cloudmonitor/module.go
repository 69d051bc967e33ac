// package cloudmonitor 实现了 Caddy 的云监控数据源处理器模块。
// 它把来自面板的查询、模板变量和连通性测试请求分发给各产品的监控 API 客户端，
// 并合并它们的结果。
package cloudmonitor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/dispatcher"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/monitorapi"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/static"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
)

func init() {
	caddy.RegisterModule(CloudMonitor{})
}

// CloudMonitor 是一个数据源实例。启用的服务集合在 Provision 时确定，之后只读。
type CloudMonitor struct {
	// BasePath 是所有路由的前缀，例如 "/api/tcm"。
	BasePath string `json:"base_path,omitempty"`

	SecretID  string `json:"secret_id,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`

	// Region 是未指定地域的请求使用的默认地域。
	Region string `json:"region,omitempty"`

	// Services 是启用开关名到布尔值的映射，例如 {"cvm_enabled": true}。
	Services map[string]bool `json:"services,omitempty"`

	// Timeout 是单次 API 调用的超时时间。
	Timeout caddy.Duration `json:"timeout,omitempty"`

	// Endpoint 是固定的 API 代理地址，未配置 provider 时使用。
	Endpoint string `json:"endpoint,omitempty"`

	// Provider 是端点提供者的名字，ProviderConfig 是它自己的 JSON 配置。
	Provider       string          `json:"provider,omitempty"`
	ProviderConfig json.RawMessage `json:"provider_config,omitempty"`

	provider   providers.Provider
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger
}

// CaddyModule 返回 Caddy 模块信息。
func (CloudMonitor) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.cloud_monitor",
		New: func() caddy.Module { return new(CloudMonitor) },
	}
}

// Provision 创建端点提供者、客户端池和分发器。这里不发起任何对云 API 的请求。
func (cm *CloudMonitor) Provision(ctx caddy.Context) error {
	cm.logger = ctx.Logger(cm)

	repl := caddy.NewReplacer()
	secretID := repl.ReplaceAll(cm.SecretID, "")
	secretKey := repl.ReplaceAll(cm.SecretKey, "")

	if cm.provider == nil && cm.Provider != "" {
		prov, err := providers.NewProvider(cm.Provider)
		if err != nil {
			return err
		}
		if len(cm.ProviderConfig) > 0 {
			if err := json.Unmarshal(cm.ProviderConfig, prov); err != nil {
				return fmt.Errorf("decoding %s provider config: %v", cm.Provider, err)
			}
		}
		cm.provider = prov
	}
	if cm.provider == nil {
		sp := static.New()
		sp.URL = cm.Endpoint
		cm.provider = sp
	}
	if err := cm.provider.Provision(cm.logger.Named("endpoint")); err != nil {
		return fmt.Errorf("provisioning endpoint provider: %v", err)
	}

	metrics, err := dispatcher.NewMetrics(ctx.GetMetricsRegistry())
	if err != nil {
		return fmt.Errorf("registering metrics: %v", err)
	}

	timeout := time.Duration(cm.Timeout)
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	opts := monitorapi.Options{
		SecretID:      secretID,
		SecretKey:     secretKey,
		DefaultRegion: cm.Region,
		Timeout:       timeout,
		Endpoint:      cm.provider,
		Logger:        cm.logger.Named("client"),
	}
	pool, err := dispatcher.NewPool(services.Registry, func(d services.Descriptor) services.Client {
		return monitorapi.New(d, opts)
	})
	if err != nil {
		return err
	}

	cm.dispatcher = dispatcher.New(services.Registry, cm.Services, pool, cm.logger, metrics)
	cm.logger.Info("cloud monitor datasource provisioned",
		zap.Strings("services", cm.dispatcher.SelectedServices()),
		zap.Int("clients", pool.Len()),
	)
	return nil
}

// Validate 检查启用开关是否都已注册，并把提供者的验证委派给它自己。
// endpoint 与 provider 只能二选一。
func (cm *CloudMonitor) Validate() error {
	if cm.Endpoint != "" && cm.Provider != "" {
		return fmt.Errorf("endpoint and provider '%s' are mutually exclusive", cm.Provider)
	}
	for flag := range cm.Services {
		if !services.IsEnableFlag(flag) {
			return fmt.Errorf("unknown service flag '%s'", flag)
		}
	}
	if cm.provider != nil {
		return cm.provider.Validate()
	}
	return nil
}

// Cleanup 在 Caddy 停止或重载配置时清理提供者。
func (cm *CloudMonitor) Cleanup() error {
	if cm.provider != nil {
		return cm.provider.Cleanup()
	}
	return nil
}

// 接口符合性检查
var (
	_ caddy.Module                = (*CloudMonitor)(nil)
	_ caddy.Provisioner           = (*CloudMonitor)(nil)
	_ caddy.Validator             = (*CloudMonitor)(nil)
	_ caddy.CleanerUpper          = (*CloudMonitor)(nil)
	_ caddyhttp.MiddlewareHandler = (*CloudMonitor)(nil)
	_ caddyfile.Unmarshaler       = (*CloudMonitor)(nil)
)

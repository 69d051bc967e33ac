// package providers 为云监控 API 的端点来源定义了统一的接口和工厂。
// 端点提供者决定各服务客户端把请求发往哪里：直接访问公有云域名，
// 或者经由注册在 Consul、Nacos、mDNS 中的 API 代理。
package providers

import (
	"context"
	"fmt"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"go.uber.org/zap"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/consul"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/mdns"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/nacos"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/static"
)

// Provider 是所有端点提供者必须实现的接口。
// 它组合了 Caddy 的生命周期接口，确保每个提供者都能完整地集成到 Caddy 的配置流程中。
type Provider interface {
	// Provision 使用从主模块传入的 logger 来初始化提供者。
	Provision(logger *zap.Logger) error

	// caddy.CleanerUpper 接口用于资源清理。
	caddy.CleanerUpper

	// caddy.Validator 接口用于验证配置是否有效。
	caddy.Validator

	// caddyfile.Unmarshaler 接口使提供者能够解析其自身的 Caddyfile 配置块。
	caddyfile.Unmarshaler

	// Endpoint 返回 API 请求的基础地址，例如 "http://10.0.0.8:8080"。
	// 返回空字符串表示直接访问各产品的公有云域名。
	Endpoint(ctx context.Context) (string, error)
}

// NewProvider 是一个工厂函数，根据给定的名称创建并返回一个具体的 Provider 实例。
func NewProvider(name string) (Provider, error) {
	switch name {
	case "static":
		return static.New(), nil

	case "nacos":
		return nacos.New(), nil

	case "consul":
		return consul.New(), nil

	case "mdns":
		return mdns.New(), nil

	default:
		return nil, fmt.Errorf("unknown endpoint provider: '%s'. supported providers are: static, nacos, consul, mdns", name)
	}
}

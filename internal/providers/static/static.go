// package static 实现了固定地址的端点提供者。
package static

import (
	"context"
	"fmt"
	"net/url"

	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"go.uber.org/zap"
)

// StaticProvider 总是返回配置的地址。地址为空时客户端直接访问公有云域名。
type StaticProvider struct {
	URL string `json:"url,omitempty"`

	logger *zap.Logger
}

// New 返回一个 StaticProvider 的新实例。
func New() *StaticProvider {
	return &StaticProvider{}
}

// Provision 保存 logger。
func (sp *StaticProvider) Provision(logger *zap.Logger) error {
	sp.logger = logger
	sp.logger.Info("provisioning static endpoint provider", zap.String("url", sp.URL))
	return nil
}

// Validate 检查地址格式。
func (sp *StaticProvider) Validate() error {
	if sp.URL == "" {
		return nil
	}
	u, err := url.Parse(sp.URL)
	if err != nil {
		return fmt.Errorf("static provider: invalid url '%s': %v", sp.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("static provider: url '%s' must use http or https", sp.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("static provider: url '%s' has no host", sp.URL)
	}
	return nil
}

// Cleanup 无需释放资源。
func (sp *StaticProvider) Cleanup() error {
	return nil
}

// Endpoint 返回配置的地址。
func (sp *StaticProvider) Endpoint(ctx context.Context) (string, error) {
	return sp.URL, nil
}

// UnmarshalCaddyfile 解析 static 提供者的 Caddyfile 配置，地址可以写在同一行，
// 也可以写在配置块中的 url 子指令里。
func (sp *StaticProvider) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	if d.NextArg() {
		sp.URL = d.Val()
	}
	for nesting := d.Nesting(); d.NextBlock(nesting); {
		switch d.Val() {
		case "url":
			if !d.NextArg() {
				return d.ArgErr()
			}
			sp.URL = d.Val()
		default:
			return d.Errf("unrecognized static subdirective '%s'", d.Val())
		}
	}
	return nil
}

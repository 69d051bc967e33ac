package cloudmonitor

import (
	"encoding/json"
	"strconv"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers"
	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
)

func init() {
	httpcaddyfile.RegisterHandlerDirective("cloud_monitor", parseCaddyfile)
	httpcaddyfile.RegisterDirectiveOrder("cloud_monitor", httpcaddyfile.Before, "respond")
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	cm := new(CloudMonitor)
	if err := cm.UnmarshalCaddyfile(h.Dispenser); err != nil {
		return nil, err
	}
	return cm, nil
}

// UnmarshalCaddyfile 解析 Caddyfile 配置块：
//
//	cloud_monitor [<matcher>] {
//	    base_path   /api/tcm
//	    secret_id   {env.TENCENTCLOUD_SECRET_ID}
//	    secret_key  {env.TENCENTCLOUD_SECRET_KEY}
//	    region      ap-guangzhou
//	    timeout     10s
//	    cvm_enabled true
//	    cdb_enabled true
//	    provider consul {
//	        service_name tcm-proxy
//	    }
//	}
//
// 指令后的路径参数是 Caddy 的路径匹配器，不是路由前缀，例如 /api/tcm/* 。
// 路由前缀只能用 base_path 设置。任何已注册服务的启用开关名都可以作为子指令出现。
func (cm *CloudMonitor) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for d.Next() { // 消费指令名 "cloud_monitor"
		if d.NextArg() {
			return d.ArgErr()
		}

		for d.NextBlock(0) {
			switch name := d.Val(); name {
			case "base_path":
				if !d.NextArg() {
					return d.ArgErr()
				}
				cm.BasePath = d.Val()
			case "secret_id":
				if !d.NextArg() {
					return d.ArgErr()
				}
				cm.SecretID = d.Val()
			case "secret_key":
				if !d.NextArg() {
					return d.ArgErr()
				}
				cm.SecretKey = d.Val()
			case "region":
				if !d.NextArg() {
					return d.ArgErr()
				}
				cm.Region = d.Val()
			case "timeout":
				if !d.NextArg() {
					return d.ArgErr()
				}
				dur, err := caddy.ParseDuration(d.Val())
				if err != nil {
					return d.Errf("invalid duration for timeout: %v", err)
				}
				cm.Timeout = caddy.Duration(dur)
			case "endpoint":
				if !d.NextArg() {
					return d.ArgErr()
				}
				cm.Endpoint = d.Val()
			case "provider":
				// "provider" 后面必须跟一个提供者的名字，例如 "static", "consul", "nacos", "mdns"
				if !d.NextArg() {
					return d.ArgErr()
				}
				providerName := d.Val()

				prov, err := providers.NewProvider(providerName)
				if err != nil {
					return d.Errf("error creating provider '%s': %v", providerName, err)
				}
				cm.provider = prov

				// 将 provider 自己的配置块交给它自己去解析
				if err := cm.provider.UnmarshalCaddyfile(d); err != nil {
					return err
				}
				// Caddyfile 会先被适配为 JSON，所以提供者的配置也要能序列化
				raw, err := json.Marshal(cm.provider)
				if err != nil {
					return d.Errf("encoding provider '%s' config: %v", providerName, err)
				}
				cm.Provider = providerName
				cm.ProviderConfig = raw
			default:
				if !services.IsEnableFlag(name) {
					return d.Errf("unrecognized subdirective '%s'", name)
				}
				enabled := true
				if d.NextArg() {
					val, err := strconv.ParseBool(d.Val())
					if err != nil {
						return d.Errf("invalid boolean for %s: %v", name, err)
					}
					enabled = val
				}
				if cm.Services == nil {
					cm.Services = make(map[string]bool)
				}
				cm.Services[name] = enabled
			}
		}
	}
	return nil
}

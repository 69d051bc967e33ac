// package mdns 实现了通过 mDNS (Bonjour/Zeroconf) 在局域网内发现 API 代理的端点提供者。
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/grandcat/zeroconf"
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/endpointset"
)

// MdnsProvider 在本地网络上浏览 API 代理实例。
type MdnsProvider struct {
	// --- 配置字段 ---
	ServiceName   string        `json:"service_name,omitempty"` // 例如 "_tcm-proxy._tcp"
	Domain        string        `json:"domain,omitempty"`
	BrowseTimeout time.Duration `json:"browse_timeout,omitempty"`
	Scheme        string        `json:"scheme,omitempty"`

	// --- 内部状态 ---
	logger     *zap.Logger
	endpoints  endpointset.Set
	cancelFunc context.CancelFunc
}

// New 是一个构造函数，返回一个 MdnsProvider 的新实例。
func New() *MdnsProvider {
	return &MdnsProvider{
		Domain:        "local.",
		BrowseTimeout: 5 * time.Second,
		Scheme:        "http",
	}
}

// Provision 启动 mDNS 发现 goroutine。
func (mp *MdnsProvider) Provision(logger *zap.Logger) error {
	mp.logger = logger
	mp.logger.Info("provisioning mDNS endpoint provider",
		zap.String("service", mp.ServiceName),
		zap.String("domain", mp.Domain),
	)

	var ctx context.Context
	ctx, mp.cancelFunc = context.WithCancel(context.Background())

	go mp.runDiscovery(ctx)

	return nil
}

func (mp *MdnsProvider) runDiscovery(ctx context.Context) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		mp.logger.Error("failed to initialize mDNS resolver", zap.Error(err))
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	active := make(map[string]string)

	go func() {
		for entry := range entries {
			// TTL 为 0 表示实例已离开网络
			if entry.TTL == 0 {
				if _, ok := active[entry.Instance]; ok {
					delete(active, entry.Instance)
					mp.logger.Info("mDNS instance left", zap.String("instance", entry.Instance))
					mp.updateEndpoints(active)
				}
				continue
			}

			addr, ok := entryEndpoint(mp.Scheme, entry)
			if !ok {
				continue
			}
			active[entry.Instance] = addr
			mp.logger.Info("mDNS instance found/updated",
				zap.String("instance", entry.Instance),
				zap.String("address", addr),
			)
			mp.updateEndpoints(active)
		}
	}()

	mp.logger.Info("starting mDNS browser...")
	if err := resolver.Browse(ctx, mp.ServiceName, mp.Domain, entries); err != nil {
		// Browse 失败时 zeroconf 会自行关闭 entries
		mp.logger.Error("mDNS browse failed to start", zap.Error(err))
		return
	}

	// Browse 会一直运行到 ctx 被取消，entries 由 zeroconf 在结束时关闭
	<-ctx.Done()
	mp.logger.Info("mDNS browser stopped")
}

// entryEndpoint 优先使用 IPv4 地址，没有可用地址时返回 false。
func entryEndpoint(scheme string, entry *zeroconf.ServiceEntry) (string, bool) {
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	return scheme + "://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
}

func (mp *MdnsProvider) updateEndpoints(active map[string]string) {
	addrs := make([]string, 0, len(active))
	for _, addr := range active {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	mp.endpoints.Replace(addrs)

	mp.logger.Debug("updated endpoints from mDNS", zap.Int("count", len(addrs)))
}

// Validate 检查必要的配置是否已提供。
func (mp *MdnsProvider) Validate() error {
	if mp.ServiceName == "" {
		return fmt.Errorf("mdns provider: service_name is required (e.g., '_tcm-proxy._tcp')")
	}
	if _, ok := dns.IsDomainName(mp.ServiceName + "." + mp.Domain); !ok {
		return fmt.Errorf("mdns provider: '%s.%s' is not a valid DNS name", mp.ServiceName, mp.Domain)
	}
	if mp.Scheme != "http" && mp.Scheme != "https" {
		return fmt.Errorf("mdns provider: scheme must be http or https, got '%s'", mp.Scheme)
	}
	return nil
}

// Cleanup 停止 mDNS 浏览器。
func (mp *MdnsProvider) Cleanup() error {
	if mp.logger != nil {
		mp.logger.Info("cleaning up mDNS provider", zap.String("service", mp.ServiceName))
	}
	if mp.cancelFunc != nil {
		mp.cancelFunc()
	}
	return nil
}

// Endpoint 以轮询方式返回一个已发现实例的地址。
// 如果还没有发现任何实例，最多等待 BrowseTimeout。
func (mp *MdnsProvider) Endpoint(ctx context.Context) (string, error) {
	if mp.endpoints.Len() == 0 && mp.BrowseTimeout > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, mp.BrowseTimeout)
		defer cancel()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for mp.endpoints.Len() == 0 {
			select {
			case <-waitCtx.Done():
				return mp.endpoints.Pick(mp.ServiceName)
			case <-ticker.C:
			}
		}
	}
	return mp.endpoints.Pick(mp.ServiceName)
}

// UnmarshalCaddyfile 解析 mDNS 提供者特有的 Caddyfile 配置块。
func (mp *MdnsProvider) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for nesting := d.Nesting(); d.NextBlock(nesting); {
		switch d.Val() {
		case "service_name":
			if !d.NextArg() {
				return d.ArgErr()
			}
			mp.ServiceName = d.Val()
		case "domain":
			if !d.NextArg() {
				return d.ArgErr()
			}
			mp.Domain = d.Val()
		case "scheme":
			if !d.NextArg() {
				return d.ArgErr()
			}
			mp.Scheme = d.Val()
		case "browse_timeout":
			if !d.NextArg() {
				return d.ArgErr()
			}
			dur, err := caddy.ParseDuration(d.Val())
			if err != nil {
				return d.Errf("invalid duration for browse_timeout: %v", err)
			}
			mp.BrowseTimeout = dur
		default:
			return d.Errf("unrecognized mdns subdirective '%s'", d.Val())
		}
	}
	return nil
}

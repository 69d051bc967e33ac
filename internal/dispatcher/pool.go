package dispatcher

import (
	"fmt"
	"strings"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
)

// Factory 为一个服务描述符创建客户端。它只负责组装依赖，不得执行网络 I/O。
type Factory func(d services.Descriptor) services.Client

// Pool 持有每个已注册服务的唯一客户端实例，按派生的客户端键索引。
type Pool struct {
	clients map[string]services.Client
	zones   map[string]services.ZoneLister
}

// ClientKey 由服务标识派生客户端键，例如 "cvm" -> "CVMDatasource"。
func ClientKey(serviceKey string) string {
	return strings.ToUpper(serviceKey) + "Datasource"
}

// NewPool 为 registry 中的每个描述符创建恰好一个客户端。
// 可选的可用区能力在这里检查一次，之后不再做类型断言。
func NewPool(registry []services.Descriptor, factory Factory) (*Pool, error) {
	p := &Pool{
		clients: make(map[string]services.Client, len(registry)),
		zones:   make(map[string]services.ZoneLister),
	}
	for _, d := range registry {
		key := ClientKey(d.Key)
		if _, exists := p.clients[key]; exists {
			return nil, fmt.Errorf("service %q derives client key %q which is already taken", d.Key, key)
		}
		c := factory(d)
		if c == nil {
			return nil, fmt.Errorf("no client created for service %q", d.Key)
		}
		p.clients[key] = c
		if zl, ok := c.(services.ZoneLister); ok {
			p.zones[key] = zl
		}
	}
	return p, nil
}

// Client 返回服务对应的客户端。
func (p *Pool) Client(serviceKey string) (services.Client, bool) {
	c, ok := p.clients[ClientKey(serviceKey)]
	return c, ok
}

// ZoneLister 返回服务的可用区能力，不支持时第二个返回值为 false。
func (p *Pool) ZoneLister(serviceKey string) (services.ZoneLister, bool) {
	zl, ok := p.zones[ClientKey(serviceKey)]
	return zl, ok
}

// Len 返回池中客户端的数量。
func (p *Pool) Len() int {
	return len(p.clients)
}

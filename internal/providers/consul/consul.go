// package consul 实现了基于 Consul 的云监控 API 代理端点提供者。
package consul

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	consulApi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/endpointset"
)

// ConsulProvider 定期从 Consul 拉取 API 代理服务的健康实例。
type ConsulProvider struct {
	// --- 配置字段 ---
	Address      string        `json:"address,omitempty"`
	ServiceName  string        `json:"service_name,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	PassingOnly  bool          `json:"passing_only,omitempty"`
	PollInterval time.Duration `json:"poll_interval,omitempty"`
	Scheme       string        `json:"scheme,omitempty"`

	// --- 内部状态 ---
	client    *consulApi.Client
	logger    *zap.Logger
	endpoints endpointset.Set
	stopChan  chan struct{}
}

// New 是一个构造函数，返回一个 ConsulProvider 的新实例。
func New() *ConsulProvider {
	return &ConsulProvider{
		PassingOnly:  true,
		PollInterval: 10 * time.Second,
		Scheme:       "http",
	}
}

// Provision 初始化 Consul 客户端并启动后台轮询 goroutine。
func (cp *ConsulProvider) Provision(logger *zap.Logger) error {
	cp.logger = logger
	cp.logger.Info("provisioning consul endpoint provider",
		zap.String("service", cp.ServiceName),
		zap.String("address", cp.Address),
	)
	cp.stopChan = make(chan struct{})

	config := consulApi.DefaultConfig()
	if cp.Address != "" {
		config.Address = cp.Address
	}
	var err error
	cp.client, err = consulApi.NewClient(config)
	if err != nil {
		return fmt.Errorf("creating consul client: %v", err)
	}

	// 首次拉取失败不算致命错误，后台轮询可能会恢复
	if err := cp.updateEndpoints(); err != nil {
		cp.logger.Error("initial fetch from consul failed", zap.Error(err))
	}

	go cp.watchServiceChanges()

	return nil
}

func (cp *ConsulProvider) updateEndpoints() error {
	entries, _, err := cp.client.Health().ServiceMultipleTags(cp.ServiceName, cp.Tags, cp.PassingOnly, nil)
	if err != nil {
		return fmt.Errorf("querying consul for service '%s': %v", cp.ServiceName, err)
	}

	addrs := endpointsFromEntries(cp.Scheme, entries)
	cp.endpoints.Replace(addrs)

	cp.logger.Debug("updated endpoints from consul",
		zap.String("service", cp.ServiceName),
		zap.Int("count", len(addrs)),
	)
	return nil
}

// endpointsFromEntries 把服务条目转换为基础地址，Service.Address 为空时回退到 Node.Address。
func endpointsFromEntries(scheme string, entries []*consulApi.ServiceEntry) []string {
	var addrs []string
	for _, entry := range entries {
		if entry.Service == nil {
			continue
		}
		addr := entry.Service.Address
		if addr == "" && entry.Node != nil {
			addr = entry.Node.Address
		}
		if addr == "" {
			continue
		}
		addrs = append(addrs, scheme+"://"+net.JoinHostPort(addr, strconv.Itoa(entry.Service.Port)))
	}
	return addrs
}

func (cp *ConsulProvider) watchServiceChanges() {
	ticker := time.NewTicker(cp.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := cp.updateEndpoints(); err != nil {
				cp.logger.Error("failed to update endpoints from consul", zap.Error(err))
			}
		case <-cp.stopChan:
			cp.logger.Info("stopping consul service watcher", zap.String("service", cp.ServiceName))
			return
		}
	}
}

// Validate 检查必要的配置是否已提供。
func (cp *ConsulProvider) Validate() error {
	if cp.ServiceName == "" {
		return fmt.Errorf("consul provider: service_name is required")
	}
	if cp.Scheme != "http" && cp.Scheme != "https" {
		return fmt.Errorf("consul provider: scheme must be http or https, got '%s'", cp.Scheme)
	}
	if cp.PollInterval <= 0 {
		return fmt.Errorf("consul provider: poll_interval must be positive")
	}
	return nil
}

// Cleanup 停止后台 goroutine。
func (cp *ConsulProvider) Cleanup() error {
	if cp.logger != nil {
		cp.logger.Info("cleaning up consul provider", zap.String("service", cp.ServiceName))
	}
	if cp.stopChan != nil {
		close(cp.stopChan)
		cp.stopChan = nil
	}
	return nil
}

// Endpoint 以轮询方式返回一个健康实例的地址。
func (cp *ConsulProvider) Endpoint(ctx context.Context) (string, error) {
	return cp.endpoints.Pick(cp.ServiceName)
}

// UnmarshalCaddyfile 解析 Consul 提供者特有的 Caddyfile 配置块。
func (cp *ConsulProvider) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for nesting := d.Nesting(); d.NextBlock(nesting); {
		switch d.Val() {
		case "address":
			if !d.NextArg() {
				return d.ArgErr()
			}
			cp.Address = d.Val()
		case "service_name":
			if !d.NextArg() {
				return d.ArgErr()
			}
			cp.ServiceName = d.Val()
		case "tags":
			cp.Tags = d.RemainingArgs()
		case "scheme":
			if !d.NextArg() {
				return d.ArgErr()
			}
			cp.Scheme = d.Val()
		case "passing_only":
			if !d.NextArg() {
				return d.ArgErr()
			}
			val, err := strconv.ParseBool(d.Val())
			if err != nil {
				return d.Errf("invalid boolean for passing_only: %v", err)
			}
			cp.PassingOnly = val
		case "poll_interval":
			if !d.NextArg() {
				return d.ArgErr()
			}
			dur, err := caddy.ParseDuration(d.Val())
			if err != nil {
				return d.Errf("invalid duration for poll_interval: %v", err)
			}
			cp.PollInterval = dur
		default:
			return d.Errf("unrecognized consul subdirective '%s'", d.Val())
		}
	}
	return nil
}

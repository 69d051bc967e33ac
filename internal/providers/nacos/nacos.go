// package nacos 实现了基于 Nacos 的云监控 API 代理端点提供者。
package nacos

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/providers/endpointset"
)

// NacosProvider 订阅 Nacos 中 API 代理服务的实例变化。
type NacosProvider struct {
	// --- 配置字段 ---
	ServerAddr  string   `json:"server_addr,omitempty"`
	ServerPort  uint64   `json:"server_port,omitempty"`
	NamespaceID string   `json:"namespace_id,omitempty"`
	ServiceName string   `json:"service_name,omitempty"`
	GroupName   string   `json:"group_name,omitempty"`
	Clusters    []string `json:"clusters,omitempty"`
	Scheme      string   `json:"scheme,omitempty"`

	// --- 内部状态 ---
	client    naming_client.INamingClient
	logger    *zap.Logger
	endpoints endpointset.Set
}

// New 是一个构造函数，返回一个 NacosProvider 的新实例。
func New() *NacosProvider {
	return &NacosProvider{
		GroupName: "DEFAULT_GROUP",
		Scheme:    "http",
	}
}

// Provision 初始化 Nacos 客户端并订阅服务。
func (np *NacosProvider) Provision(logger *zap.Logger) error {
	np.logger = logger
	np.logger.Info("provisioning nacos endpoint provider",
		zap.String("service", np.ServiceName),
		zap.String("group", np.GroupName),
	)

	sc := []constant.ServerConfig{
		*constant.NewServerConfig(np.ServerAddr, np.ServerPort),
	}

	cc := constant.NewClientConfig(
		constant.WithNamespaceId(np.NamespaceID),
		constant.WithTimeoutMs(5000),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
	)

	var err error
	np.client, err = clients.NewNamingClient(
		vo.NacosClientParam{
			ClientConfig:  cc,
			ServerConfigs: sc,
		},
	)
	if err != nil {
		return fmt.Errorf("creating nacos naming client: %v", err)
	}

	return np.subscribeToServiceChanges()
}

func (np *NacosProvider) subscribeToServiceChanges() error {
	subscribeParam := &vo.SubscribeParam{
		ServiceName: np.ServiceName,
		GroupName:   np.GroupName,
		Clusters:    np.Clusters,
		SubscribeCallback: func(instances []model.Instance, err error) {
			if err != nil {
				np.logger.Error("nacos subscription callback error", zap.Error(err))
				return
			}

			addrs := endpointsFromInstances(np.Scheme, instances)
			np.endpoints.Replace(addrs)

			np.logger.Debug("updated endpoints from nacos",
				zap.String("service", np.ServiceName),
				zap.Int("count", len(addrs)),
			)
		},
	}

	if err := np.client.Subscribe(subscribeParam); err != nil {
		return fmt.Errorf("subscribing to nacos service '%s': %v", np.ServiceName, err)
	}

	return nil
}

// endpointsFromInstances 只保留健康且已启用的实例。
func endpointsFromInstances(scheme string, instances []model.Instance) []string {
	var addrs []string
	for _, ins := range instances {
		if !ins.Enable || !ins.Healthy {
			continue
		}
		addrs = append(addrs, scheme+"://"+net.JoinHostPort(ins.Ip, strconv.FormatUint(ins.Port, 10)))
	}
	return addrs
}

// Validate 检查必要的配置是否已提供。
func (np *NacosProvider) Validate() error {
	if np.ServerAddr == "" {
		return fmt.Errorf("nacos provider: server_addr is required")
	}
	if np.ServerPort == 0 {
		return fmt.Errorf("nacos provider: server_port is required")
	}
	if np.ServiceName == "" {
		return fmt.Errorf("nacos provider: service_name is required")
	}
	if np.Scheme != "http" && np.Scheme != "https" {
		return fmt.Errorf("nacos provider: scheme must be http or https, got '%s'", np.Scheme)
	}
	return nil
}

// Cleanup 取消订阅并关闭客户端。
func (np *NacosProvider) Cleanup() error {
	if np.client == nil {
		return nil
	}
	np.logger.Info("cleaning up nacos provider", zap.String("service", np.ServiceName))

	err := np.client.Unsubscribe(&vo.SubscribeParam{
		ServiceName: np.ServiceName,
		GroupName:   np.GroupName,
	})
	if err != nil {
		return fmt.Errorf("unsubscribing from nacos service '%s': %v", np.ServiceName, err)
	}
	np.client.CloseClient()
	return nil
}

// Endpoint 以轮询方式返回一个健康实例的地址。
func (np *NacosProvider) Endpoint(ctx context.Context) (string, error) {
	return np.endpoints.Pick(np.ServiceName)
}

// UnmarshalCaddyfile 解析 Nacos 提供者特有的 Caddyfile 配置块。
func (np *NacosProvider) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for nesting := d.Nesting(); d.NextBlock(nesting); {
		switch d.Val() {
		case "server_addr":
			if !d.NextArg() {
				return d.ArgErr()
			}
			np.ServerAddr = d.Val()
		case "server_port":
			if !d.NextArg() {
				return d.ArgErr()
			}
			port, err := strconv.ParseUint(d.Val(), 10, 64)
			if err != nil {
				return d.Errf("invalid port '%s': %v", d.Val(), err)
			}
			np.ServerPort = port
		case "namespace_id":
			if !d.NextArg() {
				return d.ArgErr()
			}
			np.NamespaceID = d.Val()
		case "service_name":
			if !d.NextArg() {
				return d.ArgErr()
			}
			np.ServiceName = d.Val()
		case "group_name":
			if !d.NextArg() {
				return d.ArgErr()
			}
			np.GroupName = d.Val()
		case "clusters":
			np.Clusters = d.RemainingArgs()
		case "scheme":
			if !d.NextArg() {
				return d.ArgErr()
			}
			np.Scheme = d.Val()
		default:
			return d.Errf("unrecognized nacos subdirective '%s'", d.Val())
		}
	}
	return nil
}

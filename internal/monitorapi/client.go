// package monitorapi 实现了每个云产品的监控 API 客户端。
// 所有服务共用同一个实现，差异全部来自服务描述符。
package monitorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	tchttp "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/http"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	"go.uber.org/zap"

	"github.com/liuxd6825/caddy-cloudmonitor/internal/services"
)

const (
	monitorProduct = "monitor"
	monitorVersion = "2018-07-24"
	regionProduct  = "cvm"
	regionVersion  = "2017-03-12"
)

// EndpointSource 提供 API 请求的基础地址。空字符串表示直接访问产品的公有云域名。
type EndpointSource interface {
	Endpoint(ctx context.Context) (string, error)
}

// Options 是所有服务客户端共享的连接设置。
type Options struct {
	SecretID      string
	SecretKey     string
	DefaultRegion string
	Timeout       time.Duration
	Transport     http.RoundTripper
	Endpoint      EndpointSource
	Logger        *zap.Logger
}

// Client 是单个服务的监控 API 客户端。
type Client struct {
	desc services.Descriptor
	opts Options
	cred *common.Credential

	mu      sync.Mutex
	clients map[string]*common.Client // 按地域缓存
}

// ZonalClient 为提供可用区概念的服务额外实现 services.ZoneLister。
type ZonalClient struct {
	*Client
}

// New 为描述符创建客户端，只组装依赖，不发起网络请求。
func New(d services.Descriptor, opts Options) services.Client {
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Client{
		desc:    d,
		opts:    opts,
		cred:    common.NewCredential(opts.SecretID, opts.SecretKey),
		clients: make(map[string]*common.Client),
	}
	c.opts.Logger = opts.Logger.With(zap.String("service", d.Key))
	if d.HasZones {
		return &ZonalClient{Client: c}
	}
	return c
}

// sdkClient 返回 region 对应的通用 SDK 客户端。SDK 客户端的地域在创建时固定。
func (c *Client) sdkClient(region string) *common.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[region]; ok {
		return cl
	}

	cpf := profile.NewClientProfile()
	cpf.HttpProfile.ReqMethod = http.MethodPost
	if c.opts.Timeout >= time.Second {
		cpf.HttpProfile.ReqTimeout = int(c.opts.Timeout / time.Second)
	}
	cl := common.NewCommonClient(c.cred, region, cpf)
	cl.WithHttpTransport(&endpointTransport{source: c.opts.Endpoint, next: c.opts.Transport})
	c.clients[region] = cl
	return cl
}

type envelope struct {
	Response json.RawMessage `json:"Response"`
}

// call 通过通用 SDK 客户端向 product 发送 action 请求，并把 Response 字段解码到 out。
// 云 API 的业务错误以 *errors.TencentCloudSDKError 返回。
func (c *Client) call(ctx context.Context, product, version, action, region string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", action, err)
	}

	req := tchttp.NewCommonRequest(product, version, action)
	req.SetContext(ctx)
	if err := req.SetActionParameters(body); err != nil {
		return fmt.Errorf("encoding %s request: %w", action, err)
	}

	resp := tchttp.NewCommonResponse()
	if err := c.sdkClient(region).Send(req, resp); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp.GetBody(), &env); err != nil {
		return fmt.Errorf("decoding %s response: %w", action, err)
	}
	if len(env.Response) == 0 {
		return fmt.Errorf("%s %s: response has no Response field", product, action)
	}

	c.opts.Logger.Debug("api call succeeded",
		zap.String("action", action),
		zap.String("region", region),
	)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", action, err)
	}
	return nil
}

// endpointTransport 把 SDK 发出的请求转发到提供者给出的地址。
// Host 仍然是产品域名，签名因此保持有效。
type endpointTransport struct {
	source EndpointSource
	next   http.RoundTripper
}

func (t *endpointTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.source == nil {
		return t.next.RoundTrip(req)
	}
	ep, err := t.source.Endpoint(req.Context())
	if err != nil {
		return nil, fmt.Errorf("resolving endpoint for %s: %w", req.URL.Host, err)
	}
	if ep == "" {
		return t.next.RoundTrip(req)
	}
	target, err := url.Parse(ep)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", ep, err)
	}

	out := req.Clone(req.Context())
	if out.Host == "" {
		out.Host = req.URL.Host
	}
	out.URL.Scheme = target.Scheme
	out.URL.Host = target.Host
	return t.next.RoundTrip(out)
}


func (c *Client) region(r string) string {
	if r != "" {
		return r
	}
	return c.opts.DefaultRegion
}

// TestDatasource 通过查询该服务命名空间的指标列表验证连通性，失败时返回错误状态而不是错误。
func (c *Client) TestDatasource(ctx context.Context) services.Status {
	if _, err := c.Metrics(ctx, ""); err != nil {
		c.opts.Logger.Warn("connectivity test failed", zap.Error(err))
		return services.Status{
			Status:  services.StatusError,
			Message: fmt.Sprintf("%s service: %v", c.desc.Label, err),
		}
	}
	return services.Status{
		Status:  services.StatusSuccess,
		Message: fmt.Sprintf("Successfully queried the %s service.", c.desc.Label),
	}
}

// 接口符合性检查
var (
	_ services.Client     = (*Client)(nil)
	_ services.Client     = (*ZonalClient)(nil)
	_ services.ZoneLister = (*ZonalClient)(nil)
)

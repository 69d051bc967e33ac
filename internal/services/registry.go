// package services 定义了云监控各产品服务的静态注册表以及客户端能力接口。
package services

import "strings"

// Descriptor 描述一个云产品的监控服务。
// 注册表在进程启动时确定，之后不可修改。
type Descriptor struct {
	// Key 是服务的稳定标识，例如 "cvm"。
	Key string
	// Namespace 是该服务的监控命名空间，例如 "QCE/CVM"。
	Namespace string
	// EnableFlag 是实例配置中控制该服务是否启用的开关名。
	EnableFlag string
	// Label 是用于日志和连通性测试消息的人类可读名称。
	Label string

	// --- 产品 API 信息，供内置客户端使用 ---
	Product        string // 产品 API 域名前缀，例如 "cvm" -> cvm.tencentcloudapi.com
	Version        string // 产品 API 版本
	InstanceAction string // 列出实例的接口名
	InstanceSet    string // 实例列表在响应中的字段名
	InstanceIDKey  string
	InstanceName   string
	Dimension      string // 查询监控数据时使用的维度名
	HasZones       bool   // 是否提供可用区列表能力
}

// Registry 是全部已注册服务，按声明顺序排列。
// 分发结果的合并顺序即为此顺序。
var Registry = []Descriptor{
	{
		Key: "cvm", Namespace: "QCE/CVM", EnableFlag: "cvm_enabled", Label: "CVM",
		Product: "cvm", Version: "2017-03-12",
		InstanceAction: "DescribeInstances", InstanceSet: "InstanceSet",
		InstanceIDKey: "InstanceId", InstanceName: "InstanceName",
		Dimension: "InstanceId", HasZones: true,
	},
	{
		Key: "cdb", Namespace: "QCE/CDB", EnableFlag: "cdb_enabled", Label: "CDB",
		Product: "cdb", Version: "2017-03-20",
		InstanceAction: "DescribeDBInstances", InstanceSet: "Items",
		InstanceIDKey: "InstanceId", InstanceName: "InstanceName",
		Dimension: "InstanceId",
	},
	{
		Key: "clb", Namespace: "QCE/LB_PUBLIC", EnableFlag: "clb_enabled", Label: "CLB",
		Product: "clb", Version: "2018-03-17",
		InstanceAction: "DescribeLoadBalancers", InstanceSet: "LoadBalancerSet",
		InstanceIDKey: "LoadBalancerId", InstanceName: "LoadBalancerName",
		Dimension: "loadBalancerId",
	},
	{
		Key: "redis", Namespace: "QCE/REDIS_MEM", EnableFlag: "redis_enabled", Label: "Redis",
		Product: "redis", Version: "2018-04-12",
		InstanceAction: "DescribeInstances", InstanceSet: "InstanceSet",
		InstanceIDKey: "InstanceId", InstanceName: "InstanceName",
		Dimension: "instanceid",
	},
	{
		Key: "mongodb", Namespace: "QCE/CMONGO", EnableFlag: "mongodb_enabled", Label: "MongoDB",
		Product: "mongodb", Version: "2019-07-25",
		InstanceAction: "DescribeDBInstances", InstanceSet: "InstanceDetails",
		InstanceIDKey: "InstanceId", InstanceName: "InstanceName",
		Dimension: "target",
	},
	{
		Key: "postgres", Namespace: "QCE/POSTGRES", EnableFlag: "postgres_enabled", Label: "PostgreSQL",
		Product: "postgres", Version: "2017-03-12",
		InstanceAction: "DescribeDBInstances", InstanceSet: "DBInstanceSet",
		InstanceIDKey: "DBInstanceId", InstanceName: "DBInstanceName",
		Dimension: "resourceId",
	},
}

// ResolveServiceByNamespace 返回拥有该命名空间的服务标识。
// 空的、格式错误的或未注册的命名空间返回 ("", false)，调用方应将其视为“跳过”。
func ResolveServiceByNamespace(namespace string) (string, bool) {
	return ResolveIn(Registry, namespace)
}

// ResolveIn 在给定的注册表中按命名空间查找服务标识。
func ResolveIn(registry []Descriptor, namespace string) (string, bool) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return "", false
	}
	for _, d := range registry {
		if d.Namespace == namespace {
			return d.Key, true
		}
	}
	return "", false
}

// Lookup 按服务标识查找描述符。
func Lookup(key string) (Descriptor, bool) {
	for _, d := range Registry {
		if d.Key == key {
			return d, true
		}
	}
	return Descriptor{}, false
}

// IsEnableFlag 报告 name 是否是某个已注册服务的启用开关。
func IsEnableFlag(name string) bool {
	for _, d := range Registry {
		if d.EnableFlag == name {
			return true
		}
	}
	return false
}

// package templatequery 解析模板变量查询字符串，
// 例如 "Namespace=QCE/CVM&Action=DescribeInstances&Region=ap-guangzhou"。
package templatequery

import "strings"

const (
	KeyNamespace = "namespace"
	KeyAction    = "action"
	KeyRegion    = "region"
)

// Parse 将查询字符串解析为键值映射。键统一转为小写，值去掉首尾空白。
// 没有 '=' 或键为空的片段会被忽略；无法解析时返回空映射而不是错误。
func Parse(raw string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(raw, "&") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		params[key] = strings.TrimSpace(value)
	}
	return params
}

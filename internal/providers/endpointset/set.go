// package endpointset 提供一个线程安全的、轮询选择的端点集合，
// 供各个端点提供者保存发现到的 API 地址。
package endpointset

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Set 保存当前可用的端点列表。零值可用。
type Set struct {
	mu    sync.RWMutex
	addrs []string
	next  atomic.Uint64
}

// Replace 用新的列表替换当前端点。
func (s *Set) Replace(addrs []string) {
	cp := append([]string(nil), addrs...)
	s.mu.Lock()
	s.addrs = cp
	s.mu.Unlock()
}

// Len 返回当前端点数量。
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addrs)
}

// Pick 以轮询方式返回一个端点。name 仅用于错误消息。
func (s *Set) Pick(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.addrs) == 0 {
		return "", fmt.Errorf("no healthy endpoints available for service: %s", name)
	}
	i := s.next.Add(1) - 1
	return s.addrs[i%uint64(len(s.addrs))], nil
}

// internal/cache/local_store.go
package cache

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type localEntry struct {
	value     string
	expiresAt time.Time
}

// localStore 是 Store 的进程内 fallback 实现。
// 过期检查在读取时惰性进行，同时有一个清扫 goroutine 主动回收，
// 保证不会悄悄返回陈旧值，也不会无限累积死条目。
type localStore struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time // 测试注入用
	stop    chan struct{}
	once    sync.Once
}

func newLocalStore(sweepInterval time.Duration) *localStore {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	s := &localStore{
		entries: make(map[string]localEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

func (s *localStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *localStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// live 返回未过期的条目；过期条目顺手删除。调用方必须持有锁。
func (s *localStore) live(key string) (localEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return localEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return localEntry{}, false
	}
	return e, true
}

func (s *localStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *localStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = localEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *localStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *localStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		// 不存在或已过期：重新初始化为 1，使用传入的 ttl
		s.entries[key] = localEntry{value: "1", expiresAt: s.now().Add(ttl)}
		return 1, nil
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	// 保留剩余 TTL，不重置
	s.entries[key] = localEntry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
	return n, nil
}

func (s *localStore) TTL(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return TTLMissing, nil
	}
	remaining := e.expiresAt.Sub(s.now()).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return int64(math.Ceil(remaining)), nil
}

func (s *localStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok, nil
}

func (s *localStore) MSet(ctx context.Context, entries map[string]string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// 持锁批量写入：并发读者要么全部看到旧值，要么全部看到新值
	expiresAt := s.now().Add(ttl)
	for k, v := range entries {
		s.entries[k] = localEntry{value: v, expiresAt: expiresAt}
	}
	return nil
}

func (s *localStore) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Backend: "local", LocalEntries: len(s.entries)}
}

func (s *localStore) HealthCheck(ctx context.Context) Health {
	return Health{Status: "ok", Backend: "local"}
}

func (s *localStore) IsEnabled() bool { return false }

func (s *localStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

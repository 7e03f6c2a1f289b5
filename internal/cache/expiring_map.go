package cache

import (
	"sync"
	"time"
)

type stamped[V any] struct {
	value      V
	insertedAt time.Time
}

// ExpiringMap 은 last-write-wins 만료 맵이다.
// 조회 시 만료 여부만 판정하고, 실제 삭제는 Sweep 이 담당한다.
// 내부 저장소가 sync.Map 이라 Sweep 이 Get/Set 을 막지 않는다.
type ExpiringMap[K comparable, V any] struct {
	ttl   time.Duration
	items sync.Map
	now   func() time.Time
}

// NewExpiringMap 은 ttl 동안 유효한 엔트리를 보관하는 맵을 생성한다.
func NewExpiringMap[K comparable, V any](ttl time.Duration) *ExpiringMap[K, V] {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &ExpiringMap[K, V]{ttl: ttl, now: time.Now}
}

// TTL 은 엔트리 수명을 반환한다.
func (m *ExpiringMap[K, V]) TTL() time.Duration {
	return m.ttl
}

// Get 은 살아있는 엔트리를 반환한다.
func (m *ExpiringMap[K, V]) Get(key K) (V, bool) {
	var zero V
	raw, ok := m.items.Load(key)
	if !ok {
		return zero, false
	}
	item := raw.(*stamped[V])
	if m.expired(item, m.now()) {
		return zero, false
	}
	return item.value, true
}

// Set 은 엔트리를 저장한다. 같은 키는 마지막 쓰기가 이긴다.
func (m *ExpiringMap[K, V]) Set(key K, value V) {
	m.items.Store(key, &stamped[V]{value: value, insertedAt: m.now()})
}

// Delete 는 엔트리를 제거한다.
func (m *ExpiringMap[K, V]) Delete(key K) {
	m.items.Delete(key)
}

// Len 은 아직 정리되지 않은 엔트리 수다. 만료된 엔트리도 포함될 수 있다.
func (m *ExpiringMap[K, V]) Len() int {
	n := 0
	m.items.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep 은 만료된 엔트리를 지우고 지운 개수를 반환한다.
func (m *ExpiringMap[K, V]) Sweep() int {
	now := m.now()
	removed := 0
	m.items.Range(func(key, raw any) bool {
		item := raw.(*stamped[V])
		if m.expired(item, now) {
			// 그 사이 새로 쓰인 값은 지우지 않는다
			if m.items.CompareAndDelete(key, raw) {
				removed++
			}
		}
		return true
	})
	return removed
}

func (m *ExpiringMap[K, V]) expired(item *stamped[V], now time.Time) bool {
	return !now.Before(item.insertedAt.Add(m.ttl))
}

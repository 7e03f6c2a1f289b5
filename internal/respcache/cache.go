package respcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/park285/deck-orchestrator-go/internal/cache"
	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/llm"
)

// Cache 는 로컬 만료 맵과 선택적 Valkey 계층으로 이루어진 응답 캐시다.
// 공유 계층 오류는 로그만 남기고 미스로 취급한다.
type Cache struct {
	local   *cache.ExpiringMap[string, deck.Document]
	janitor *cache.Janitor
	remote  *remoteStore
	keyer   Keyer
	logger  *slog.Logger
}

// New 는 설정에 맞는 응답 캐시를 생성한다. 정리 루프는 Start 로 시작한다.
func New(cfg config.ResponseCacheConfig, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL() <= 0 {
		return nil, errors.New("response cache ttl must be positive")
	}

	local := cache.NewExpiringMap[string, deck.Document](cfg.TTL())
	c := &Cache{
		local:   local,
		janitor: cache.NewJanitor("response", local, cfg.SweepInterval(), logger),
		keyer:   Keyer{SystemPromptPrefix: cfg.SystemPromptPrefix},
		logger:  logger,
	}

	if cfg.StoreEnabled {
		remote, err := newRemoteStore(cfg.StoreURL, cfg.StoreKeyPrefix, cfg.TTL())
		if err != nil {
			return nil, fmt.Errorf("response cache store: %w", err)
		}
		c.remote = remote
	}
	return c, nil
}

// KeyFor 는 설정된 prefix 길이로 요청 키를 계산한다.
func (c *Cache) KeyFor(req llm.Request) string {
	return c.keyer.KeyFor(req)
}

// Get 은 살아있는 캐시 문서를 반환한다. 로컬 미스면 공유 계층을 조회해 로컬에 채운다.
func (c *Cache) Get(ctx context.Context, key string) (deck.Document, bool) {
	if doc, ok := c.local.Get(key); ok {
		return doc, true
	}
	if c.remote == nil {
		return deck.Document{}, false
	}

	doc, err := c.remote.get(ctx, key)
	if err != nil {
		if !errors.Is(err, errRemoteMiss) {
			c.logger.Warn("response_cache_remote_get_failed", "err", err)
		}
		return deck.Document{}, false
	}
	c.local.Set(key, doc)
	return doc, true
}

// Set 은 문서를 저장한다. 같은 키는 마지막 쓰기가 이긴다.
func (c *Cache) Set(ctx context.Context, key string, doc deck.Document) {
	c.local.Set(key, doc)
	if c.remote == nil {
		return
	}
	if err := c.remote.set(ctx, key, doc); err != nil {
		c.logger.Warn("response_cache_remote_set_failed", "err", err)
	}
}

// Len 은 아직 정리되지 않은 로컬 엔트리 수다.
func (c *Cache) Len() int {
	return c.local.Len()
}

// Sweep 은 만료 엔트리를 즉시 정리한다.
func (c *Cache) Sweep() int {
	return c.local.Sweep()
}

// Ping 은 공유 계층 연결 상태를 확인한다. 공유 계층이 없으면 nil.
func (c *Cache) Ping(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	return c.remote.ping(ctx)
}

// Start 는 만료 정리 루프를 시작한다.
func (c *Cache) Start() {
	c.janitor.Start()
}

// Close 는 정리 루프를 멈추고 공유 계층 연결을 닫는다.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.janitor.Stop()
	if c.remote != nil {
		c.remote.close()
	}
}

package respcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/park285/deck-orchestrator-go/internal/deck"
)

// errRemoteMiss 는 공유 저장소에 키가 없을 때의 오류다.
var errRemoteMiss = errors.New("remote cache miss")

// remoteStore 는 Valkey 기반 공유 캐시 계층이다.
type remoteStore struct {
	client valkey.Client
	codec  documentCodec
	prefix string
	ttl    time.Duration
}

// clientOption 은 redis(s):// URL 또는 host:port 주소를 접속 옵션으로 바꾼다.
func clientOption(raw string) (valkey.ClientOption, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return valkey.ClientOption{}, errors.New("cache store url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "redis://" + trimmed
	}
	opt, err := valkey.ParseURL(trimmed)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("parse cache store url: %w", err)
	}
	// 서버 측 client tracking 없이도 동작하도록 클라이언트 캐시는 끈다
	opt.DisableCache = true
	return opt, nil
}

func newRemoteStore(rawURL, prefix string, ttl time.Duration) (*remoteStore, error) {
	opt, err := clientOption(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	// EX 는 초 단위라 1초 미만 TTL 은 올린다
	return &remoteStore{client: client, prefix: prefix, ttl: max(ttl, time.Second)}, nil
}

func (s *remoteStore) key(k string) string {
	return s.prefix + k
}

func (s *remoteStore) get(ctx context.Context, key string) (deck.Document, error) {
	cmd := s.client.B().Get().Key(s.key(key)).Build()
	raw, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return deck.Document{}, errRemoteMiss
		}
		return deck.Document{}, fmt.Errorf("get cached document: %w", err)
	}
	return s.codec.decode(raw)
}

func (s *remoteStore) set(ctx context.Context, key string, doc deck.Document) error {
	frame, err := s.codec.encode(doc)
	if err != nil {
		return err
	}
	cmd := s.client.B().Set().Key(s.key(key)).Value(valkey.BinaryString(frame)).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set cached document: %w", err)
	}
	return nil
}

func (s *remoteStore) ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping cache store: %w", err)
	}
	return nil
}

func (s *remoteStore) close() {
	s.client.Close()
	s.codec.close()
}

package respcache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/park285/deck-orchestrator-go/internal/deck"
)

// 저장 값의 첫 바이트는 본문 형식이다.
const (
	frameRawJSON byte = 0x00
	frameZstd    byte = 0x01
)

// compressThreshold 미만의 문서는 압축하지 않는다.
const compressThreshold = 512

var errEmptyFrame = errors.New("empty cache frame")

// documentCodec 은 캐시 문서를 형식 바이트가 붙은 JSON 프레임으로 직렬화한다.
// zstd encoder/decoder 는 EncodeAll/DecodeAll 에 한해 동시 사용이 안전하다.
type documentCodec struct {
	once sync.Once
	err  error
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func (c *documentCodec) init() error {
	c.once.Do(func() {
		c.enc, c.err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if c.err != nil {
			c.err = fmt.Errorf("create zstd encoder: %w", c.err)
			return
		}
		c.dec, c.err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if c.err != nil {
			c.err = fmt.Errorf("create zstd decoder: %w", c.err)
		}
	})
	return c.err
}

func (c *documentCodec) encode(doc deck.Document) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	if len(payload) < compressThreshold {
		return append([]byte{frameRawJSON}, payload...), nil
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	frame := make([]byte, 1, len(payload)/2+1)
	frame[0] = frameZstd
	return c.enc.EncodeAll(payload, frame), nil
}

func (c *documentCodec) decode(frame []byte) (deck.Document, error) {
	if len(frame) == 0 {
		return deck.Document{}, errEmptyFrame
	}
	payload := frame[1:]
	switch frame[0] {
	case frameRawJSON:
	case frameZstd:
		if err := c.init(); err != nil {
			return deck.Document{}, err
		}
		decoded, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return deck.Document{}, fmt.Errorf("zstd decompress: %w", err)
		}
		payload = decoded
	default:
		return deck.Document{}, fmt.Errorf("unknown cache frame 0x%02x", frame[0])
	}

	var doc deck.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return deck.Document{}, fmt.Errorf("unmarshal cached document: %w", err)
	}
	return doc, nil
}

func (c *documentCodec) close() {
	if c.dec != nil {
		c.dec.Close()
	}
}

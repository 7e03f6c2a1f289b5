package usage

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed pricing.yml
var defaultPricingYAML []byte

// ModelPrice 는 모델별 USD 단가(100만 토큰당)다.
type ModelPrice struct {
	Input      float64 `yaml:"input"`
	Output     float64 `yaml:"output"`
	CacheWrite float64 `yaml:"cache_write"`
	CacheRead  float64 `yaml:"cache_read"`
}

func (p ModelPrice) weight() float64 {
	return p.Input + p.Output
}

type pricingFile struct {
	Models map[string]ModelPrice `yaml:"models"`
}

// PriceTable 은 모델 id 로 단가를 찾는다. 모르는 모델은 가장 싼 등급으로 계산한다.
type PriceTable struct {
	models   map[string]ModelPrice
	ids      []string
	cheapest string
	logger   *slog.Logger
	warned   sync.Map
}

// DefaultPriceTable 은 내장 단가표를 로드한다.
func DefaultPriceTable(logger *slog.Logger) (*PriceTable, error) {
	return ParsePriceTable(defaultPricingYAML, logger)
}

// LoadPriceTable 은 path 가 비어 있으면 내장 단가표를, 아니면 해당 파일을 로드한다.
func LoadPriceTable(path string, logger *slog.Logger) (*PriceTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPriceTable(logger)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return ParsePriceTable(data, logger)
}

// ParsePriceTable 은 YAML 단가표를 해석한다.
func ParsePriceTable(data []byte, logger *slog.Logger) (*PriceTable, error) {
	var file pricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pricing yaml: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, errors.New("pricing table has no models")
	}
	if logger == nil {
		logger = slog.Default()
	}

	table := &PriceTable{models: file.Models, logger: logger}
	for id, price := range file.Models {
		if price.Input < 0 || price.Output < 0 || price.CacheWrite < 0 || price.CacheRead < 0 {
			return nil, fmt.Errorf("negative price for model %s", id)
		}
		table.ids = append(table.ids, id)
	}
	// 긴 id 부터 접두사 매칭
	sort.Slice(table.ids, func(i, j int) bool {
		if len(table.ids[i]) != len(table.ids[j]) {
			return len(table.ids[i]) > len(table.ids[j])
		}
		return table.ids[i] < table.ids[j]
	})
	for _, id := range table.ids {
		if table.cheapest == "" || file.Models[id].weight() < file.Models[table.cheapest].weight() {
			table.cheapest = id
		}
	}
	return table, nil
}

// PriceFor 는 모델 단가를 반환한다. 정확히 일치하지 않으면 버전 접미사를 뗀 접두사로 찾는다.
// known 이 false 면 가장 싼 등급으로 대체한 것이다.
func (t *PriceTable) PriceFor(model string) (price ModelPrice, known bool) {
	if p, ok := t.models[model]; ok {
		return p, true
	}
	for _, id := range t.ids {
		if strings.HasPrefix(model, id+"-") {
			return t.models[id], true
		}
	}
	if _, loaded := t.warned.LoadOrStore(model, struct{}{}); !loaded {
		t.logger.Warn("usage_pricing_unknown_model", "model", model, "fallback", t.cheapest)
	}
	return t.models[t.cheapest], false
}

// Cost 는 기록의 토큰 수로 USD 비용을 계산한다.
func (t *PriceTable) Cost(rec UsageRecord) float64 {
	p, _ := t.PriceFor(rec.Model)
	total := float64(rec.InputTokens)*p.Input +
		float64(rec.OutputTokens)*p.Output +
		float64(rec.CacheWriteTokens)*p.CacheWrite +
		float64(rec.CacheReadTokens)*p.CacheRead
	return total / 1_000_000
}

// Models 는 등록된 모델 id 목록이다.
func (t *PriceTable) Models() []string {
	out := append([]string(nil), t.ids...)
	sort.Strings(out)
	return out
}

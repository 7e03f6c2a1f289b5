// Package deck 는 프레젠테이션 문서 모델과 구조 검증을 담당한다.
package deck

// Shape 는 응답 문서의 형태다.
type Shape string

const (
	// ShapePresentation: 제목과 슬라이드 목록을 가진 전체 문서.
	ShapePresentation Shape = "presentation"
	// ShapeSlide: 수정 응답으로 오는 단일 슬라이드.
	ShapeSlide Shape = "slide"
)

// Block 은 슬라이드 안의 타입이 있는 콘텐츠 블록이다.
type Block struct {
	Type  string         `json:"type" mapstructure:"type"`
	Props map[string]any `json:"props,omitempty" mapstructure:"props"`

	// props 로 감싸지 않고 평평하게 온 속성
	Extra map[string]any `json:"-" mapstructure:",remain"`
}

// Slide 는 id 와 블록 목록을 가진 슬라이드다.
type Slide struct {
	ID     string  `json:"id" mapstructure:"id"`
	Layout string  `json:"layout,omitempty" mapstructure:"layout"`
	Notes  string  `json:"notes,omitempty" mapstructure:"notes"`
	Blocks []Block `json:"blocks" mapstructure:"blocks"`
}

// Document 는 최종 구조화 결과다.
type Document struct {
	Shape  Shape   `json:"shape" mapstructure:"-"`
	Title  string  `json:"title,omitempty" mapstructure:"title"`
	Theme  string  `json:"theme,omitempty" mapstructure:"theme"`
	Slides []Slide `json:"slides" mapstructure:"slides"`
}

// NewSingleSlide 는 수정 응답 형태의 문서를 만든다.
func NewSingleSlide(slide Slide) Document {
	return Document{Shape: ShapeSlide, Slides: []Slide{slide}}
}

// IsSingleSlide 는 수정 응답 형태인지 여부다.
func (d Document) IsSingleSlide() bool {
	return d.Shape == ShapeSlide
}

// Slide 는 단일 슬라이드 문서의 슬라이드를 반환한다.
func (d Document) Slide() (Slide, bool) {
	if !d.IsSingleSlide() || len(d.Slides) != 1 {
		return Slide{}, false
	}
	return d.Slides[0], true
}

// Normalize 는 평평하게 온 블록 속성을 Props 로 합친다. Props 에 이미 있는 키가 우선한다.
func (d *Document) Normalize() {
	if d.Shape == "" {
		d.Shape = ShapePresentation
	}
	for i := range d.Slides {
		d.Slides[i].Normalize()
	}
}

// Normalize 는 슬라이드의 블록 속성을 정리한다.
func (s *Slide) Normalize() {
	for i := range s.Blocks {
		b := &s.Blocks[i]
		if len(b.Extra) == 0 {
			continue
		}
		if b.Props == nil {
			b.Props = make(map[string]any, len(b.Extra))
		}
		for k, v := range b.Extra {
			if _, exists := b.Props[k]; !exists {
				b.Props[k] = v
			}
		}
		b.Extra = nil
	}
}

// BlockCount 는 전체 블록 수다.
func (d Document) BlockCount() int {
	n := 0
	for _, s := range d.Slides {
		n += len(s.Blocks)
	}
	return n
}

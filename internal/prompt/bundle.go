// Package prompt 는 내장 YAML 프롬프트를 로드하고 템플릿을 채운다.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt 는 YAML 파일 하나다. system 은 정적 텍스트, user 는 {key} 템플릿이다.
type Prompt struct {
	Name   string   `yaml:"-"`
	System string   `yaml:"system"`
	User   string   `yaml:"user"`
	Keys   []string `yaml:"-"`
}

// Bundle: 특정 도메인의 프롬프트 모음과 에러 메시지 라벨을 함께 관리합니다.
type Bundle struct {
	label   string
	prompts map[string]Prompt
}

// LoadBundle: fs 내 dir 디렉터리의 YAML 프롬프트들을 로드하여 Bundle로 반환합니다.
func LoadBundle(fsys fs.FS, dir string, label string) (*Bundle, error) {
	paths, err := fs.Glob(fsys, path.Join(dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("glob prompt dir: %w", err)
	}
	yamlPaths, err := fs.Glob(fsys, path.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob prompt dir: %w", err)
	}
	paths = append(paths, yamlPaths...)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s prompts: no yaml files in %s", label, dir)
	}

	prompts := make(map[string]Prompt, len(paths))
	for _, filePath := range paths {
		p, err := loadFile(fsys, filePath)
		if err != nil {
			return nil, fmt.Errorf("%s prompts: %w", label, err)
		}
		prompts[p.Name] = p
	}
	return &Bundle{label: label, prompts: prompts}, nil
}

// loadFile 은 알 수 없는 키를 거부하고, system 이 정적인지와 user 템플릿 문법을 로드 시점에 검사한다.
func loadFile(fsys fs.FS, filePath string) (Prompt, error) {
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return Prompt{}, fmt.Errorf("read prompt file: %w", err)
	}

	var p Prompt
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Prompt{}, fmt.Errorf("parse %s: %w", filePath, err)
	}
	p.Name = strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))

	if strings.TrimSpace(p.System) == "" {
		return Prompt{}, fmt.Errorf("%s: system prompt is empty", filePath)
	}
	systemKeys, err := Placeholders(p.System)
	if err != nil {
		return Prompt{}, fmt.Errorf("%s: invalid system prompt template syntax: %w", filePath, err)
	}
	if len(systemKeys) > 0 {
		return Prompt{}, fmt.Errorf("%s: system prompt must not contain template variables %q", filePath, systemKeys)
	}
	if p.Keys, err = Placeholders(p.User); err != nil {
		return Prompt{}, fmt.Errorf("%s: invalid user template: %w", filePath, err)
	}
	return p, nil
}

// Get: 이름으로 프롬프트를 조회합니다.
func (b *Bundle) Get(name string) (Prompt, error) {
	if b == nil {
		return Prompt{}, fmt.Errorf("prompts not initialized")
	}
	p, ok := b.prompts[name]
	if !ok {
		return Prompt{}, fmt.Errorf("%s prompt not found: %s", b.label, name)
	}
	return p, nil
}

// System: 중괄호 이스케이프를 푼 시스템 프롬프트를 반환합니다.
func (b *Bundle) System(name string) (string, error) {
	p, err := b.Get(name)
	if err != nil {
		return "", err
	}
	return FormatTemplate(p.System, nil)
}

// Render: user 템플릿을 values 로 채웁니다.
func (b *Bundle) Render(name string, values map[string]string) (string, error) {
	p, err := b.Get(name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(p.User) == "" {
		return "", fmt.Errorf("%s prompt %s has no user template", b.label, name)
	}
	out, err := FormatTemplate(p.User, values)
	if err != nil {
		return "", fmt.Errorf("render %s.user: %w", name, err)
	}
	return out, nil
}

// Names: 로드된 프롬프트 이름을 정렬해 반환합니다.
func (b *Bundle) Names() []string {
	names := make([]string, 0, len(b.prompts))
	for name := range b.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

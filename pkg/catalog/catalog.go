// Package catalog 描述可订阅的主题：所需权限与允许的过滤字段。
//
// Catalog 实现 ws.StreamPolicy，订阅时由网关调用 Authorize。
package catalog

import (
	"fmt"
	"net/http"
	"os"
	"slices"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/tokmz/pushgate/pkg/errors"
)

var (
	// ErrInvalidCatalog 目录文件错误
	ErrInvalidCatalog = errors.New("catalog_invalid", "invalid stream catalog", http.StatusInternalServerError)
	// ErrUnknownStream 严格模式下订阅未登记的主题
	ErrUnknownStream = errors.ErrValidation.WithMessage("unknown stream")
)

// Stream 一个可订阅主题
type Stream struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Permission  string   `yaml:"permission,omitempty"`  // 为空表示无需权限
	FilterKeys  []string `yaml:"filter_keys,omitempty"` // 为空表示不限制过滤字段
}

type document struct {
	Streams []Stream `yaml:"streams"`
}

// Config 目录配置
type Config struct {
	Path   string `mapstructure:"path"`   // 为空时不启用目录
	Strict bool   `mapstructure:"strict"` // 拒绝未登记的主题
}

// Catalog 主题目录，构建后只读
type Catalog struct {
	streams map[string]Stream
	strict  bool
}

// New 从主题列表构建目录
func New(streams []Stream, strict bool) (*Catalog, error) {
	c := &Catalog{streams: make(map[string]Stream, len(streams)), strict: strict}
	for _, s := range streams {
		if s.Name == "" {
			return nil, ErrInvalidCatalog.WithMessage("stream name is required")
		}
		if _, dup := c.streams[s.Name]; dup {
			return nil, ErrInvalidCatalog.WithMessage(fmt.Sprintf("duplicate stream %q", s.Name))
		}
		s.FilterKeys = slices.Clone(s.FilterKeys)
		sort.Strings(s.FilterKeys)
		c.streams[s.Name] = s
	}
	return c, nil
}

// Parse 解析 YAML 目录，未知字段视为错误
func Parse(data []byte, strict bool) (*Catalog, error) {
	var doc document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.DisallowUnknownField()); err != nil {
		return nil, ErrInvalidCatalog.WithError(err)
	}
	return New(doc.Streams, strict)
}

// Load 读取目录文件
func Load(cfg Config) (*Catalog, error) {
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, ErrInvalidCatalog.WithMessage("read catalog file").WithError(err)
	}
	return Parse(data, cfg.Strict)
}

// Lookup 查找主题
func (c *Catalog) Lookup(name string) (Stream, bool) {
	s, ok := c.streams[name]
	return s, ok
}

// Streams 全部主题（按名称排序）
func (c *Catalog) Streams() []Stream {
	out := make([]Stream, 0, len(c.streams))
	for _, s := range c.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Authorize 校验订阅：主题是否登记、权限、过滤字段
func (c *Catalog) Authorize(topic string, permissions []string, filter map[string]string) error {
	s, ok := c.streams[topic]
	if !ok {
		if c.strict {
			return ErrUnknownStream.WithMessage(fmt.Sprintf("unknown stream %q", topic))
		}
		return nil
	}
	if s.Permission != "" && !slices.Contains(permissions, s.Permission) {
		return errors.ErrForbidden.WithMessage(fmt.Sprintf("permission %q required for %s", s.Permission, topic))
	}
	if len(s.FilterKeys) == 0 {
		return nil
	}
	for k := range filter {
		if _, found := slices.BinarySearch(s.FilterKeys, k); !found {
			return errors.ErrValidation.WithMessage(fmt.Sprintf("filter %q not supported on %s", k, topic))
		}
	}
	return nil
}

// internal/models/content.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Content 元素的不透明内容负载
// 以有序的键值对保存，值保持原始JSON，未知键原样透传
type Content struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewContent 创建空内容
func NewContent() Content {
	return Content{values: make(map[string]json.RawMessage)}
}

// ParseContent 从JSON文本解析内容，空文本视为空对象
func ParseContent(data []byte) (Content, error) {
	c := NewContent()
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return NewContent(), err
	}
	return c, nil
}

func (c *Content) init() {
	if c.values == nil {
		c.values = make(map[string]json.RawMessage)
	}
}

// Len 返回键数量
func (c Content) Len() int {
	return len(c.keys)
}

// Keys 按插入顺序返回键的副本
func (c Content) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Has 判断键是否存在
func (c Content) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Get 返回键对应的原始JSON
func (c Content) Get(key string) (json.RawMessage, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set 设置键值，已存在的键保持原位置
func (c *Content) Set(key string, value json.RawMessage) {
	c.init()
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	buf := make(json.RawMessage, len(value))
	copy(buf, value)
	c.values[key] = buf
}

// SetValue 序列化任意值后写入
func (c *Content) SetValue(key string, value interface{}) error {
	raw, err := encodeJSON(value)
	if err != nil {
		return fmt.Errorf("序列化内容字段 %s 失败: %w", key, err)
	}
	c.Set(key, raw)
	return nil
}

// Delete 删除键
func (c *Content) Delete(key string) {
	if _, exists := c.values[key]; !exists {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// GetString 读取字符串字段，不存在或类型不符时返回空串
func (c Content) GetString(key string) string {
	raw, ok := c.values[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// GetObject 读取嵌套对象字段
func (c Content) GetObject(key string) (Content, bool) {
	raw, ok := c.values[key]
	if !ok {
		return Content{}, false
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Content{}, false
	}
	nested, err := ParseContent(trimmed)
	if err != nil {
		return Content{}, false
	}
	return nested, true
}

// Clone 深拷贝
func (c Content) Clone() Content {
	out := NewContent()
	for _, k := range c.keys {
		out.Set(k, c.values[k])
	}
	return out
}

// Merge 将 other 中出现的键逐个覆盖到当前内容，其余键保持不变
func (c *Content) Merge(other Content) {
	for _, k := range other.keys {
		c.Set(k, other.values[k])
	}
}

// Equal 比较两个内容的键序与值
func (c Content) Equal(other Content) bool {
	if len(c.keys) != len(other.keys) {
		return false
	}
	for i, k := range c.keys {
		if other.keys[i] != k {
			return false
		}
		if !bytes.Equal(c.values[k], other.values[k]) {
			return false
		}
	}
	return true
}

// AssetFileName 返回 url 字段指向的文件名，没有时返回空串
func (c Content) AssetFileName() string {
	u := strings.TrimSpace(c.GetString("url"))
	if u == "" {
		return ""
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	name := path.Base(u)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// MarshalJSON 按插入顺序输出
func (c Content) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encodeJSON(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		v := c.values[k]
		if len(v) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeJSON 序列化单个值，不转义 & < >，保证存储文本可按原字符检索
func encodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON 解析JSON对象并保留键顺序
func (c *Content) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = NewContent()
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("内容必须是JSON对象")
	}

	out := NewContent()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("无效的内容键: %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out.Set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}

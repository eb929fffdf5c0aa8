// internal/models/element.go
package models

import (
	"encoding/json"
	"time"
)

// 元素结构化列，其余键一律进入 content
var StructuredKeys = []string{
	"x", "y", "width", "height", "rotation",
	"style", "start_element_id", "end_element_id", "group_id",
}

// 身份与元数据键，既不是列赋值也不进入 content
var ReservedKeys = []string{
	"id", "page_id", "pageId", "type", "z_index", "zIndex", "content",
	"created_at", "updated_at",
}

// IsStructuredKey 判断是否为结构化列
func IsStructuredKey(key string) bool {
	for _, k := range StructuredKeys {
		if k == key {
			return true
		}
	}
	return false
}

// IsReservedKey 判断是否为保留键
func IsReservedKey(key string) bool {
	for _, k := range ReservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Element 页面上的定位元素
type Element struct {
	ID             string          `json:"id"`
	PageID         string          `json:"page_id"`
	Type           string          `json:"type"`
	X              float64         `json:"x"`
	Y              float64         `json:"y"`
	Width          float64         `json:"width"`
	Height         float64         `json:"height"`
	Rotation       float64         `json:"rotation"`
	ZIndex         int             `json:"z_index"`
	Style          json.RawMessage `json:"style,omitempty"`
	Content        Content         `json:"content"`
	StartElementID *string         `json:"start_element_id"`
	EndElementID   *string         `json:"end_element_id"`
	GroupID        *string         `json:"group_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone 深拷贝元素
func (e *Element) Clone() *Element {
	out := *e
	out.Content = e.Content.Clone()
	if e.Style != nil {
		out.Style = append(json.RawMessage(nil), e.Style...)
	}
	out.StartElementID = cloneStringPtr(e.StartElementID)
	out.EndElementID = cloneStringPtr(e.EndElementID)
	out.GroupID = cloneStringPtr(e.GroupID)
	return &out
}

// ElementPosition 批量位置更新项
type ElementPosition struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// SearchResult 搜索命中
type SearchResult struct {
	Element   *Element `json:"element"`
	PageTitle string   `json:"page_title"`
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr 返回字符串指针，空串返回nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

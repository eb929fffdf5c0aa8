// internal/services/merge.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
)

// ElementPatch 一次元素修改拆分后的结果
type ElementPatch struct {
	Structured models.Content // 结构化列赋值
	Opaque     models.Content // 顶层非结构化键，逐键合入 content
	Nested     models.Content // 负载中 content 子对象
}

// SplitPayload 把扁平负载拆分为结构化列、顶层不透明键与嵌套 content
// 保留键被丢弃
func SplitPayload(payload models.Content) (ElementPatch, error) {
	patch := ElementPatch{
		Structured: models.NewContent(),
		Opaque:     models.NewContent(),
		Nested:     models.NewContent(),
	}
	for _, key := range payload.Keys() {
		raw, _ := payload.Get(key)
		switch {
		case key == "content":
			if isJSONNull(raw) {
				continue
			}
			nested, err := models.ParseContent(raw)
			if err != nil {
				return patch, apperrors.NewValidationError("content 必须是JSON对象", err)
			}
			patch.Nested = nested
		case models.IsStructuredKey(key):
			patch.Structured.Set(key, raw)
		case models.IsReservedKey(key):
			continue
		default:
			patch.Opaque.Set(key, raw)
		}
	}
	return patch, nil
}

// Apply 把修改应用到元素副本上，返回合并后的元素
// content 以持久化的内容为基础，只覆盖修改中出现的键
func (p ElementPatch) Apply(current *models.Element) (*models.Element, error) {
	merged := current.Clone()
	for _, key := range p.Structured.Keys() {
		raw, _ := p.Structured.Get(key)
		if err := applyStructured(merged, key, raw); err != nil {
			return nil, err
		}
	}
	merged.Content.Merge(p.Opaque)
	merged.Content.Merge(p.Nested)
	return merged, nil
}

// Empty 修改是否不涉及任何字段
func (p ElementPatch) Empty() bool {
	return p.Structured.Len() == 0 && p.Opaque.Len() == 0 && p.Nested.Len() == 0
}

// applyStructured 结构化键直接赋值到列
func applyStructured(e *models.Element, key string, raw json.RawMessage) error {
	switch key {
	case "x", "y", "width", "height", "rotation":
		if isJSONNull(raw) {
			return nil
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("%s 必须是数字", key), err)
		}
		switch key {
		case "x":
			e.X = v
		case "y":
			e.Y = v
		case "width":
			e.Width = v
		case "height":
			e.Height = v
		case "rotation":
			e.Rotation = v
		}
	case "style":
		if isJSONNull(raw) {
			e.Style = nil
			return nil
		}
		e.Style = append(json.RawMessage(nil), bytes.TrimSpace(raw)...)
	case "start_element_id", "end_element_id", "group_id":
		ref, err := optionalString(key, raw)
		if err != nil {
			return err
		}
		switch key {
		case "start_element_id":
			e.StartElementID = ref
		case "end_element_id":
			e.EndElementID = ref
		case "group_id":
			e.GroupID = ref
		}
	}
	return nil
}

// optionalString null 或空串表示清除引用
func optionalString(key string, raw json.RawMessage) (*string, error) {
	if isJSONNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s 必须是字符串", key), err)
	}
	return models.StringPtr(s), nil
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// payloadString 读取负载中的字符串字段，按顺序尝试多个键名
func payloadString(payload models.Content, keys ...string) string {
	for _, k := range keys {
		if v := payload.GetString(k); v != "" {
			return v
		}
	}
	return ""
}

// payloadNumber 读取负载中的数字字段
func payloadNumber(payload models.Content, key string) (float64, bool) {
	raw, ok := payload.Get(key)
	if !ok || isJSONNull(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

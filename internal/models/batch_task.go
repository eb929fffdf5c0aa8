// internal/models/batch_task.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus 生成任务状态
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal 是否为终止状态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// BatchTask 批量视频生成任务
// 首尾帧任务与多镜头任务互斥
type BatchTask struct {
	ID              string     `json:"id"`
	ProjectID       *string    `json:"project_id"`
	FirstFrameURL   *string    `json:"first_frame_url"`
	LastFrameURL    *string    `json:"last_frame_url"`
	MiddleFrameURLs []string   `json:"middle_frame_urls"`
	MultiPrompts    []string   `json:"multi_prompts"`
	Prompt          string     `json:"prompt"`
	Duration        int        `json:"duration"`
	Audio           bool       `json:"audio"`
	AspectRatio     string     `json:"aspect_ratio"`
	Model           string     `json:"model"`
	Mode            string     `json:"mode"`
	Status          TaskStatus `json:"status"`
	VideoURL        *string    `json:"video_url"`
	ExternalTaskID  *string    `json:"external_task_id"`
	Error           *string    `json:"error"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsMultiShot 是否配置了多镜头
func (t *BatchTask) IsMultiShot() bool {
	return len(t.MiddleFrameURLs) > 0 || len(t.MultiPrompts) > 0
}

// HasEndpoints 是否配置了首帧或尾帧
func (t *BatchTask) HasEndpoints() bool {
	return nonEmpty(t.FirstFrameURL) || nonEmpty(t.LastFrameURL)
}

// ConfigError 任务配置冲突
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

// CheckShape 校验首尾帧与多镜头互斥以及多镜头数量上限
func (t *BatchTask) CheckShape(maxItems int) error {
	if t.HasEndpoints() && t.IsMultiShot() {
		return &ConfigError{Reason: "首尾帧与多镜头不能同时配置"}
	}
	if maxItems > 0 {
		if len(t.MiddleFrameURLs) > maxItems {
			return &ConfigError{Reason: fmt.Sprintf("多镜头图片最多 %d 张", maxItems)}
		}
		if len(t.MultiPrompts) > maxItems {
			return &ConfigError{Reason: fmt.Sprintf("多镜头提示词最多 %d 条", maxItems)}
		}
	}
	return nil
}

// BatchTaskUpdate 任务可更新字段，nil 表示不修改
type BatchTaskUpdate struct {
	ProjectID       *string   `json:"project_id,omitempty"`
	FirstFrameURL   *string   `json:"first_frame_url,omitempty"`
	LastFrameURL    *string   `json:"last_frame_url,omitempty"`
	MiddleFrameURLs *[]string `json:"middle_frame_urls,omitempty"`
	MultiPrompts    *[]string `json:"multi_prompts,omitempty"`
	Prompt          *string   `json:"prompt,omitempty"`
	Duration        *int      `json:"duration,omitempty"`
	Audio           *bool     `json:"audio,omitempty"`
	AspectRatio     *string   `json:"aspect_ratio,omitempty"`
	Model           *string   `json:"model,omitempty"`
	Mode            *string   `json:"mode,omitempty"`
}

// Apply 在任务副本上应用修改
func (u BatchTaskUpdate) Apply(t BatchTask) BatchTask {
	if u.ProjectID != nil {
		t.ProjectID = StringPtr(strings.TrimSpace(*u.ProjectID))
	}
	if u.FirstFrameURL != nil {
		t.FirstFrameURL = StringPtr(strings.TrimSpace(*u.FirstFrameURL))
	}
	if u.LastFrameURL != nil {
		t.LastFrameURL = StringPtr(strings.TrimSpace(*u.LastFrameURL))
	}
	if u.MiddleFrameURLs != nil {
		t.MiddleFrameURLs = compactStrings(*u.MiddleFrameURLs)
	}
	if u.MultiPrompts != nil {
		t.MultiPrompts = compactStrings(*u.MultiPrompts)
	}
	if u.Prompt != nil {
		t.Prompt = *u.Prompt
	}
	if u.Duration != nil {
		t.Duration = *u.Duration
	}
	if u.Audio != nil {
		t.Audio = *u.Audio
	}
	if u.AspectRatio != nil {
		t.AspectRatio = *u.AspectRatio
	}
	if u.Model != nil {
		t.Model = *u.Model
	}
	if u.Mode != nil {
		t.Mode = *u.Mode
	}
	return t
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// internal/videogen/interface.go
package videogen

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// 错误定义
var ErrUnknownProvider = errors.New("未知的视频生成提供者")

// Shot 多镜头中的一个镜头
type Shot struct {
	Image  string `json:"image,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// SubmitRequest 提交生成的参数，图片可以是 URL 或 base64
type SubmitRequest struct {
	Model       string `json:"model"`
	Mode        string `json:"mode"`
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	Audio       bool   `json:"audio"`
	FirstFrame  string `json:"first_frame,omitempty"`
	LastFrame   string `json:"last_frame,omitempty"`
	Shots       []Shot `json:"shots,omitempty"`
}

// IsMultiShot 是否为多镜头请求
func (r SubmitRequest) IsMultiShot() bool {
	return len(r.Shots) > 0
}

// RemoteStatus 提供者侧的任务状态
type RemoteStatus string

const (
	RemoteSubmitted  RemoteStatus = "submitted"
	RemoteProcessing RemoteStatus = "processing"
	RemoteSucceeded  RemoteStatus = "succeed"
	RemoteFailed     RemoteStatus = "failed"
)

// TaskState 轮询结果
type TaskState struct {
	TaskID   string       `json:"task_id"`
	Status   RemoteStatus `json:"status"`
	VideoURL string       `json:"video_url,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Done 是否已结束
func (s *TaskState) Done() bool {
	return s.Status == RemoteSucceeded || s.Status == RemoteFailed
}

// Provider 视频生成提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 提交生成任务，返回提供者侧的任务ID
	Submit(ctx context.Context, req SubmitRequest) (string, error)

	// 查询任务状态
	Poll(ctx context.Context, taskID string) (*TaskState, error)
}

// ProviderFactory 提供者工厂
type ProviderFactory func() Provider

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

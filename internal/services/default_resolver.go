// internal/services/default_resolver.go
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
)

// DefaultResolver 请求未指定故事板时的解析策略
// 优先使用配置的故事板，否则取最早项目的第一个故事板
type DefaultResolver struct {
	store        *storage.Store
	storyboardID string
}

// NewDefaultResolver 创建解析器，configured 可以为空
func NewDefaultResolver(store *storage.Store, configured string) *DefaultResolver {
	return &DefaultResolver{store: store, storyboardID: strings.TrimSpace(configured)}
}

// Storyboard 解析目标故事板；explicit 非空时直接使用
func (r *DefaultResolver) Storyboard(ctx context.Context, explicit string) (*models.Storyboard, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		sb, err := r.store.GetStoryboard(ctx, id)
		if err != nil {
			return nil, notFoundAs(err, "故事板不存在")
		}
		return sb, nil
	}

	if r.storyboardID != "" {
		sb, err := r.store.GetStoryboard(ctx, r.storyboardID)
		if err == nil {
			return sb, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, storeErr(err)
		}
		// 配置的故事板已被删除时回退到最早的故事板
	}

	sb, err := r.store.FirstStoryboard(ctx, "")
	if err != nil {
		return nil, notFoundAs(err, "没有可用的故事板")
	}
	return sb, nil
}

// ProjectStoryboard 项目的第一个故事板
func (r *DefaultResolver) ProjectStoryboard(ctx context.Context, projectID string) (*models.Storyboard, error) {
	if strings.TrimSpace(projectID) == "" {
		return r.Storyboard(ctx, "")
	}
	sb, err := r.store.FirstStoryboard(ctx, projectID)
	if err != nil {
		return nil, notFoundAs(err, "项目没有故事板")
	}
	return sb, nil
}

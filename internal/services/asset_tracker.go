// internal/services/asset_tracker.go
package services

import (
	"context"
	"sort"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// AssetTracker 删除元素前判断其引用的上传文件是否仍被使用
type AssetTracker struct {
	store   *storage.Store
	assets  *storage.AssetStorage
	locks   *LockManager
	metrics *utils.SyncMetrics
}

// NewAssetTracker 创建引用跟踪器
func NewAssetTracker(store *storage.Store, assets *storage.AssetStorage, locks *LockManager) *AssetTracker {
	if locks == nil {
		locks = NewLockManager()
	}
	return &AssetTracker{
		store:   store,
		assets:  assets,
		locks:   locks,
		metrics: utils.NewSyncMetrics(),
	}
}

// assetRef 待检查的文件
type assetRef struct {
	name string
	path string
}

// collectRefs 元素 content.url 指向的本地文件与 extra 中的文件，按文件名去重
func (t *AssetTracker) collectRefs(doomed []*models.Element, extra map[string]string) []assetRef {
	if t.assets == nil {
		return nil
	}
	seen := make(map[string]bool)
	refs := make([]assetRef, 0, len(doomed)+len(extra))
	for _, e := range doomed {
		name := e.Content.AssetFileName()
		if name == "" || seen[name] {
			continue
		}
		fullPath, ok := t.assets.Locate(e.Content.GetString("url"))
		if !ok {
			continue
		}
		seen[name] = true
		refs = append(refs, assetRef{name: name, path: fullPath})
	}
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		refs = append(refs, assetRef{name: name, path: extra[name]})
	}
	return refs
}

// RemoveFunc 在事务内读取将被删除（含级联）的元素并执行删除，返回这些元素
type RemoveFunc func(tx *storage.Tx) ([]*models.Element, error)

// RemoveWith 在单个事务内执行 remove 并统计剩余引用，提交后删除无人引用的文件
// 被删除的元素在同一事务内读取，统计与删除文件都在每个文件的锁内完成
func (t *AssetTracker) RemoveWith(ctx context.Context, remove RemoveFunc) ([]string, error) {
	return t.removeWith(ctx, nil, remove)
}

// RemoveProjectWith 删除项目时额外检查项目目录下的全部文件
// 被移到其他项目的页面仍引用的文件保留，目录只在清空后删除
func (t *AssetTracker) RemoveProjectWith(ctx context.Context, projectID string, remove RemoveFunc) ([]string, error) {
	var files map[string]string
	if t.assets != nil {
		f, err := t.assets.ProjectFiles(projectID)
		if err != nil {
			return nil, apperrors.NewAssetError("读取项目资源目录失败", err)
		}
		files = f
	}

	removed, err := t.removeWith(ctx, files, remove)
	if err != nil {
		return nil, err
	}

	if t.assets != nil {
		if _, err := t.assets.RemoveProjectIfEmpty(projectID); err != nil {
			utils.GetLogger().Warn("删除项目资源目录失败", map[string]interface{}{
				"project_id": projectID,
				"error":      err.Error(),
			})
		}
	}
	return removed, nil
}

func (t *AssetTracker) removeWith(ctx context.Context, extra map[string]string, remove RemoveFunc) ([]string, error) {
	var unlock func()
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	var orphaned []assetRef
	err := t.store.WithTx(ctx, func(tx *storage.Tx) error {
		doomed, err := remove(tx)
		if err != nil {
			return err
		}
		refs := t.collectRefs(doomed, extra)
		excluded := make([]string, len(doomed))
		for i, e := range doomed {
			excluded[i] = e.ID
		}

		// 事务互斥，其他锁持有者只可能处于提交后的删文件阶段
		if unlock == nil {
			keys := make([]string, len(refs))
			for i, r := range refs {
				keys[i] = "asset:" + r.name
			}
			unlock = t.locks.Lock(keys...)
		}

		orphaned = orphaned[:0]
		for _, r := range refs {
			n, err := tx.CountElementsReferencing(ctx, r.name, excluded)
			if err != nil {
				return err
			}
			if n == 0 {
				orphaned = append(orphaned, r)
			} else {
				t.metrics.RecordAssetRemoval(false)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(orphaned))
	for _, r := range orphaned {
		ok, err := t.assets.Remove(r.path)
		if err != nil {
			// 文件错误只记录，不影响已提交的删除
			utils.GetLogger().Warn("删除资源文件失败", map[string]interface{}{
				"file":  r.name,
				"error": err.Error(),
			})
			continue
		}
		if !ok {
			utils.GetLogger().Warn("资源文件不存在，跳过", map[string]interface{}{"file": r.name})
			continue
		}
		t.metrics.RecordAssetRemoval(true)
		removed = append(removed, r.name)
	}
	return removed, nil
}

// DeleteElements 删除元素并回收文件，返回实际删除的元素
func (t *AssetTracker) DeleteElements(ctx context.Context, ids []string) ([]*models.Element, error) {
	deleted := []*models.Element{}
	if len(ids) == 0 {
		return deleted, nil
	}
	_, err := t.RemoveWith(ctx, func(tx *storage.Tx) ([]*models.Element, error) {
		doomed, err := tx.GetElements(ctx, ids)
		if err != nil || len(doomed) == 0 {
			return nil, err
		}
		doomedIDs := make([]string, len(doomed))
		for i, e := range doomed {
			doomedIDs[i] = e.ID
		}
		if _, err := tx.DeleteElements(ctx, doomedIDs); err != nil {
			return nil, err
		}
		deleted = doomed
		return doomed, nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

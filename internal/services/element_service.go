// internal/services/element_service.go
package services

import (
	"context"
	"errors"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// ElementService 元素的创建、合并更新、移动与删除
type ElementService struct {
	store    *storage.Store
	tracker  *AssetTracker
	notifier *Notifier
	metrics  *utils.SyncMetrics
}

// NewElementService 创建元素服务
func NewElementService(store *storage.Store, tracker *AssetTracker, notifier *Notifier) *ElementService {
	return &ElementService{
		store:    store,
		tracker:  tracker,
		notifier: notifier,
		metrics:  utils.NewSyncMetrics(),
	}
}

// ListElements 按 z_index 列出页面元素
func (s *ElementService) ListElements(ctx context.Context, pageID string) ([]*models.Element, error) {
	if _, err := s.store.GetPage(ctx, pageID); err != nil {
		return nil, notFoundAs(err, "页面不存在")
	}
	elements, err := s.store.ListElements(ctx, pageID)
	return elements, storeErr(err)
}

// GetElement 获取元素
func (s *ElementService) GetElement(ctx context.Context, id string) (*models.Element, error) {
	e, err := s.store.GetElement(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "元素不存在")
	}
	return e, nil
}

// CreateElement 创建元素，结构化键写入列，其余键并入 content
// z_index 取页面当前最大值加一，空页面为 0
func (s *ElementService) CreateElement(ctx context.Context, payload models.Content) (*models.Element, error) {
	pageID := payloadString(payload, "page_id", "pageId")
	if pageID == "" {
		return nil, apperrors.NewValidationError("缺少 page_id", nil)
	}
	elementType := payload.GetString("type")
	if elementType == "" {
		return nil, apperrors.NewValidationError("缺少 type", nil)
	}

	patch, err := SplitPayload(payload)
	if err != nil {
		return nil, err
	}

	at := now()
	base := &models.Element{
		ID:        payloadString(payload, "id"),
		PageID:    pageID,
		Type:      elementType,
		Content:   models.NewContent(),
		CreatedAt: at,
		UpdatedAt: at,
	}
	if base.ID == "" {
		base.ID = newID()
	}
	element, err := patch.Apply(base)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetPage(ctx, pageID); err != nil {
			return notFoundAs(err, "页面不存在")
		}
		if _, err := tx.GetElement(ctx, element.ID); err == nil {
			return apperrors.NewConflictError("元素ID已存在", nil)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		max, err := tx.MaxZIndex(ctx, pageID)
		if err != nil {
			return err
		}
		element.ZIndex = max + 1
		return tx.InsertElement(ctx, element)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("element_create")
	s.notifier.Publish(ctx, models.EventElementAdd, element)
	return element, nil
}

// UpdateElement 以持久化状态为基础合并修改，广播合并后的完整元素
func (s *ElementService) UpdateElement(ctx context.Context, id string, payload models.Content) (*models.Element, error) {
	patch, err := SplitPayload(payload)
	if err != nil {
		return nil, err
	}

	var merged *models.Element
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		current, err := tx.GetElement(ctx, id)
		if err != nil {
			return notFoundAs(err, "元素不存在")
		}
		if patch.Empty() {
			merged = current
			return nil
		}
		merged, err = patch.Apply(current)
		if err != nil {
			return err
		}
		merged.UpdatedAt = now()
		return tx.SaveElement(ctx, merged)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("element_update")
	s.notifier.Publish(ctx, models.EventElementUpdate, merged)
	return merged, nil
}

// MoveElement 拖拽路径：立即转发原始负载，再只写入 x/y
func (s *ElementService) MoveElement(ctx context.Context, payload models.Content) error {
	id := payloadString(payload, "id")
	if id == "" {
		return apperrors.NewValidationError("缺少 id", nil)
	}
	x, okX := payloadNumber(payload, "x")
	y, okY := payloadNumber(payload, "y")
	if !okX || !okY {
		return apperrors.NewValidationError("x 与 y 必须是数字", nil)
	}

	s.notifier.Publish(ctx, models.EventElementMove, payload)

	if err := s.store.UpdateElementPosition(ctx, id, x, y, now()); err != nil {
		return notFoundAs(err, "元素不存在")
	}
	s.metrics.RecordMutation("element_move")
	return nil
}

// UpdatePositions 在一个事务内批量更新位置，每个元素单独广播一次移动事件
// 不存在的元素被跳过
func (s *ElementService) UpdatePositions(ctx context.Context, positions []models.ElementPosition) ([]models.ElementPosition, error) {
	if len(positions) == 0 {
		return []models.ElementPosition{}, nil
	}

	updated := make([]models.ElementPosition, 0, len(positions))
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		at := now()
		for _, p := range positions {
			if p.ID == "" {
				continue
			}
			if err := tx.UpdateElementPosition(ctx, p.ID, p.X, p.Y, at); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			updated = append(updated, p)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	for _, p := range updated {
		s.notifier.Publish(ctx, models.EventElementMove, p)
	}
	s.metrics.RecordMutation("element_positions")
	return updated, nil
}

// ReorderElements z_index 设为数组下标，只修改给出的元素
func (s *ElementService) ReorderElements(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		for i, id := range ids {
			if err := tx.SetElementZIndex(ctx, id, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeErr(err)
	}

	s.metrics.RecordMutation("element_reorder")
	s.notifier.Publish(ctx, models.EventElementReorder, models.ReorderPayload{IDs: ids})
	return nil
}

// MoveElementsToPage 把元素移到目标页面末尾
// 每个元素广播一次旧页面删除与新页面添加
func (s *ElementService) MoveElementsToPage(ctx context.Context, ids []string, targetPageID string) (*MoveResult, error) {
	if targetPageID == "" {
		return nil, apperrors.NewValidationError("缺少 targetPageId", nil)
	}
	result := &MoveResult{
		Moved:      make([]*models.Element, 0, len(ids)),
		FromPages:  make(map[string]string, len(ids)),
		TargetPage: targetPageID,
	}
	if len(ids) == 0 {
		return result, nil
	}

	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetPage(ctx, targetPageID); err != nil {
			return notFoundAs(err, "目标页面不存在")
		}
		max, err := tx.MaxZIndex(ctx, targetPageID)
		if err != nil {
			return err
		}
		at := now()
		for _, id := range ids {
			e, err := tx.GetElement(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if e.PageID == targetPageID {
				continue
			}
			max++
			if err := tx.SetElementPage(ctx, id, targetPageID, max, at); err != nil {
				return err
			}
			result.FromPages[id] = e.PageID
			e.PageID = targetPageID
			e.ZIndex = max
			e.UpdatedAt = at
			result.Moved = append(result.Moved, e)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	for _, e := range result.Moved {
		s.notifier.Publish(ctx, models.EventElementDelete, models.ElementRef{ID: e.ID, PageID: result.FromPages[e.ID]})
		s.notifier.Publish(ctx, models.EventElementAdd, e)
	}
	s.metrics.RecordMutation("element_batch_move")
	return result, nil
}

// DeleteElement 删除单个元素
func (s *ElementService) DeleteElement(ctx context.Context, id string) error {
	deleted, err := s.deleteElements(ctx, []string{id})
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return apperrors.NewNotFoundError("元素不存在", nil)
	}
	return nil
}

// DeleteElements 批量删除，返回实际删除数量
func (s *ElementService) DeleteElements(ctx context.Context, ids []string) (int, error) {
	deleted, err := s.deleteElements(ctx, ids)
	if err != nil {
		return 0, err
	}
	return len(deleted), nil
}

func (s *ElementService) deleteElements(ctx context.Context, ids []string) ([]*models.Element, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	deleted, err := s.tracker.DeleteElements(ctx, ids)
	if err != nil {
		return nil, storeErr(err)
	}
	for _, e := range deleted {
		s.notifier.Publish(ctx, models.EventElementDelete, models.ElementRef{ID: e.ID, PageID: e.PageID})
	}
	if len(deleted) > 0 {
		s.metrics.RecordMutation("element_delete")
	}
	return deleted, nil
}

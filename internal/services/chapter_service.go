// internal/services/chapter_service.go
package services

import (
	"context"
	"strings"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// ChapterService 章节管理
type ChapterService struct {
	store    *storage.Store
	tracker  *AssetTracker
	notifier *Notifier
	resolver *DefaultResolver
	metrics  *utils.SyncMetrics
}

// NewChapterService 创建章节服务
func NewChapterService(store *storage.Store, tracker *AssetTracker, notifier *Notifier, resolver *DefaultResolver) *ChapterService {
	return &ChapterService{
		store:    store,
		tracker:  tracker,
		notifier: notifier,
		resolver: resolver,
		metrics:  utils.NewSyncMetrics(),
	}
}

// ListChapters 按顺序列出章节
func (s *ChapterService) ListChapters(ctx context.Context, storyboardID string) ([]*models.Chapter, error) {
	if strings.TrimSpace(storyboardID) == "" {
		return nil, apperrors.NewValidationError("缺少 storyboardId", nil)
	}
	if _, err := s.store.GetStoryboard(ctx, storyboardID); err != nil {
		return nil, notFoundAs(err, "故事板不存在")
	}
	chapters, err := s.store.ListChapters(ctx, storyboardID)
	return chapters, storeErr(err)
}

// CreateChapter 在故事板末尾追加章节
func (s *ChapterService) CreateChapter(ctx context.Context, req CreateChapterRequest) (*models.Chapter, error) {
	title, err := requireName(req.Title, "title")
	if err != nil {
		return nil, err
	}
	sb, err := s.resolver.Storyboard(ctx, req.StoryboardID)
	if err != nil {
		return nil, err
	}

	chapter := &models.Chapter{
		ID:           newID(),
		StoryboardID: sb.ID,
		Title:        title,
		CreatedAt:    now(),
	}
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		n, err := tx.CountChapters(ctx, sb.ID)
		if err != nil {
			return err
		}
		chapter.OrderIndex = n
		return tx.InsertChapter(ctx, chapter)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("chapter_create")
	s.notifier.Publish(ctx, models.EventChapterAdd, chapter)
	return chapter, nil
}

// RenameChapter 修改章节标题
func (s *ChapterService) RenameChapter(ctx context.Context, id, title string) (*models.Chapter, error) {
	title, err := requireName(title, "title")
	if err != nil {
		return nil, err
	}

	var chapter *models.Chapter
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.RenameChapter(ctx, id, title); err != nil {
			return notFoundAs(err, "章节不存在")
		}
		c, err := tx.GetChapter(ctx, id)
		chapter = c
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("chapter_update")
	s.notifier.Publish(ctx, models.EventChapterUpdate, chapter)
	return chapter, nil
}

// DeleteChapter 删除章节及其页面与元素；包含系统视频页的章节不可删除
func (s *ChapterService) DeleteChapter(ctx context.Context, id string) error {
	chapter, err := s.store.GetChapter(ctx, id)
	if err != nil {
		return notFoundAs(err, "章节不存在")
	}
	hasSystem, err := s.store.ChapterHasSystemPage(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if hasSystem {
		return apperrors.NewConflictError("章节包含系统视频页，不能删除", nil)
	}

	_, err = s.tracker.RemoveWith(ctx, func(tx *storage.Tx) ([]*models.Element, error) {
		// 事务内再次检查系统视频页
		hasSystem, err := tx.ChapterHasSystemPage(ctx, id)
		if err != nil {
			return nil, err
		}
		if hasSystem {
			return nil, apperrors.NewConflictError("章节包含系统视频页，不能删除", nil)
		}
		current, err := tx.GetChapter(ctx, id)
		if err != nil {
			return nil, notFoundAs(err, "章节不存在")
		}
		pages, err := tx.ListContainerPages(ctx, current.StoryboardID, &current.ID)
		if err != nil {
			return nil, err
		}
		pageIDs := make([]string, len(pages))
		for i, p := range pages {
			pageIDs[i] = p.ID
		}
		elements, err := tx.ListPagesElements(ctx, pageIDs)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteChapter(ctx, id); err != nil {
			return nil, err
		}
		return elements, tx.CloseChapterGap(ctx, current.StoryboardID, current.OrderIndex)
	})
	if err != nil {
		return storeErr(err)
	}

	s.metrics.RecordMutation("chapter_delete")
	s.notifier.Publish(ctx, models.EventChapterDelete, chapter)
	return nil
}

// ReorderChapters order_index 设为数组下标，只修改给出的章节
func (s *ChapterService) ReorderChapters(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		for i, id := range ids {
			if err := tx.SetChapterOrder(ctx, id, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeErr(err)
	}

	s.metrics.RecordMutation("chapter_reorder")
	s.notifier.Publish(ctx, models.EventChaptersReorder, models.ReorderPayload{IDs: ids})
	return nil
}

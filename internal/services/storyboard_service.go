// internal/services/storyboard_service.go
package services

import (
	"context"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// StoryboardService 故事板管理
type StoryboardService struct {
	store    *storage.Store
	tracker  *AssetTracker
	notifier *Notifier
	metrics  *utils.SyncMetrics
}

// NewStoryboardService 创建故事板服务
func NewStoryboardService(store *storage.Store, tracker *AssetTracker, notifier *Notifier) *StoryboardService {
	return &StoryboardService{
		store:    store,
		tracker:  tracker,
		notifier: notifier,
		metrics:  utils.NewSyncMetrics(),
	}
}

// ListStoryboards 列出项目下的故事板
func (s *StoryboardService) ListStoryboards(ctx context.Context, projectID string) ([]*models.Storyboard, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, notFoundAs(err, "项目不存在")
	}
	boards, err := s.store.ListStoryboards(ctx, projectID)
	return boards, storeErr(err)
}

// CreateStoryboard 创建故事板
func (s *StoryboardService) CreateStoryboard(ctx context.Context, req CreateStoryboardRequest) (*models.Storyboard, error) {
	if req.ProjectID == "" {
		return nil, apperrors.NewValidationError("缺少 projectId", nil)
	}
	name, err := requireName(req.Name, "name")
	if err != nil {
		return nil, err
	}

	board := &models.Storyboard{ID: newID(), ProjectID: req.ProjectID, Name: name, CreatedAt: now()}
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetProject(ctx, req.ProjectID); err != nil {
			return notFoundAs(err, "项目不存在")
		}
		return tx.InsertStoryboard(ctx, board)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("storyboard_create")
	s.notifier.Publish(ctx, models.EventStoryboardAdd, board)
	return board, nil
}

// RenameStoryboard 重命名故事板
func (s *StoryboardService) RenameStoryboard(ctx context.Context, id, name string) (*models.Storyboard, error) {
	name, err := requireName(name, "name")
	if err != nil {
		return nil, err
	}

	var board *models.Storyboard
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.RenameStoryboard(ctx, id, name); err != nil {
			return notFoundAs(err, "故事板不存在")
		}
		b, err := tx.GetStoryboard(ctx, id)
		board = b
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("storyboard_update")
	s.notifier.Publish(ctx, models.EventStoryboardUpdate, board)
	return board, nil
}

// DeleteStoryboard 删除故事板；项目的最后一个故事板与包含系统视频页的故事板不可删除
func (s *StoryboardService) DeleteStoryboard(ctx context.Context, id string) error {
	board, err := s.store.GetStoryboard(ctx, id)
	if err != nil {
		return notFoundAs(err, "故事板不存在")
	}

	_, err = s.tracker.RemoveWith(ctx, func(tx *storage.Tx) ([]*models.Element, error) {
		n, err := tx.CountStoryboards(ctx, board.ProjectID)
		if err != nil {
			return nil, err
		}
		if n <= 1 {
			return nil, apperrors.NewConflictError("不能删除项目的最后一个故事板", nil)
		}
		hasSystem, err := tx.StoryboardHasSystemPage(ctx, id)
		if err != nil {
			return nil, err
		}
		if hasSystem {
			return nil, apperrors.NewConflictError("故事板包含系统视频页，不能删除", nil)
		}
		pages, err := tx.ListStoryboardPages(ctx, id)
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
		return elements, notFoundAs(tx.DeleteStoryboard(ctx, id), "故事板不存在")
	})
	if err != nil {
		return storeErr(err)
	}

	s.metrics.RecordMutation("storyboard_delete")
	s.notifier.Publish(ctx, models.EventStoryboardDelete, board)
	return nil
}

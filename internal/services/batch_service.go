// internal/services/batch_service.go
package services

import (
	"context"
	"errors"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// 生成任务默认参数
const (
	DefaultTaskDuration    = 5
	DefaultTaskAspectRatio = "16:9"
	DefaultTaskModel       = "kling-v2-1"
	DefaultTaskMode        = "std"
)

var supportedAspectRatios = map[string]bool{"16:9": true, "9:16": true, "1:1": true}

// BatchService 批量生成任务的增删改查
type BatchService struct {
	store    *storage.Store
	notifier *Notifier
	maxShots int
	metrics  *utils.SyncMetrics
}

// NewBatchService 创建任务服务，maxShots 为多镜头数量上限
func NewBatchService(store *storage.Store, notifier *Notifier, maxShots int) *BatchService {
	return &BatchService{
		store:    store,
		notifier: notifier,
		maxShots: maxShots,
		metrics:  utils.NewSyncMetrics(),
	}
}

// ListTasks 列出全部任务
func (s *BatchService) ListTasks(ctx context.Context) ([]*models.BatchTask, error) {
	tasks, err := s.store.ListBatchTasks(ctx)
	return tasks, storeErr(err)
}

// GetTask 获取任务
func (s *BatchService) GetTask(ctx context.Context, id string) (*models.BatchTask, error) {
	t, err := s.store.GetBatchTask(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "任务不存在")
	}
	return t, nil
}

// validate 校验任务配置，形状冲突返回 ConflictError
func (s *BatchService) validate(t *models.BatchTask) error {
	if err := t.CheckShape(s.maxShots); err != nil {
		var cfgErr *models.ConfigError
		if errors.As(err, &cfgErr) {
			return apperrors.NewConflictError(cfgErr.Reason, err)
		}
		return err
	}
	if t.Duration <= 0 {
		return apperrors.NewValidationError("duration 必须大于 0", nil)
	}
	if !supportedAspectRatios[t.AspectRatio] {
		return apperrors.NewValidationError("不支持的画面比例: "+t.AspectRatio, nil)
	}
	return nil
}

// CreateTask 创建待生成任务
func (s *BatchService) CreateTask(ctx context.Context, req models.BatchTaskUpdate) (*models.BatchTask, error) {
	at := now()
	base := models.BatchTask{
		ID:              newID(),
		MiddleFrameURLs: []string{},
		MultiPrompts:    []string{},
		Duration:        DefaultTaskDuration,
		AspectRatio:     DefaultTaskAspectRatio,
		Model:           DefaultTaskModel,
		Mode:            DefaultTaskMode,
		Status:          models.TaskStatusPending,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	task := req.Apply(base)
	if err := s.validate(&task); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if task.ProjectID != nil {
			if _, err := tx.GetProject(ctx, *task.ProjectID); err != nil {
				return notFoundAs(err, "项目不存在")
			}
		}
		return tx.InsertBatchTask(ctx, &task)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("batch_create")
	s.notifier.Publish(ctx, models.EventBatchAdd, &task)
	return &task, nil
}

// UpdateTask 修改任务配置；冲突时任务保持不变
func (s *BatchService) UpdateTask(ctx context.Context, id string, req models.BatchTaskUpdate) (*models.BatchTask, error) {
	var updated models.BatchTask
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		current, err := tx.GetBatchTask(ctx, id)
		if err != nil {
			return notFoundAs(err, "任务不存在")
		}
		if current.Status == models.TaskStatusGenerating {
			return apperrors.NewConflictError("任务生成中，不能修改", nil)
		}
		updated = req.Apply(*current)
		if err := s.validate(&updated); err != nil {
			return err
		}
		if updated.ProjectID != nil {
			if _, err := tx.GetProject(ctx, *updated.ProjectID); err != nil {
				return notFoundAs(err, "项目不存在")
			}
		}
		updated.UpdatedAt = now()
		return tx.SaveBatchTaskConfig(ctx, &updated)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("batch_update")
	s.notifier.Publish(ctx, models.EventBatchUpdate, &updated)
	return &updated, nil
}

// DeleteTask 删除任务
func (s *BatchService) DeleteTask(ctx context.Context, id string) error {
	if err := s.store.DeleteBatchTask(ctx, id); err != nil {
		return notFoundAs(err, "任务不存在")
	}
	s.metrics.RecordMutation("batch_delete")
	s.notifier.Publish(ctx, models.EventBatchDelete, map[string]string{"id": id})
	return nil
}

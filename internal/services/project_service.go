// internal/services/project_service.go
package services

import (
	"context"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// ProjectService 项目管理
type ProjectService struct {
	store    *storage.Store
	tracker  *AssetTracker
	notifier *Notifier
	metrics  *utils.SyncMetrics
}

// ProjectDetail 新建项目时一并创建的默认结构
type ProjectDetail struct {
	*models.Project
	Storyboard *models.Storyboard `json:"storyboard"`
	Chapter    *models.Chapter    `json:"chapter"`
	Page       *models.Page       `json:"page"`
}

// NewProjectService 创建项目服务
func NewProjectService(store *storage.Store, tracker *AssetTracker, notifier *Notifier) *ProjectService {
	return &ProjectService{
		store:    store,
		tracker:  tracker,
		notifier: notifier,
		metrics:  utils.NewSyncMetrics(),
	}
}

// ListProjects 列出全部项目
func (s *ProjectService) ListProjects(ctx context.Context) ([]*models.Project, error) {
	projects, err := s.store.ListProjects(ctx)
	return projects, storeErr(err)
}

// GetProject 获取项目
func (s *ProjectService) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "项目不存在")
	}
	return p, nil
}

// CreateProject 创建项目及其默认故事板、第一章与第一页
func (s *ProjectService) CreateProject(ctx context.Context, name string) (*ProjectDetail, error) {
	name, err := requireName(name, "name")
	if err != nil {
		return nil, err
	}

	at := now()
	detail := &ProjectDetail{
		Project: &models.Project{ID: newID(), Name: name, CreatedAt: at, UpdatedAt: at},
	}
	detail.Storyboard = &models.Storyboard{ID: newID(), ProjectID: detail.ID, Name: DefaultStoryboardName, CreatedAt: at}
	detail.Chapter = &models.Chapter{ID: newID(), StoryboardID: detail.Storyboard.ID, Title: DefaultChapterTitle, CreatedAt: at}
	chapterID := detail.Chapter.ID
	detail.Page = &models.Page{
		ID:           newID(),
		StoryboardID: detail.Storyboard.ID,
		ChapterID:    &chapterID,
		Title:        DefaultPageTitle,
		CreatedAt:    at,
	}

	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.InsertProject(ctx, detail.Project); err != nil {
			return err
		}
		if err := tx.InsertStoryboard(ctx, detail.Storyboard); err != nil {
			return err
		}
		if err := tx.InsertChapter(ctx, detail.Chapter); err != nil {
			return err
		}
		return tx.InsertPage(ctx, detail.Page)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("project_create")
	s.notifier.Publish(ctx, models.EventProjectAdd, detail)
	return detail, nil
}

// EnsureProject 没有任何项目时创建默认项目
func (s *ProjectService) EnsureProject(ctx context.Context, name string) error {
	n, err := s.store.CountProjects(ctx)
	if err != nil {
		return storeErr(err)
	}
	if n > 0 {
		return nil
	}
	_, err = s.CreateProject(ctx, name)
	return err
}

// RenameProject 重命名项目
func (s *ProjectService) RenameProject(ctx context.Context, id, name string) (*models.Project, error) {
	name, err := requireName(name, "name")
	if err != nil {
		return nil, err
	}

	var project *models.Project
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.RenameProject(ctx, id, name, now()); err != nil {
			return notFoundAs(err, "项目不存在")
		}
		p, err := tx.GetProject(ctx, id)
		project = p
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("project_update")
	s.notifier.Publish(ctx, models.EventProjectUpdate, project)
	return project, nil
}

// DeleteProject 删除项目并回收资源目录中不再被引用的文件；最后一个项目不可删除
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	var project *models.Project
	_, err := s.tracker.RemoveProjectWith(ctx, id, func(tx *storage.Tx) ([]*models.Element, error) {
		p, err := tx.GetProject(ctx, id)
		if err != nil {
			return nil, notFoundAs(err, "项目不存在")
		}
		n, err := tx.CountProjects(ctx)
		if err != nil {
			return nil, err
		}
		if n <= 1 {
			return nil, apperrors.NewConflictError("不能删除最后一个项目", nil)
		}
		elements, err := tx.ListProjectElements(ctx, id)
		if err != nil {
			return nil, err
		}
		project = p
		return elements, tx.DeleteProject(ctx, id)
	})
	if err != nil {
		return storeErr(err)
	}

	s.metrics.RecordMutation("project_delete")
	s.notifier.Publish(ctx, models.EventProjectDelete, project)
	return nil
}

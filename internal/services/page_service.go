// internal/services/page_service.go
package services

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// PageService 页面的增删改、排序、复制与移动
type PageService struct {
	store    *storage.Store
	tracker  *AssetTracker
	notifier *Notifier
	resolver *DefaultResolver
	metrics  *utils.SyncMetrics
}

// NewPageService 创建页面服务
func NewPageService(store *storage.Store, tracker *AssetTracker, notifier *Notifier, resolver *DefaultResolver) *PageService {
	return &PageService{
		store:    store,
		tracker:  tracker,
		notifier: notifier,
		resolver: resolver,
		metrics:  utils.NewSyncMetrics(),
	}
}

// DuplicateResult 复制页面的结果
type DuplicateResult struct {
	Page     *models.Page      `json:"page"`
	Elements []*models.Element `json:"elements"`
}

// ListPages 列出故事板页面；给出章节时只列该章节
func (s *PageService) ListPages(ctx context.Context, storyboardID string, chapterID *string) ([]*models.Page, error) {
	if strings.TrimSpace(storyboardID) == "" {
		return nil, apperrors.NewValidationError("缺少 storyboardId", nil)
	}
	if _, err := s.store.GetStoryboard(ctx, storyboardID); err != nil {
		return nil, notFoundAs(err, "故事板不存在")
	}
	if chapterID != nil && *chapterID != "" {
		pages, err := s.store.ListContainerPages(ctx, storyboardID, chapterID)
		return pages, storeErr(err)
	}
	pages, err := s.store.ListStoryboardPages(ctx, storyboardID)
	return pages, storeErr(err)
}

// GetPage 获取页面
func (s *PageService) GetPage(ctx context.Context, id string) (*models.Page, error) {
	p, err := s.store.GetPage(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "页面不存在")
	}
	return p, nil
}

// CreatePage 在容器末尾创建页面；未指定故事板时使用默认故事板
func (s *PageService) CreatePage(ctx context.Context, req CreatePageRequest) (*models.Page, error) {
	sb, err := s.resolver.Storyboard(ctx, req.StoryboardID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "新页面"
	}
	chapterID := req.ChapterID
	if chapterID != nil && *chapterID == "" {
		chapterID = nil
	}

	page := &models.Page{
		ID:           newID(),
		StoryboardID: sb.ID,
		ChapterID:    chapterID,
		Title:        title,
		CreatedAt:    now(),
	}
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if chapterID != nil {
			ch, err := tx.GetChapter(ctx, *chapterID)
			if err != nil {
				return notFoundAs(err, "章节不存在")
			}
			if ch.StoryboardID != sb.ID {
				return apperrors.NewValidationError("章节不属于该故事板", nil)
			}
		}
		n, err := tx.CountContainerPages(ctx, sb.ID, chapterID)
		if err != nil {
			return err
		}
		page.OrderIndex = n
		return tx.InsertPage(ctx, page)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("page_create")
	s.notifier.Publish(ctx, models.EventPageAdd, page)
	return page, nil
}

// UpdatePage 修改标题、缩略图或视口
func (s *PageService) UpdatePage(ctx context.Context, id string, update models.PageUpdate) (*models.Page, error) {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, apperrors.NewValidationError("标题不能为空", nil)
		}
		update.Title = &title
	}

	var page *models.Page
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.UpdatePage(ctx, id, update); err != nil {
			return notFoundAs(err, "页面不存在")
		}
		p, err := tx.GetPage(ctx, id)
		if err != nil {
			return notFoundAs(err, "页面不存在")
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("page_update")
	s.notifier.Publish(ctx, models.EventPageUpdate, page)
	return page, nil
}

// DeletePage 删除页面及其元素，系统视频页不可删除
func (s *PageService) DeletePage(ctx context.Context, id string) error {
	page, err := s.store.GetPage(ctx, id)
	if err != nil {
		return notFoundAs(err, "页面不存在")
	}
	if page.IsSystemPage() {
		return apperrors.NewConflictError("系统视频页不能删除", nil)
	}
	_, err = s.tracker.RemoveWith(ctx, func(tx *storage.Tx) ([]*models.Element, error) {
		current, err := tx.GetPage(ctx, id)
		if err != nil {
			return nil, notFoundAs(err, "页面不存在")
		}
		if current.IsSystemPage() {
			return nil, apperrors.NewConflictError("系统视频页不能删除", nil)
		}
		elements, err := tx.ListElements(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := tx.DeletePage(ctx, id); err != nil {
			return nil, err
		}
		return elements, tx.ClosePageGap(ctx, current.StoryboardID, current.ChapterID, current.OrderIndex)
	})
	if err != nil {
		return storeErr(err)
	}

	s.metrics.RecordMutation("page_delete")
	s.notifier.Publish(ctx, models.EventPageDelete, page)
	return nil
}

// ReorderPages order_index 设为数组下标，只修改给出的页面
func (s *PageService) ReorderPages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		for i, id := range ids {
			if err := tx.SetPageOrder(ctx, id, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeErr(err)
	}

	s.metrics.RecordMutation("page_reorder")
	s.notifier.Publish(ctx, models.EventPagesReorder, models.ReorderPayload{IDs: ids})
	return nil
}

// DuplicatePage 深拷贝页面与元素，新页面插在原页面之后
// 连接线引用按新旧ID映射改写，指向复制集之外的引用置空
func (s *PageService) DuplicatePage(ctx context.Context, id string) (*DuplicateResult, error) {
	result := &DuplicateResult{}
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		source, err := tx.GetPage(ctx, id)
		if err != nil {
			return notFoundAs(err, "页面不存在")
		}
		elements, err := tx.ListElements(ctx, id)
		if err != nil {
			return err
		}

		at := now()
		copyPage := &models.Page{
			ID:            newID(),
			StoryboardID:  source.StoryboardID,
			ChapterID:     cloneString(source.ChapterID),
			Title:         source.Title + " 副本",
			OrderIndex:    source.OrderIndex + 1,
			Thumbnail:     cloneString(source.Thumbnail),
			ViewportX:     cloneFloat(source.ViewportX),
			ViewportY:     cloneFloat(source.ViewportY),
			ViewportScale: cloneFloat(source.ViewportScale),
			CreatedAt:     at,
		}
		if err := tx.ShiftPages(ctx, source.StoryboardID, source.ChapterID, copyPage.OrderIndex, 1); err != nil {
			return err
		}
		if err := tx.InsertPage(ctx, copyPage); err != nil {
			return err
		}

		copies := duplicateElements(elements, copyPage.ID, at)
		for _, e := range copies {
			if err := tx.InsertElement(ctx, e); err != nil {
				return err
			}
		}
		result.Page = copyPage
		result.Elements = copies
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("page_duplicate")
	s.notifier.Publish(ctx, models.EventPageAdd, result.Page)
	return result, nil
}

// duplicateElements 为每个元素分配新ID并改写连接线引用
// group_id 原样复制
func duplicateElements(elements []*models.Element, pageID string, at time.Time) []*models.Element {
	remap := make(map[string]string, len(elements))
	for _, e := range elements {
		remap[e.ID] = newID()
	}

	copies := make([]*models.Element, 0, len(elements))
	for _, e := range elements {
		c := e.Clone()
		c.ID = remap[e.ID]
		c.PageID = pageID
		c.StartElementID = remapRef(remap, e.StartElementID)
		c.EndElementID = remapRef(remap, e.EndElementID)
		c.CreatedAt = at
		c.UpdatedAt = at
		copies = append(copies, c)
	}
	return copies
}

func remapRef(remap map[string]string, ref *string) *string {
	if ref == nil {
		return nil
	}
	if id, ok := remap[*ref]; ok {
		return &id
	}
	return nil
}

// MovePageToChapter 把页面追加到目标章节末尾；chapterID 为空时移到故事板顶层
func (s *PageService) MovePageToChapter(ctx context.Context, pageID string, chapterID *string) (*models.Page, error) {
	if chapterID != nil && *chapterID == "" {
		chapterID = nil
	}

	var page *models.Page
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		current, err := tx.GetPage(ctx, pageID)
		if err != nil {
			return notFoundAs(err, "页面不存在")
		}
		targetSB := current.StoryboardID
		if chapterID != nil {
			ch, err := tx.GetChapter(ctx, *chapterID)
			if err != nil {
				return notFoundAs(err, "章节不存在")
			}
			targetSB = ch.StoryboardID
		}
		if current.IsSystemPage() && targetSB != current.StoryboardID {
			return apperrors.NewConflictError("系统视频页不能移动到其他故事板", nil)
		}
		if targetSB == current.StoryboardID && sameRef(current.ChapterID, chapterID) {
			page = current
			return nil
		}

		index, err := tx.CountContainerPages(ctx, targetSB, chapterID)
		if err != nil {
			return err
		}
		if err := tx.SetPageContainer(ctx, pageID, targetSB, chapterID, index); err != nil {
			return err
		}
		if err := tx.ClosePageGap(ctx, current.StoryboardID, current.ChapterID, current.OrderIndex); err != nil {
			return err
		}
		page, err = tx.GetPage(ctx, pageID)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.RecordMutation("page_move_chapter")
	s.notifier.Publish(ctx, models.EventPageUpdate, page)
	return page, nil
}

// MovePageToProject 把页面移到另一项目故事板的最后一个章节末尾
// 目标故事板没有章节时自动创建 "Imported Pages"
func (s *PageService) MovePageToProject(ctx context.Context, pageID, projectID string) (*models.Page, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, apperrors.NewValidationError("缺少 projectId", nil)
	}

	var (
		before  *models.Page
		page    *models.Page
		created *models.Chapter
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		current, err := tx.GetPage(ctx, pageID)
		if err != nil {
			return notFoundAs(err, "页面不存在")
		}
		if current.IsSystemPage() {
			return apperrors.NewConflictError("系统视频页不能移动到其他项目", nil)
		}
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return notFoundAs(err, "项目不存在")
		}
		sb, err := tx.FirstStoryboard(ctx, projectID)
		if err != nil {
			return notFoundAs(err, "目标项目没有故事板")
		}
		if sb.ID == current.StoryboardID {
			page = current
			return nil
		}

		chapters, err := tx.ListChapters(ctx, sb.ID)
		if err != nil {
			return err
		}
		var chapterID string
		if len(chapters) == 0 {
			created = &models.Chapter{
				ID:           newID(),
				StoryboardID: sb.ID,
				Title:        ImportedChapterTitle,
				OrderIndex:   0,
				CreatedAt:    now(),
			}
			if err := tx.InsertChapter(ctx, created); err != nil {
				return err
			}
			chapterID = created.ID
		} else {
			chapterID = chapters[len(chapters)-1].ID
		}

		index, err := tx.CountContainerPages(ctx, sb.ID, &chapterID)
		if err != nil {
			return err
		}
		if err := tx.SetPageContainer(ctx, pageID, sb.ID, &chapterID, index); err != nil {
			return err
		}
		if err := tx.ClosePageGap(ctx, current.StoryboardID, current.ChapterID, current.OrderIndex); err != nil {
			return err
		}
		before = current
		page, err = tx.GetPage(ctx, pageID)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	if before == nil {
		return page, nil
	}

	s.metrics.RecordMutation("page_move_project")
	if created != nil {
		s.notifier.Publish(ctx, models.EventChapterAdd, created)
	}
	s.notifier.Publish(ctx, models.EventPageDelete, before)
	s.notifier.Publish(ctx, models.EventPageAdd, page)
	return page, nil
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

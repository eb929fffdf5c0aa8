// internal/services/structs.go
package services

import (
	"errors"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/google/uuid"
)

// 默认名称
const (
	DefaultStoryboardName = "默认故事板"
	DefaultChapterTitle   = "第一章"
	DefaultPageTitle      = "第一页"
	ImportedChapterTitle  = "Imported Pages"
	VideosPageTitle       = "视频"
	VideosChapterTitle    = "生成视频"
)

// CreatePageRequest 创建页面请求
type CreatePageRequest struct {
	StoryboardID string  `json:"storyboardId"`
	ChapterID    *string `json:"chapterId"`
	Title        string  `json:"title"`
}

// CreateChapterRequest 创建章节请求
type CreateChapterRequest struct {
	StoryboardID string `json:"storyboardId"`
	Title        string `json:"title"`
}

// CreateStoryboardRequest 创建故事板请求
type CreateStoryboardRequest struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

// MoveResult 跨页移动元素的结果
type MoveResult struct {
	Moved      []*models.Element `json:"moved"`
	FromPages  map[string]string `json:"from_pages"` // 元素ID -> 原页面ID
	TargetPage string            `json:"target_page_id"`
}

func newID() string {
	return uuid.NewString()
}

func now() time.Time {
	return time.Now().UTC()
}

// notFoundAs 把存储层的不存在错误转换为应用错误
func notFoundAs(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError(message, err)
	}
	if apperrors.TypeOf(err) != "" {
		return err
	}
	return apperrors.NewProcessingError("数据库操作失败", err)
}

// storeErr 包装非业务错误
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.TypeOf(err) != "" {
		return err
	}
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError("记录不存在", err)
	}
	return apperrors.NewProcessingError("数据库操作失败", err)
}

func requireName(value, field string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", apperrors.NewValidationError("缺少 "+field, nil)
	}
	return v, nil
}

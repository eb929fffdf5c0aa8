// internal/services/search_service.go
package services

import (
	"context"
	"strings"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
)

// DefaultSearchLimit 搜索结果数量上限
const DefaultSearchLimit = 50

// SearchService 元素全文搜索
type SearchService struct {
	store *storage.Store
	limit int
}

// NewSearchService 创建搜索服务，limit<=0 时使用默认上限
func NewSearchService(store *storage.Store, limit int) *SearchService {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return &SearchService{store: store, limit: limit}
}

// Search 在类型与内容中查找子串，projectID 为空时搜索全部项目
func (s *SearchService) Search(ctx context.Context, q, projectID string) ([]*models.SearchResult, error) {
	term := strings.TrimSpace(q)
	if term == "" {
		return nil, apperrors.NewValidationError("搜索关键词不能为空", nil)
	}
	results, err := s.store.SearchElements(ctx, term, strings.TrimSpace(projectID), s.limit)
	return results, storeErr(err)
}

// internal/storage/page_store.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Corphon/StoryboardSync/internal/models"
)

const pageColumns = `id, storyboard_id, chapter_id, title, order_index, thumbnail, type,
	viewport_x, viewport_y, viewport_scale, created_at`

// nullablePage 扫描页面时的可空列
type nullablePage struct {
	chapterID, thumbnail, typ sql.NullString
	title                     string
	order                     int
	vx, vy, vs                sql.NullFloat64
}

func scanPage(row interface{ Scan(...interface{}) error }) (*models.Page, error) {
	var (
		p                nullablePage
		created          int64
		storyboardID, id string
	)
	if err := row.Scan(&id, &storyboardID, &p.chapterID, &p.title, &p.order, &p.thumbnail, &p.typ,
		&p.vx, &p.vy, &p.vs, &created); err != nil {
		return nil, err
	}
	return &models.Page{
		ID:            id,
		StoryboardID:  storyboardID,
		ChapterID:     stringPtr(p.chapterID),
		Title:         p.title,
		OrderIndex:    p.order,
		Thumbnail:     stringPtr(p.thumbnail),
		Type:          stringPtr(p.typ),
		ViewportX:     floatPtr(p.vx),
		ViewportY:     floatPtr(p.vy),
		ViewportScale: floatPtr(p.vs),
		CreatedAt:     fromMillis(created),
	}, nil
}

// containerClause 页面排序作用域：章节内，或故事板内无章节的页面
func containerClause(storyboardID string, chapterID *string) (string, []interface{}) {
	if chapterID != nil {
		return "chapter_id = ?", []interface{}{*chapterID}
	}
	return "storyboard_id = ? AND chapter_id IS NULL", []interface{}{storyboardID}
}

func (q *Queries) queryPages(ctx context.Context, where string, args ...interface{}) ([]*models.Page, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+pageColumns+" FROM pages WHERE "+where+" ORDER BY order_index, rowid", args...)
	if err != nil {
		return nil, fmt.Errorf("查询页面失败: %w", err)
	}
	defer rows.Close()

	pages := make([]*models.Page, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ListStoryboardPages 列出故事板下全部页面
func (q *Queries) ListStoryboardPages(ctx context.Context, storyboardID string) ([]*models.Page, error) {
	return q.queryPages(ctx, "storyboard_id = ?", storyboardID)
}

// ListContainerPages 列出同一排序作用域内的页面
func (q *Queries) ListContainerPages(ctx context.Context, storyboardID string, chapterID *string) ([]*models.Page, error) {
	where, args := containerClause(storyboardID, chapterID)
	return q.queryPages(ctx, where, args...)
}

// GetPage 获取页面
func (q *Queries) GetPage(ctx context.Context, id string) (*models.Page, error) {
	p, err := scanPage(q.q.QueryRowContext(ctx, "SELECT "+pageColumns+" FROM pages WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// StoryboardHasSystemPage 故事板内是否有系统视频页
func (q *Queries) StoryboardHasSystemPage(ctx context.Context, storyboardID string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pages WHERE storyboard_id = ? AND type = ?", storyboardID, models.PageTypeVideos).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindSystemPage 故事板内的系统视频页
func (q *Queries) FindSystemPage(ctx context.Context, storyboardID string) (*models.Page, error) {
	p, err := scanPage(q.q.QueryRowContext(ctx,
		"SELECT "+pageColumns+" FROM pages WHERE storyboard_id = ? AND type = ? ORDER BY rowid LIMIT 1",
		storyboardID, models.PageTypeVideos))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// CountContainerPages 排序作用域内的页面数量
func (q *Queries) CountContainerPages(ctx context.Context, storyboardID string, chapterID *string) (int, error) {
	where, args := containerClause(storyboardID, chapterID)
	var n int
	err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages WHERE "+where, args...).Scan(&n)
	return n, err
}

// InsertPage 插入页面
func (q *Queries) InsertPage(ctx context.Context, p *models.Page) error {
	_, err := q.q.ExecContext(ctx, `INSERT INTO pages (id, storyboard_id, chapter_id, title, order_index,
		thumbnail, type, viewport_x, viewport_y, viewport_scale, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StoryboardID, nullString(p.ChapterID), p.Title, p.OrderIndex,
		nullString(p.Thumbnail), nullString(p.Type),
		nullFloat(p.ViewportX), nullFloat(p.ViewportY), nullFloat(p.ViewportScale),
		toMillis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("插入页面失败: %w", err)
	}
	return nil
}

// UpdatePage 只写入非 nil 字段
func (q *Queries) UpdatePage(ctx context.Context, id string, u models.PageUpdate) error {
	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title)
	}
	if u.Thumbnail != nil {
		sets = append(sets, "thumbnail = ?")
		args = append(args, nullString(models.StringPtr(*u.Thumbnail)))
	}
	if u.ViewportX != nil {
		sets = append(sets, "viewport_x = ?")
		args = append(args, *u.ViewportX)
	}
	if u.ViewportY != nil {
		sets = append(sets, "viewport_y = ?")
		args = append(args, *u.ViewportY)
	}
	if u.ViewportScale != nil {
		sets = append(sets, "viewport_scale = ?")
		args = append(args, *u.ViewportScale)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	return expectOne(q.q.ExecContext(ctx, "UPDATE pages SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...))
}

// DeletePage 删除页面，其下元素级联删除
func (q *Queries) DeletePage(ctx context.Context, id string) error {
	return expectOne(q.q.ExecContext(ctx, "DELETE FROM pages WHERE id = ?", id))
}

// SetPageOrder 设置页面顺序
func (q *Queries) SetPageOrder(ctx context.Context, id string, index int) error {
	_, err := q.q.ExecContext(ctx, "UPDATE pages SET order_index = ? WHERE id = ?", index, id)
	return err
}

// ShiftPages 作用域内 order_index >= from 的页面整体偏移 delta
func (q *Queries) ShiftPages(ctx context.Context, storyboardID string, chapterID *string, from, delta int) error {
	where, args := containerClause(storyboardID, chapterID)
	args = append([]interface{}{delta}, args...)
	args = append(args, from)
	_, err := q.q.ExecContext(ctx,
		"UPDATE pages SET order_index = order_index + ? WHERE "+where+" AND order_index >= ?", args...)
	return err
}

// ClosePageGap 删除或移出页面后保持作用域内顺序连续
func (q *Queries) ClosePageGap(ctx context.Context, storyboardID string, chapterID *string, removedIndex int) error {
	return q.ShiftPages(ctx, storyboardID, chapterID, removedIndex+1, -1)
}

// SetPageContainer 把页面移动到新的故事板/章节并设置顺序
func (q *Queries) SetPageContainer(ctx context.Context, id, storyboardID string, chapterID *string, index int) error {
	return expectOne(q.q.ExecContext(ctx,
		"UPDATE pages SET storyboard_id = ?, chapter_id = ?, order_index = ? WHERE id = ?",
		storyboardID, nullString(chapterID), index, id))
}

// internal/storage/chapter_store.go
package storage

import (
	"context"
	"fmt"

	"github.com/Corphon/StoryboardSync/internal/models"
)

const chapterColumns = "id, storyboard_id, title, order_index, created_at"

func scanChapter(row interface{ Scan(...interface{}) error }) (*models.Chapter, error) {
	var c models.Chapter
	var created int64
	if err := row.Scan(&c.ID, &c.StoryboardID, &c.Title, &c.OrderIndex, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

// ListChapters 按 order_index 列出章节
func (q *Queries) ListChapters(ctx context.Context, storyboardID string) ([]*models.Chapter, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+chapterColumns+" FROM chapters WHERE storyboard_id = ? ORDER BY order_index, rowid", storyboardID)
	if err != nil {
		return nil, fmt.Errorf("查询章节失败: %w", err)
	}
	defer rows.Close()

	chapters := make([]*models.Chapter, 0)
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// GetChapter 获取章节
func (q *Queries) GetChapter(ctx context.Context, id string) (*models.Chapter, error) {
	c, err := scanChapter(q.q.QueryRowContext(ctx, "SELECT "+chapterColumns+" FROM chapters WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// CountChapters 故事板下的章节数量
func (q *Queries) CountChapters(ctx context.Context, storyboardID string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM chapters WHERE storyboard_id = ?", storyboardID).Scan(&n)
	return n, err
}

// InsertChapter 插入章节
func (q *Queries) InsertChapter(ctx context.Context, c *models.Chapter) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO chapters (id, storyboard_id, title, order_index, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.StoryboardID, c.Title, c.OrderIndex, toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("插入章节失败: %w", err)
	}
	return nil
}

// RenameChapter 修改章节标题
func (q *Queries) RenameChapter(ctx context.Context, id, title string) error {
	return expectOne(q.q.ExecContext(ctx, "UPDATE chapters SET title = ? WHERE id = ?", title, id))
}

// DeleteChapter 删除章节，其下页面与元素级联删除
func (q *Queries) DeleteChapter(ctx context.Context, id string) error {
	return expectOne(q.q.ExecContext(ctx, "DELETE FROM chapters WHERE id = ?", id))
}

// SetChapterOrder 设置章节顺序
func (q *Queries) SetChapterOrder(ctx context.Context, id string, index int) error {
	_, err := q.q.ExecContext(ctx, "UPDATE chapters SET order_index = ? WHERE id = ?", index, id)
	return err
}

// CloseChapterGap 删除后将后续章节前移一位
func (q *Queries) CloseChapterGap(ctx context.Context, storyboardID string, removedIndex int) error {
	_, err := q.q.ExecContext(ctx,
		"UPDATE chapters SET order_index = order_index - 1 WHERE storyboard_id = ? AND order_index > ?",
		storyboardID, removedIndex)
	return err
}

// ChapterHasSystemPage 章节内是否存在系统视频页
func (q *Queries) ChapterHasSystemPage(ctx context.Context, chapterID string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pages WHERE chapter_id = ? AND type = ?", chapterID, models.PageTypeVideos).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// internal/storage/element_store.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
)

const elementColumns = `id, page_id, type, x, y, width, height, rotation, z_index, style, content,
	start_element_id, end_element_id, group_id, created_at, updated_at`

func scanElement(row interface{ Scan(...interface{}) error }) (*models.Element, error) {
	var (
		e                     models.Element
		style                 sql.NullString
		content               string
		startID, endID, group sql.NullString
		created, updated      int64
	)
	if err := row.Scan(&e.ID, &e.PageID, &e.Type, &e.X, &e.Y, &e.Width, &e.Height, &e.Rotation, &e.ZIndex,
		&style, &content, &startID, &endID, &group, &created, &updated); err != nil {
		return nil, err
	}

	// content 在每个读取边界反序列化
	parsed, err := models.ParseContent([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("解析元素 %s 内容失败: %w", e.ID, err)
	}
	e.Content = parsed
	if style.Valid && style.String != "" {
		e.Style = json.RawMessage(style.String)
	}
	e.StartElementID = stringPtr(startID)
	e.EndElementID = stringPtr(endID)
	e.GroupID = stringPtr(group)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

func (q *Queries) queryElements(ctx context.Context, query string, args ...interface{}) ([]*models.Element, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询元素失败: %w", err)
	}
	defer rows.Close()

	elements := make([]*models.Element, 0)
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
	}
	return elements, rows.Err()
}

// ListElements 按 z_index 升序列出页面元素，相同 z_index 按插入顺序
func (q *Queries) ListElements(ctx context.Context, pageID string) ([]*models.Element, error) {
	return q.queryElements(ctx,
		"SELECT "+elementColumns+" FROM elements WHERE page_id = ? ORDER BY z_index, rowid", pageID)
}

// GetElement 获取元素
func (q *Queries) GetElement(ctx context.Context, id string) (*models.Element, error) {
	e, err := scanElement(q.q.QueryRowContext(ctx, "SELECT "+elementColumns+" FROM elements WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// GetElements 批量获取元素，不存在的 id 被忽略
func (q *Queries) GetElements(ctx context.Context, ids []string) ([]*models.Element, error) {
	if len(ids) == 0 {
		return []*models.Element{}, nil
	}
	marks, args := placeholders(ids)
	return q.queryElements(ctx,
		"SELECT "+elementColumns+" FROM elements WHERE id IN ("+marks+") ORDER BY z_index, rowid", args...)
}

// MaxZIndex 页面内最大 z_index，空页面返回 -1
func (q *Queries) MaxZIndex(ctx context.Context, pageID string) (int, error) {
	var max sql.NullInt64
	if err := q.q.QueryRowContext(ctx, "SELECT MAX(z_index) FROM elements WHERE page_id = ?", pageID).Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// CountElements 页面内元素数量
func (q *Queries) CountElements(ctx context.Context, pageID string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM elements WHERE page_id = ?", pageID).Scan(&n)
	return n, err
}

func styleValue(style json.RawMessage) sql.NullString {
	if len(style) == 0 || string(style) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(style), Valid: true}
}

// InsertElement 插入元素
func (q *Queries) InsertElement(ctx context.Context, e *models.Element) error {
	content, err := e.Content.MarshalJSON()
	if err != nil {
		return fmt.Errorf("序列化元素内容失败: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `INSERT INTO elements (id, page_id, type, x, y, width, height, rotation,
		z_index, style, content, start_element_id, end_element_id, group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PageID, e.Type, e.X, e.Y, e.Width, e.Height, e.Rotation, e.ZIndex,
		styleValue(e.Style), string(content),
		nullString(e.StartElementID), nullString(e.EndElementID), nullString(e.GroupID),
		toMillis(e.CreatedAt), toMillis(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("插入元素失败: %w", err)
	}
	return nil
}

// SaveElement 在一条语句中写回结构化列与序列化后的内容
func (q *Queries) SaveElement(ctx context.Context, e *models.Element) error {
	content, err := e.Content.MarshalJSON()
	if err != nil {
		return fmt.Errorf("序列化元素内容失败: %w", err)
	}
	return expectOne(q.q.ExecContext(ctx, `UPDATE elements SET x = ?, y = ?, width = ?, height = ?,
		rotation = ?, style = ?, content = ?, start_element_id = ?, end_element_id = ?, group_id = ?,
		updated_at = ? WHERE id = ?`,
		e.X, e.Y, e.Width, e.Height, e.Rotation, styleValue(e.Style), string(content),
		nullString(e.StartElementID), nullString(e.EndElementID), nullString(e.GroupID),
		toMillis(e.UpdatedAt), e.ID))
}

// UpdateElementPosition 只写入 x/y
func (q *Queries) UpdateElementPosition(ctx context.Context, id string, x, y float64, at time.Time) error {
	return expectOne(q.q.ExecContext(ctx,
		"UPDATE elements SET x = ?, y = ?, updated_at = ? WHERE id = ?", x, y, toMillis(at), id))
}

// SetElementZIndex 设置元素层级
func (q *Queries) SetElementZIndex(ctx context.Context, id string, z int) error {
	_, err := q.q.ExecContext(ctx, "UPDATE elements SET z_index = ? WHERE id = ?", z, id)
	return err
}

// SetElementPage 把元素移到另一页面
func (q *Queries) SetElementPage(ctx context.Context, id, pageID string, z int, at time.Time) error {
	return expectOne(q.q.ExecContext(ctx,
		"UPDATE elements SET page_id = ?, z_index = ?, updated_at = ? WHERE id = ?", pageID, z, toMillis(at), id))
}

// DeleteElements 批量删除元素，返回实际删除数量
func (q *Queries) DeleteElements(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks, args := placeholders(ids)
	res, err := q.q.ExecContext(ctx, "DELETE FROM elements WHERE id IN ("+marks+")", args...)
	if err != nil {
		return 0, fmt.Errorf("删除元素失败: %w", err)
	}
	return res.RowsAffected()
}

// CountElementsReferencing 统计内容中包含 fileName 的其他元素，excludeIDs 不计入
func (q *Queries) CountElementsReferencing(ctx context.Context, fileName string, excludeIDs []string) (int, error) {
	query := "SELECT COUNT(*) FROM elements WHERE instr(content, ?) > 0"
	args := []interface{}{fileName}
	if len(excludeIDs) > 0 {
		marks, idArgs := placeholders(excludeIDs)
		query += " AND id NOT IN (" + marks + ")"
		args = append(args, idArgs...)
	}
	var n int
	if err := q.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计文件引用失败: %w", err)
	}
	return n, nil
}

// ListProjectElements 项目内所有元素，删除项目前用于收集资源
func (q *Queries) ListProjectElements(ctx context.Context, projectID string) ([]*models.Element, error) {
	return q.queryElements(ctx, `SELECT `+prefixed("e", elementColumns)+` FROM elements e
		JOIN pages p ON p.id = e.page_id
		JOIN storyboards s ON s.id = p.storyboard_id
		WHERE s.project_id = ? ORDER BY e.rowid`, projectID)
}

// ListPagesElements 多个页面下的全部元素
func (q *Queries) ListPagesElements(ctx context.Context, pageIDs []string) ([]*models.Element, error) {
	if len(pageIDs) == 0 {
		return []*models.Element{}, nil
	}
	marks, args := placeholders(pageIDs)
	return q.queryElements(ctx,
		"SELECT "+elementColumns+" FROM elements WHERE page_id IN ("+marks+") ORDER BY z_index, rowid", args...)
}

// SearchElements 对类型与序列化内容做子串匹配，并带出页面标题
func (q *Queries) SearchElements(ctx context.Context, term, projectID string, limit int) ([]*models.SearchResult, error) {
	pattern := "%" + escapeLike(term) + "%"
	query := `SELECT ` + prefixed("e", elementColumns) + `, p.title FROM elements e
		JOIN pages p ON p.id = e.page_id`
	args := []interface{}{}
	where := []string{`(e.type LIKE ? ESCAPE '\' OR e.content LIKE ? ESCAPE '\')`}
	args = append(args, pattern, pattern)
	if projectID != "" {
		query += " JOIN storyboards s ON s.id = p.storyboard_id"
		where = append(where, "s.project_id = ?")
		args = append(args, projectID)
	}
	query += " WHERE " + strings.Join(where, " AND ") + " ORDER BY e.updated_at DESC, e.rowid"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("搜索元素失败: %w", err)
	}
	defer rows.Close()

	results := make([]*models.SearchResult, 0)
	for rows.Next() {
		var title string
		e, err := scanElement(scanTail{rows: rows, tail: &title})
		if err != nil {
			return nil, err
		}
		results = append(results, &models.SearchResult{Element: e, PageTitle: title})
	}
	return results, rows.Err()
}

// scanTail 在元素列之后追加扫描额外列
type scanTail struct {
	rows *sql.Rows
	tail *string
}

func (s scanTail) Scan(dest ...interface{}) error {
	return s.rows.Scan(append(dest, s.tail)...)
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

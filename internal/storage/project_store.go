// internal/storage/project_store.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
)

const projectColumns = "id, name, created_at, updated_at"

func scanProject(row interface{ Scan(...interface{}) error }) (*models.Project, error) {
	var p models.Project
	var created, updated int64
	if err := row.Scan(&p.ID, &p.Name, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

// ListProjects 按创建时间列出项目
func (q *Queries) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("查询项目失败: %w", err)
	}
	defer rows.Close()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject 获取项目
func (q *Queries) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// CountProjects 项目数量
func (q *Queries) CountProjects(ctx context.Context) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// InsertProject 插入项目
func (q *Queries) InsertProject(ctx context.Context, p *models.Project) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("插入项目失败: %w", err)
	}
	return nil
}

// RenameProject 重命名项目
func (q *Queries) RenameProject(ctx context.Context, id, name string, at time.Time) error {
	return expectOne(q.q.ExecContext(ctx,
		"UPDATE projects SET name = ?, updated_at = ? WHERE id = ?", name, toMillis(at), id))
}

// DeleteProject 删除项目，级联删除其下全部实体
func (q *Queries) DeleteProject(ctx context.Context, id string) error {
	return expectOne(q.q.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id))
}

const storyboardColumns = "id, project_id, name, created_at"

func scanStoryboard(row interface{ Scan(...interface{}) error }) (*models.Storyboard, error) {
	var s models.Storyboard
	var created int64
	if err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &created); err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(created)
	return &s, nil
}

// ListStoryboards 列出项目下的故事板
func (q *Queries) ListStoryboards(ctx context.Context, projectID string) ([]*models.Storyboard, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+storyboardColumns+" FROM storyboards WHERE project_id = ? ORDER BY created_at, rowid", projectID)
	if err != nil {
		return nil, fmt.Errorf("查询故事板失败: %w", err)
	}
	defer rows.Close()

	boards := make([]*models.Storyboard, 0)
	for rows.Next() {
		s, err := scanStoryboard(rows)
		if err != nil {
			return nil, err
		}
		boards = append(boards, s)
	}
	return boards, rows.Err()
}

// GetStoryboard 获取故事板
func (q *Queries) GetStoryboard(ctx context.Context, id string) (*models.Storyboard, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+storyboardColumns+" FROM storyboards WHERE id = ?", id)
	s, err := scanStoryboard(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// FirstStoryboard 最早创建的故事板；projectID 为空时在全部项目中查找
func (q *Queries) FirstStoryboard(ctx context.Context, projectID string) (*models.Storyboard, error) {
	var row *sql.Row
	if projectID == "" {
		row = q.q.QueryRowContext(ctx, `SELECT s.id, s.project_id, s.name, s.created_at
			FROM storyboards s JOIN projects p ON p.id = s.project_id
			ORDER BY p.created_at, p.rowid, s.created_at, s.rowid LIMIT 1`)
	} else {
		row = q.q.QueryRowContext(ctx,
			"SELECT "+storyboardColumns+" FROM storyboards WHERE project_id = ? ORDER BY created_at, rowid LIMIT 1",
			projectID)
	}
	s, err := scanStoryboard(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// CountStoryboards 项目下的故事板数量
func (q *Queries) CountStoryboards(ctx context.Context, projectID string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM storyboards WHERE project_id = ?", projectID).Scan(&n)
	return n, err
}

// InsertStoryboard 插入故事板
func (q *Queries) InsertStoryboard(ctx context.Context, s *models.Storyboard) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO storyboards (id, project_id, name, created_at) VALUES (?, ?, ?, ?)",
		s.ID, s.ProjectID, s.Name, toMillis(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("插入故事板失败: %w", err)
	}
	return nil
}

// RenameStoryboard 重命名故事板
func (q *Queries) RenameStoryboard(ctx context.Context, id, name string) error {
	return expectOne(q.q.ExecContext(ctx, "UPDATE storyboards SET name = ? WHERE id = ?", name, id))
}

// DeleteStoryboard 删除故事板
func (q *Queries) DeleteStoryboard(ctx context.Context, id string) error {
	return expectOne(q.q.ExecContext(ctx, "DELETE FROM storyboards WHERE id = ?", id))
}

// expectOne 修改语句必须命中记录
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// internal/storage/batch_store.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
)

const batchColumns = `id, project_id, first_frame_url, last_frame_url, middle_frame_urls, multi_prompts,
	prompt, duration, audio, aspect_ratio, model, mode, status, video_url, external_task_id, error,
	created_at, updated_at`

func scanBatchTask(row interface{ Scan(...interface{}) error }) (*models.BatchTask, error) {
	var (
		t                            models.BatchTask
		projectID, first, last       sql.NullString
		middle, prompts              string
		audio                        int
		status                       string
		videoURL, externalID, errMsg sql.NullString
		created, updated             int64
	)
	if err := row.Scan(&t.ID, &projectID, &first, &last, &middle, &prompts, &t.Prompt, &t.Duration, &audio,
		&t.AspectRatio, &t.Model, &t.Mode, &status, &videoURL, &externalID, &errMsg, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(middle), &t.MiddleFrameURLs); err != nil {
		return nil, fmt.Errorf("解析任务 %s 中间帧失败: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(prompts), &t.MultiPrompts); err != nil {
		return nil, fmt.Errorf("解析任务 %s 多镜头提示词失败: %w", t.ID, err)
	}
	if t.MiddleFrameURLs == nil {
		t.MiddleFrameURLs = []string{}
	}
	if t.MultiPrompts == nil {
		t.MultiPrompts = []string{}
	}
	t.ProjectID = stringPtr(projectID)
	t.FirstFrameURL = stringPtr(first)
	t.LastFrameURL = stringPtr(last)
	t.Audio = audio != 0
	t.Status = models.TaskStatus(status)
	t.VideoURL = stringPtr(videoURL)
	t.ExternalTaskID = stringPtr(externalID)
	t.Error = stringPtr(errMsg)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

// ListBatchTasks 按创建顺序列出任务
func (q *Queries) ListBatchTasks(ctx context.Context) ([]*models.BatchTask, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+batchColumns+" FROM batch_tasks ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("查询生成任务失败: %w", err)
	}
	defer rows.Close()

	tasks := make([]*models.BatchTask, 0)
	for rows.Next() {
		t, err := scanBatchTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetBatchTask 获取任务
func (q *Queries) GetBatchTask(ctx context.Context, id string) (*models.BatchTask, error) {
	t, err := scanBatchTask(q.q.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM batch_tasks WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// InsertBatchTask 插入任务
func (q *Queries) InsertBatchTask(ctx context.Context, t *models.BatchTask) error {
	middle, err := jsonList(t.MiddleFrameURLs)
	if err != nil {
		return err
	}
	prompts, err := jsonList(t.MultiPrompts)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx, `INSERT INTO batch_tasks (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, nullString(t.ProjectID), nullString(t.FirstFrameURL), nullString(t.LastFrameURL), middle, prompts,
		t.Prompt, t.Duration, boolToInt(t.Audio), t.AspectRatio, t.Model, t.Mode, string(t.Status),
		nullString(t.VideoURL), nullString(t.ExternalTaskID), nullString(t.Error),
		toMillis(t.CreatedAt), toMillis(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("插入生成任务失败: %w", err)
	}
	return nil
}

// SaveBatchTaskConfig 写回任务配置字段，不改变状态列
func (q *Queries) SaveBatchTaskConfig(ctx context.Context, t *models.BatchTask) error {
	middle, err := jsonList(t.MiddleFrameURLs)
	if err != nil {
		return err
	}
	prompts, err := jsonList(t.MultiPrompts)
	if err != nil {
		return err
	}
	return expectOne(q.q.ExecContext(ctx, `UPDATE batch_tasks SET project_id = ?, first_frame_url = ?,
		last_frame_url = ?, middle_frame_urls = ?, multi_prompts = ?, prompt = ?, duration = ?, audio = ?,
		aspect_ratio = ?, model = ?, mode = ?, updated_at = ? WHERE id = ?`,
		nullString(t.ProjectID), nullString(t.FirstFrameURL), nullString(t.LastFrameURL), middle, prompts,
		t.Prompt, t.Duration, boolToInt(t.Audio), t.AspectRatio, t.Model, t.Mode, toMillis(t.UpdatedAt), t.ID))
}

// TaskStatusUpdate 状态迁移写入的字段
type TaskStatusUpdate struct {
	Status         models.TaskStatus
	VideoURL       *string
	ExternalTaskID *string
	Error          *string
	At             time.Time
}

// UpdateBatchTaskStatus 写入状态迁移；nil 字段保持原值，失败之外的状态清空错误
func (q *Queries) UpdateBatchTaskStatus(ctx context.Context, id string, u TaskStatusUpdate) error {
	errValue := nullString(u.Error)
	return expectOne(q.q.ExecContext(ctx, `UPDATE batch_tasks SET status = ?,
		video_url = COALESCE(?, video_url),
		external_task_id = COALESCE(?, external_task_id),
		error = ?,
		updated_at = ? WHERE id = ?`,
		string(u.Status), nullString(u.VideoURL), nullString(u.ExternalTaskID), errValue, toMillis(u.At), id))
}

// DeleteBatchTask 删除任务
func (q *Queries) DeleteBatchTask(ctx context.Context, id string) error {
	return expectOne(q.q.ExecContext(ctx, "DELETE FROM batch_tasks WHERE id = ?", id))
}

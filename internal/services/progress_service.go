// internal/services/progress_service.go
package services

import (
	"sync"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
)

// ProgressUpdate 生成任务的进度快照
type ProgressUpdate struct {
	TaskID   string            `json:"task_id"`
	Progress int               `json:"progress"` // 0-100
	Message  string            `json:"message"`
	Status   models.TaskStatus `json:"status"`
}

// ProgressTracker 单个生成任务的进度与订阅者
type ProgressTracker struct {
	TaskID     string
	Progress   int
	Message    string
	Status     models.TaskStatus
	StartTime  time.Time
	UpdateTime time.Time

	subscribers map[chan ProgressUpdate]bool
	done        chan struct{}
	mutex       sync.Mutex
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 为任务创建跟踪器；已结束的旧跟踪器会被替换
func (s *ProgressService) CreateTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists && !tracker.Finished() {
		return tracker
	}

	tracker := &ProgressTracker{
		TaskID:      taskID,
		Message:     "等待生成",
		Status:      models.TaskStatusPending,
		StartTime:   time.Now(),
		UpdateTime:  time.Now(),
		subscribers: make(map[chan ProgressUpdate]bool),
		done:        make(chan struct{}),
	}
	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// RemoveTracker 移除尚未结束的跟踪器并关闭其订阅
func (s *ProgressService) RemoveTracker(taskID string) {
	s.mutex.Lock()
	tracker, exists := s.trackers[taskID]
	if exists {
		delete(s.trackers, taskID)
	}
	s.mutex.Unlock()
	if !exists {
		return
	}

	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	for subscriber := range tracker.subscribers {
		delete(tracker.subscribers, subscriber)
		close(subscriber)
	}
}

func (t *ProgressTracker) snapshot() ProgressUpdate {
	return ProgressUpdate{
		TaskID:   t.TaskID,
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
	}
}

// notify 非阻塞推送，通道已满时丢弃
func (t *ProgressTracker) notify() {
	update := t.snapshot()
	for subscriber := range t.subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Finished 是否已进入终止状态
func (t *ProgressTracker) Finished() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.Status.IsTerminal()
}

// Done 任务结束时关闭
func (t *ProgressTracker) Done() <-chan struct{} {
	return t.done
}

// UpdateProgress 更新进度，进度只增不减
func (t *ProgressTracker) UpdateProgress(status models.TaskStatus, progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status.IsTerminal() {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.Status = status
	t.UpdateTime = time.Now()
	t.notify()
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string) {
	t.finish(models.TaskStatusCompleted, 100, message)
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string) {
	t.finish(models.TaskStatusFailed, -1, "生成失败: "+errorMsg)
}

func (t *ProgressTracker) finish(status models.TaskStatus, progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status.IsTerminal() {
		return
	}
	if progress >= 0 {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.Status = status
	t.UpdateTime = time.Now()
	t.notify()
	close(t.done)
}

// Subscribe 订阅进度更新，立即收到当前状态
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.subscribers[subscriber] = true
	subscriber <- t.snapshot()
	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.subscribers[subscriber] {
		delete(t.subscribers, subscriber)
		close(subscriber)
	}
}

// CleanupCompletedTasks 清理结束超过 maxAge 的跟踪器
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	removed := 0
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isFinished := tracker.Status.IsTerminal()
		isOld := now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if isFinished && isOld {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}

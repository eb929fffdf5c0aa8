// internal/models/event.go
package models

// 事件通道上的事件类型
const (
	EventConnected = "connected"
	EventUserCount = "user_count"
	EventError     = "error"
	EventPing      = "ping"
	EventPong      = "pong"

	EventElementAdd     = "element:add"
	EventElementUpdate  = "element:update"
	EventElementDelete  = "element:delete"
	EventElementMove    = "element:move"
	EventElementReorder = "element:reorder"

	EventPageAdd      = "page:add"
	EventPageUpdate   = "page:update"
	EventPageDelete   = "page:delete"
	EventPagesReorder = "pages:reorder"

	EventChapterAdd      = "chapter:add"
	EventChapterUpdate   = "chapter:update"
	EventChapterDelete   = "chapter:delete"
	EventChaptersReorder = "chapters:reorder"

	EventProjectAdd    = "project:add"
	EventProjectUpdate = "project:update"
	EventProjectDelete = "project:delete"

	EventStoryboardAdd    = "storyboard:add"
	EventStoryboardUpdate = "storyboard:update"
	EventStoryboardDelete = "storyboard:delete"

	EventBatchAdd    = "batch:add"
	EventBatchUpdate = "batch:update"
	EventBatchDelete = "batch:delete"
)

// Event 事件通道消息信封
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Origin    string      `json:"origin,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// ElementRef 删除类事件只携带定位信息
type ElementRef struct {
	ID     string `json:"id"`
	PageID string `json:"page_id"`
}

// ReorderPayload 重排事件负载
type ReorderPayload struct {
	IDs []string `json:"ids"`
}

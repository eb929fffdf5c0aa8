// internal/models/storyboard.go
package models

import "time"

// 系统管理的视频页类型
const PageTypeVideos = "videos"

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Storyboard struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Chapter struct {
	ID           string    `json:"id"`
	StoryboardID string    `json:"storyboard_id"`
	Title        string    `json:"title"`
	OrderIndex   int       `json:"order_index"`
	CreatedAt    time.Time `json:"created_at"`
}

type Page struct {
	ID            string    `json:"id"`
	StoryboardID  string    `json:"storyboard_id"`
	ChapterID     *string   `json:"chapter_id"`
	Title         string    `json:"title"`
	OrderIndex    int       `json:"order_index"`
	Thumbnail     *string   `json:"thumbnail"`
	Type          *string   `json:"type"`
	ViewportX     *float64  `json:"viewport_x"`
	ViewportY     *float64  `json:"viewport_y"`
	ViewportScale *float64  `json:"viewport_scale"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsSystemPage 系统视频页不可删除
func (p *Page) IsSystemPage() bool {
	return p.Type != nil && *p.Type == PageTypeVideos
}

// PageUpdate 页面可更新字段，nil 表示不修改
type PageUpdate struct {
	Title         *string  `json:"title,omitempty"`
	Thumbnail     *string  `json:"thumbnail,omitempty"`
	ViewportX     *float64 `json:"viewport_x,omitempty"`
	ViewportY     *float64 `json:"viewport_y,omitempty"`
	ViewportScale *float64 `json:"viewport_scale,omitempty"`
}

// Empty 是否没有任何修改
func (u PageUpdate) Empty() bool {
	return u.Title == nil && u.Thumbnail == nil && u.ViewportX == nil &&
		u.ViewportY == nil && u.ViewportScale == nil
}

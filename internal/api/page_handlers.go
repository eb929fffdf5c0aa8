// internal/api/page_handlers.go
package api

import (
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/services"
	"github.com/gin-gonic/gin"
)

// GetPages 列出页面，storyboardId 必填，chapterId 可选
func (h *Handler) GetPages(c *gin.Context) {
	var chapterID *string
	if v, ok := c.GetQuery("chapterId"); ok && v != "" {
		chapterID = &v
	}

	pages, err := h.PageService.ListPages(c.Request.Context(), c.Query("storyboardId"), chapterID)
	if err != nil {
		h.Response.HandleError(c, err, "获取页面失败")
		return
	}
	h.Response.Success(c, pages)
}

// CreatePage 创建页面
func (h *Handler) CreatePage(c *gin.Context) {
	var req services.CreatePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	page, err := h.PageService.CreatePage(c.Request.Context(), req)
	if err != nil {
		h.Response.HandleError(c, err, "创建页面失败")
		return
	}
	h.Response.Created(c, page, "页面创建成功")
}

// UpdatePage 更新标题、缩略图或视口
func (h *Handler) UpdatePage(c *gin.Context) {
	var update models.PageUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	page, err := h.PageService.UpdatePage(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		h.Response.HandleError(c, err, "更新页面失败")
		return
	}
	h.Response.Success(c, page, "页面已更新")
}

// DeletePage 删除页面及其元素
func (h *Handler) DeletePage(c *gin.Context) {
	if err := h.PageService.DeletePage(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.HandleError(c, err, "删除页面失败")
		return
	}
	h.Response.Success(c, nil, "页面已删除")
}

// ReorderPages 按给定顺序重排页面
func (h *Handler) ReorderPages(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	if err := h.PageService.ReorderPages(c.Request.Context(), req.IDs); err != nil {
		h.Response.HandleError(c, err, "页面排序失败")
		return
	}
	h.Response.Success(c, nil, "页面顺序已更新")
}

// DuplicatePage 复制页面与元素，连线引用指向新元素
func (h *Handler) DuplicatePage(c *gin.Context) {
	result, err := h.PageService.DuplicatePage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err, "复制页面失败")
		return
	}
	h.Response.Created(c, result, "页面复制成功")
}

// MovePageToChapter 移动页面到章节，chapterId 为 null 时移出章节
func (h *Handler) MovePageToChapter(c *gin.Context) {
	var req struct {
		ChapterID *string `json:"chapterId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	page, err := h.PageService.MovePageToChapter(c.Request.Context(), c.Param("id"), req.ChapterID)
	if err != nil {
		h.Response.HandleError(c, err, "移动页面失败")
		return
	}
	h.Response.Success(c, page, "页面已移动")
}

// MovePageToProject 移动页面到另一个项目
func (h *Handler) MovePageToProject(c *gin.Context) {
	var req struct {
		ProjectID string `json:"projectId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	page, err := h.PageService.MovePageToProject(c.Request.Context(), c.Param("id"), req.ProjectID)
	if err != nil {
		h.Response.HandleError(c, err, "移动页面失败")
		return
	}
	h.Response.Success(c, page, "页面已移动")
}

// internal/api/element_handlers.go
package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/gin-gonic/gin"
)

// GetElements 按 z_index 列出页面元素
func (h *Handler) GetElements(c *gin.Context) {
	elements, err := h.ElementService.ListElements(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err, "获取元素失败")
		return
	}
	h.Response.Success(c, elements)
}

// CreateElement 创建元素，未知字段原样保存在 content 中
func (h *Handler) CreateElement(c *gin.Context) {
	var payload models.Content
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	element, err := h.ElementService.CreateElement(c.Request.Context(), payload)
	if err != nil {
		h.Response.HandleError(c, err, "创建元素失败")
		return
	}
	h.Response.Created(c, element, "元素创建成功")
}

// UpdateElement 合并更新元素，返回合并后的完整元素
func (h *Handler) UpdateElement(c *gin.Context) {
	var payload models.Content
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	element, err := h.ElementService.UpdateElement(c.Request.Context(), c.Param("id"), payload)
	if err != nil {
		h.Response.HandleError(c, err, "更新元素失败")
		return
	}
	h.Response.Success(c, element, "元素已更新")
}

// DeleteElement 删除元素并回收不再引用的资源文件
func (h *Handler) DeleteElement(c *gin.Context) {
	if err := h.ElementService.DeleteElement(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.HandleError(c, err, "删除元素失败")
		return
	}
	h.Response.Success(c, nil, "元素已删除")
}

// BatchDeleteElements 批量删除元素
func (h *Handler) BatchDeleteElements(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	deleted, err := h.ElementService.DeleteElements(c.Request.Context(), req.IDs)
	if err != nil {
		h.Response.HandleError(c, err, "批量删除失败")
		return
	}
	h.Response.Success(c, gin.H{"deleted": deleted}, "批量删除完成")
}

// BatchMoveElements 把元素移动到另一个页面
func (h *Handler) BatchMoveElements(c *gin.Context) {
	var req struct {
		IDs          []string `json:"ids"`
		TargetPageID string   `json:"targetPageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	result, err := h.ElementService.MoveElementsToPage(c.Request.Context(), req.IDs, req.TargetPageID)
	if err != nil {
		h.Response.HandleError(c, err, "移动元素失败")
		return
	}
	h.Response.Success(c, result, "元素已移动")
}

// BatchUpdatePositions 批量更新元素位置
func (h *Handler) BatchUpdatePositions(c *gin.Context) {
	var req struct {
		Positions []models.ElementPosition `json:"positions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	updated, err := h.ElementService.UpdatePositions(c.Request.Context(), req.Positions)
	if err != nil {
		h.Response.HandleError(c, err, "更新位置失败")
		return
	}
	h.Response.Success(c, updated, "位置已更新")
}

// ReorderElements 按给定顺序重写 z_index
func (h *Handler) ReorderElements(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	if err := h.ElementService.ReorderElements(c.Request.Context(), req.IDs); err != nil {
		h.Response.HandleError(c, err, "元素排序失败")
		return
	}
	h.Response.Success(c, nil, "元素顺序已更新")
}

// ExportElements 打包元素引用的资源文件
func (h *Handler) ExportElements(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	var buf bytes.Buffer
	summary, err := h.ExportService.ExportAssets(c.Request.Context(), req.IDs, &buf)
	if err != nil {
		h.Response.HandleError(c, err, "导出失败")
		return
	}

	filename := fmt.Sprintf("assets_%s.zip", time.Now().Format("20060102_150405"))
	h.Response.DownloadHeaders(c, filename, "application/zip")
	c.Header("X-Export-Files", fmt.Sprintf("%d", len(summary.Files)))
	c.Header("X-Export-Missing", fmt.Sprintf("%d", len(summary.Missing)))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// Search 在元素类型与内容中搜索
func (h *Handler) Search(c *gin.Context) {
	results, err := h.SearchService.Search(c.Request.Context(), c.Query("q"), c.Query("projectId"))
	if err != nil {
		h.Response.HandleError(c, err, "搜索失败")
		return
	}
	h.Response.Success(c, results)
}

// UploadFile 保存上传文件到项目目录，返回访问地址
func (h *Handler) UploadFile(c *gin.Context) {
	projectID := c.PostForm("projectId")
	if projectID == "" {
		h.Response.BadRequest(c, "缺少 projectId")
		return
	}
	if _, err := h.ProjectService.GetProject(c.Request.Context(), projectID); err != nil {
		h.Response.HandleError(c, err, "获取项目失败")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid, "获取上传文件失败", err.Error())
		return
	}

	src, err := file.Open()
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid, "读取上传文件失败", err.Error())
		return
	}
	defer src.Close()

	filename, url, err := h.Assets.Save(projectID, file.Filename, src)
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorFileUploadFailed, "保存文件失败", err.Error())
		return
	}

	h.Response.Created(c, gin.H{
		"url":      url,
		"filename": filename,
	}, "文件上传成功")
}

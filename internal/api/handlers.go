// internal/api/handlers.go
package api

import (
	"net/http"
	"time"

	"github.com/Corphon/StoryboardSync/internal/services"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	ProjectService    *services.ProjectService    // 项目服务
	StoryboardService *services.StoryboardService // 故事板服务
	ChapterService    *services.ChapterService    // 章节服务
	PageService       *services.PageService       // 页面服务
	ElementService    *services.ElementService    // 元素服务
	SearchService     *services.SearchService     // 搜索服务
	ExportService     *services.ExportService     // 导出服务
	BatchService      *services.BatchService      // 生成任务服务
	GenerationService *services.GenerationService // 后台生成服务
	Assets            *storage.AssetStorage       // 上传文件存储

	WebSocketManager *WebSocketManager  // 事件通道连接管理
	WebSocketHandler *WebSocketHandler  // WebSocket 处理器
	Metrics          *utils.SyncMetrics // 指标
	Response         *ResponseHelper    // 响应助手
}

// Dependencies 构造 Handler 所需的服务
type Dependencies struct {
	Projects    *services.ProjectService
	Storyboards *services.StoryboardService
	Chapters    *services.ChapterService
	Pages       *services.PageService
	Elements    *services.ElementService
	Search      *services.SearchService
	Export      *services.ExportService
	Batch       *services.BatchService
	Generation  *services.GenerationService
	Assets      *storage.AssetStorage
	Hub         *WebSocketManager
}

// IDsRequest 只携带ID列表的请求
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// ---------------------------------------------------------
// NewHandler 创建API处理器
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		ProjectService:    deps.Projects,
		StoryboardService: deps.Storyboards,
		ChapterService:    deps.Chapters,
		PageService:       deps.Pages,
		ElementService:    deps.Elements,
		SearchService:     deps.Search,
		ExportService:     deps.Export,
		BatchService:      deps.Batch,
		GenerationService: deps.Generation,
		Assets:            deps.Assets,
		WebSocketManager:  deps.Hub,
		WebSocketHandler:  NewWebSocketHandler(deps.Hub, deps.Elements),
		Metrics:           utils.NewSyncMetrics(),
		Response:          NewResponseHelper(),
	}
}

// EventWebSocket 处理事件通道连接
func (h *Handler) EventWebSocket(c *gin.Context) {
	h.WebSocketHandler.EventWebSocket(c)
}

// GetWebSocketStatus 获取 WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.WebSocketManager.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)

	c.JSON(http.StatusOK, status)
}

// GetMetrics 获取运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	metrics := h.Metrics.Collector().GetMetrics()
	metrics["ws_connections"] = h.WebSocketManager.ConnectionCount()
	h.Response.Success(c, metrics, "指标获取成功")
}

// ========================================
// 项目
// ========================================

// GetProjects 获取所有项目
func (h *Handler) GetProjects(c *gin.Context) {
	projects, err := h.ProjectService.ListProjects(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, err, "获取项目列表失败")
		return
	}
	h.Response.Success(c, projects, "项目列表获取成功")
}

// CreateProject 创建项目及其默认故事板、章节和页面
func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	project, err := h.ProjectService.CreateProject(c.Request.Context(), req.Name)
	if err != nil {
		h.Response.HandleError(c, err, "创建项目失败")
		return
	}
	h.Response.Created(c, project, "项目创建成功")
}

// RenameProject 重命名项目
func (h *Handler) RenameProject(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	project, err := h.ProjectService.RenameProject(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		h.Response.HandleError(c, err, "重命名项目失败")
		return
	}
	h.Response.Success(c, project, "项目已更新")
}

// DeleteProject 删除项目及其上传目录
func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.ProjectService.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.HandleError(c, err, "删除项目失败")
		return
	}
	h.Response.Success(c, nil, "项目已删除")
}

// ========================================
// 故事板
// ========================================

// GetStoryboards 获取项目的故事板
func (h *Handler) GetStoryboards(c *gin.Context) {
	boards, err := h.StoryboardService.ListStoryboards(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err, "获取故事板失败")
		return
	}
	h.Response.Success(c, boards)
}

// CreateStoryboard 创建故事板
func (h *Handler) CreateStoryboard(c *gin.Context) {
	var req services.CreateStoryboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	sb, err := h.StoryboardService.CreateStoryboard(c.Request.Context(), req)
	if err != nil {
		h.Response.HandleError(c, err, "创建故事板失败")
		return
	}
	h.Response.Created(c, sb, "故事板创建成功")
}

// RenameStoryboard 重命名故事板
func (h *Handler) RenameStoryboard(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	sb, err := h.StoryboardService.RenameStoryboard(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		h.Response.HandleError(c, err, "重命名故事板失败")
		return
	}
	h.Response.Success(c, sb, "故事板已更新")
}

// DeleteStoryboard 删除故事板
func (h *Handler) DeleteStoryboard(c *gin.Context) {
	if err := h.StoryboardService.DeleteStoryboard(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.HandleError(c, err, "删除故事板失败")
		return
	}
	h.Response.Success(c, nil, "故事板已删除")
}

// ========================================
// 章节
// ========================================

// GetChapters 获取故事板的章节
func (h *Handler) GetChapters(c *gin.Context) {
	chapters, err := h.ChapterService.ListChapters(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err, "获取章节失败")
		return
	}
	h.Response.Success(c, chapters)
}

// CreateChapter 创建章节
func (h *Handler) CreateChapter(c *gin.Context) {
	var req services.CreateChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	chapter, err := h.ChapterService.CreateChapter(c.Request.Context(), req)
	if err != nil {
		h.Response.HandleError(c, err, "创建章节失败")
		return
	}
	h.Response.Created(c, chapter, "章节创建成功")
}

// RenameChapter 重命名章节
func (h *Handler) RenameChapter(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	chapter, err := h.ChapterService.RenameChapter(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		h.Response.HandleError(c, err, "重命名章节失败")
		return
	}
	h.Response.Success(c, chapter, "章节已更新")
}

// DeleteChapter 删除章节及其页面
func (h *Handler) DeleteChapter(c *gin.Context) {
	if err := h.ChapterService.DeleteChapter(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.HandleError(c, err, "删除章节失败")
		return
	}
	h.Response.Success(c, nil, "章节已删除")
}

// ReorderChapters 按给定顺序重排章节
func (h *Handler) ReorderChapters(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	if err := h.ChapterService.ReorderChapters(c.Request.Context(), req.IDs); err != nil {
		h.Response.HandleError(c, err, "章节排序失败")
		return
	}
	h.Response.Success(c, nil, "章节顺序已更新")
}

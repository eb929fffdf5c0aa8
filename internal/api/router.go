// internal/api/router.go
package api

import (
	"github.com/Corphon/StoryboardSync/internal/config"
	"github.com/Corphon/StoryboardSync/internal/di"
	"github.com/Corphon/StoryboardSync/internal/services"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/gin-gonic/gin"
)

// 上传文件在内存中缓冲的上限，超出部分写入临时文件
const maxMultipartMemory = 32 << 20

// SetupRouter 从依赖注入容器取出服务并配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	var (
		deps Dependencies
		err  error
	)
	if deps.Projects, err = di.Resolve[*services.ProjectService](container, "project"); err != nil {
		return nil, err
	}
	if deps.Storyboards, err = di.Resolve[*services.StoryboardService](container, "storyboard"); err != nil {
		return nil, err
	}
	if deps.Chapters, err = di.Resolve[*services.ChapterService](container, "chapter"); err != nil {
		return nil, err
	}
	if deps.Pages, err = di.Resolve[*services.PageService](container, "page"); err != nil {
		return nil, err
	}
	if deps.Elements, err = di.Resolve[*services.ElementService](container, "element"); err != nil {
		return nil, err
	}
	if deps.Search, err = di.Resolve[*services.SearchService](container, "search"); err != nil {
		return nil, err
	}
	if deps.Export, err = di.Resolve[*services.ExportService](container, "export"); err != nil {
		return nil, err
	}
	if deps.Batch, err = di.Resolve[*services.BatchService](container, "batch"); err != nil {
		return nil, err
	}
	if deps.Generation, err = di.Resolve[*services.GenerationService](container, "generation"); err != nil {
		return nil, err
	}
	if deps.Assets, err = di.Resolve[*storage.AssetStorage](container, "assets"); err != nil {
		return nil, err
	}
	if deps.Hub, err = di.Resolve[*WebSocketManager](container, "broadcaster"); err != nil {
		return nil, err
	}

	return NewRouter(NewHandler(deps), config.GetCurrentConfig().DebugMode), nil
}

// NewRouter 注册全部路由
func NewRouter(handler *Handler, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(corsMiddleware())
	r.Use(MetricsMiddleware(handler.Metrics))
	r.Use(OriginMiddleware())
	r.MaxMultipartMemory = maxMultipartMemory

	// 上传文件静态服务
	r.Static(handler.Assets.URLPrefix, handler.Assets.BaseDir)

	// 事件通道
	r.GET("/ws", handler.EventWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		// 项目
		projects := api.Group("/projects")
		{
			projects.GET("", handler.GetProjects)
			projects.POST("", handler.CreateProject)
			projects.PUT("/:id", handler.RenameProject)
			projects.DELETE("/:id", handler.DeleteProject)
			projects.GET("/:id/storyboards", handler.GetStoryboards)
		}

		// 故事板
		storyboards := api.Group("/storyboards")
		{
			storyboards.POST("", handler.CreateStoryboard)
			storyboards.PUT("/:id", handler.RenameStoryboard)
			storyboards.DELETE("/:id", handler.DeleteStoryboard)
			storyboards.GET("/:id/chapters", handler.GetChapters)
		}

		// 章节
		chapters := api.Group("/chapters")
		{
			chapters.POST("", handler.CreateChapter)
			chapters.PUT("/reorder", handler.ReorderChapters)
			chapters.PUT("/:id", handler.RenameChapter)
			chapters.DELETE("/:id", handler.DeleteChapter)
		}

		// 页面
		pages := api.Group("/pages")
		{
			pages.GET("", handler.GetPages)
			pages.POST("", handler.CreatePage)
			pages.PUT("/reorder", handler.ReorderPages)
			pages.PUT("/:id", handler.UpdatePage)
			pages.DELETE("/:id", handler.DeletePage)
			pages.POST("/:id/duplicate", handler.DuplicatePage)
			pages.PUT("/:id/move-chapter", handler.MovePageToChapter)
			pages.PUT("/:id/move-project", handler.MovePageToProject)
			pages.GET("/:id/elements", handler.GetElements)
		}

		// 元素
		elements := api.Group("/elements")
		{
			elements.POST("", handler.CreateElement)
			elements.POST("/batch-delete", handler.BatchDeleteElements)
			elements.PUT("/batch-move", handler.BatchMoveElements)
			elements.PUT("/batch-position", handler.BatchUpdatePositions)
			elements.PUT("/reorder", handler.ReorderElements)
			elements.POST("/export", handler.ExportElements)
			elements.PUT("/:id", handler.UpdateElement)
			elements.DELETE("/:id", handler.DeleteElement)
		}

		api.GET("/search", handler.Search)

		// 文件上传
		api.POST("/upload", UploadRateLimit(), handler.UploadFile)

		// 生成任务
		batch := api.Group("/batch-tasks")
		{
			batch.GET("", handler.GetBatchTasks)
			batch.POST("", handler.CreateBatchTask)
			batch.POST("/generate", handler.StartGeneration)
			batch.PUT("/:id", handler.UpdateBatchTask)
			batch.DELETE("/:id", handler.DeleteBatchTask)
			batch.GET("/:id/progress", handler.SubscribeProgress)
		}

		// 设置
		api.GET("/settings/generation", handler.GetGenerationSettings)
		api.PUT("/settings/generation", handler.UpdateGenerationSettings)

		// 运行状态
		api.GET("/ws/status", handler.GetWebSocketStatus)
		api.GET("/metrics", handler.GetMetrics)
	}

	return r
}

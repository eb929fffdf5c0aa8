// internal/api/batch_handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Corphon/StoryboardSync/internal/config"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/services"
	"github.com/gin-gonic/gin"
)

// GetBatchTasks 获取全部生成任务
func (h *Handler) GetBatchTasks(c *gin.Context) {
	tasks, err := h.BatchService.ListTasks(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, err, "获取任务失败")
		return
	}
	h.Response.Success(c, tasks)
}

// CreateBatchTask 创建生成任务
func (h *Handler) CreateBatchTask(c *gin.Context) {
	var req models.BatchTaskUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	task, err := h.BatchService.CreateTask(c.Request.Context(), req)
	if err != nil {
		h.Response.HandleError(c, err, "创建任务失败")
		return
	}
	h.Response.Created(c, task, "任务创建成功")
}

// UpdateBatchTask 更新生成任务
func (h *Handler) UpdateBatchTask(c *gin.Context) {
	var req models.BatchTaskUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	task, err := h.BatchService.UpdateTask(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.Response.HandleError(c, err, "更新任务失败")
		return
	}
	h.Response.Success(c, task, "任务已更新")
}

// DeleteBatchTask 删除生成任务
func (h *Handler) DeleteBatchTask(c *gin.Context) {
	if err := h.BatchService.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.HandleError(c, err, "删除任务失败")
		return
	}
	h.Response.Success(c, nil, "任务已删除")
}

// StartGeneration 启动后台生成，ids 为空时启动全部待生成任务
func (h *Handler) StartGeneration(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	started, err := h.GenerationService.StartGeneration(c.Request.Context(), req.IDs)
	if err != nil {
		h.Response.HandleError(c, err, "启动生成失败")
		return
	}
	h.Response.Success(c, gin.H{"started": started}, fmt.Sprintf("已启动 %d 个任务", len(started)))
}

// SubscribeProgress 订阅生成任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.BatchService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.Response.HandleError(c, err, "获取任务失败")
		return
	}

	// 设置SSE响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	tracker, exists := h.GenerationService.Progress().GetTracker(taskID)
	if !exists {
		// 没有运行中的跟踪器时只返回持久化状态
		writeSSE(c, "progress", services.ProgressUpdate{
			TaskID:   task.ID,
			Progress: terminalProgress(task.Status),
			Status:   task.Status,
		})
		return
	}

	clientGone := c.Request.Context().Done()
	updateChan := tracker.Subscribe()
	defer tracker.Unsubscribe(updateChan)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updateChan:
			if !ok {
				return
			}
			writeSSE(c, "progress", update)

			if update.Status.IsTerminal() {
				return
			}
		case <-ticker.C:
			// 心跳保持连接
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

func writeSSE(c *gin.Context, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}

func terminalProgress(status models.TaskStatus) int {
	if status == models.TaskStatusCompleted {
		return 100
	}
	return 0
}

// GetGenerationSettings 获取视频生成设置，密钥脱敏
func (h *Handler) GetGenerationSettings(c *gin.Context) {
	h.Response.Success(c, config.GetGenerationSettings(), "设置获取成功")
}

// UpdateGenerationSettings 更新视频生成设置，空字段保持不变
func (h *Handler) UpdateGenerationSettings(c *gin.Context) {
	var req config.GenerationSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if err := config.UpdateGenerationConfig(req); err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorConfigInvalid, "保存生成设置失败", err.Error())
		return
	}
	h.Response.Success(c, config.GetGenerationSettings(), "设置保存成功")
}

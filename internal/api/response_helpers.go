// internal/api/response_helpers.go
package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/gin-gonic/gin"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "资源创建成功"
	}

	c.JSON(http.StatusCreated, response)
}

// sanitizeErrorMessage 去掉可能泄露密钥的错误信息
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "secret", "token", "access_key"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	message := resource + "不存在"
	code := ErrorNotFound
	if resource != "" {
		code = rh.getResourceNotFoundCode(resource)
	}
	rh.Error(c, http.StatusNotFound, code, message, details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// Conflict 409错误响应
func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, ErrorConflict, message, details...)
}

// HandleError 按错误类型映射状态码
func (rh *ResponseHelper) HandleError(c *gin.Context, err error, fallback string) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		log.Printf("❌ %s: %v", fallback, err)
		rh.InternalError(c, fallback, err.Error())
		return
	}

	details := ""
	if appErr.Err != nil {
		details = appErr.Err.Error()
	}

	status := apperrors.HTTPStatus(appErr)
	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		rh.Error(c, status, ErrorValidation, appErr.Message, details)
	case apperrors.ErrorTypeNotFound:
		rh.Error(c, status, ErrorNotFound, appErr.Message, details)
	case apperrors.ErrorTypeConflict:
		rh.Error(c, status, ErrorConflict, appErr.Message, details)
	case apperrors.ErrorTypeAsset:
		rh.Error(c, status, ErrorAssetUnavailable, appErr.Message, details)
	default:
		log.Printf("❌ %s: %v", fallback, err)
		rh.Error(c, status, ErrorInternalError, fallback, appErr.Error())
	}
}

// DownloadHeaders 设置附件下载响应头
func (rh *ResponseHelper) DownloadHeaders(c *gin.Context, filename, contentType string) {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	if requestID := c.GetString(requestIDKey); requestID != "" {
		return requestID
	}
	return ""
}

// getResourceNotFoundCode 根据资源类型生成错误代码
func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case "项目", "project":
		return ErrorProjectNotFound
	case "页面", "page":
		return ErrorPageNotFound
	case "元素", "element":
		return ErrorElementNotFound
	case "任务", "task":
		return ErrorTaskNotFound
	default:
		return "RESOURCE_NOT_FOUND"
	}
}

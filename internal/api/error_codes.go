// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorValidation    = "VALIDATION_ERROR"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 实体相关错误
	ErrorProjectNotFound = "PROJECT_NOT_FOUND"
	ErrorPageNotFound    = "PAGE_NOT_FOUND"
	ErrorElementNotFound = "ELEMENT_NOT_FOUND"
	ErrorTaskNotFound    = "TASK_NOT_FOUND"

	// 文件相关错误
	ErrorFileUploadFailed = "FILE_UPLOAD_FAILED"
	ErrorFileInvalid      = "FILE_INVALID"
	ErrorAssetUnavailable = "ASSET_UNAVAILABLE"

	// 导出相关错误
	ErrorExportFailed = "EXPORT_FAILED"

	// 配置相关错误
	ErrorConfigInvalid = "CONFIG_INVALID"
)

// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest      = "BAD_REQUEST"
	ErrorNotFound        = "NOT_FOUND"
	ErrorInternalError   = "INTERNAL_ERROR"
	ErrorConflict        = "CONFLICT"
	ErrorValidation      = "VALIDATION_ERROR"
	ErrorRateLimited     = "RATE_LIMIT_EXCEEDED"
	ErrorServiceNotReady = "SERVICE_NOT_READY"

	// 项目相关
	ErrorProjectNotFound  = "PROJECT_NOT_FOUND"
	ErrorProjectIDInvalid = "PROJECT_ID_INVALID"
	ErrorScriptIDInvalid  = "SCRIPT_ID_INVALID"

	// 模型配置
	ErrorLLMConfigInvalid   = "LLM_CONFIG_INVALID"
	ErrorImageConfigInvalid = "IMAGE_CONFIG_INVALID"

	// 资产
	ErrorAssetSyncFailed = "ASSET_SYNC_FAILED"
	ErrorAssetListFailed = "ASSET_LIST_FAILED"

	// 大纲
	ErrorOutlineListFailed = "OUTLINE_LIST_FAILED"
)

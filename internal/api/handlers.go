// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/DramaForge/internal/agent"
	"github.com/Corphon/DramaForge/internal/config"
	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/services"
	"github.com/Corphon/DramaForge/internal/storage"
	"github.com/Corphon/DramaForge/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	LLMService    *services.LLMService    // 文本模型
	ImageService  *services.ImageService  // 图像模型
	ConfigService *services.ConfigService // 模型配置
	AssetService  *services.AssetService  // 资产同步

	// 存储
	Projects *storage.ProjectStore
	Outlines *storage.OutlineStore
	Prompts  agent.PromptResolver

	// 分镜图
	Generator agent.GridGenerator
	Blobs     agent.BlobWriter

	Sessions *WebSocketManager // WebSocket 会话
	Response *ResponseHelper   // 响应助手

	limiter   *RateLimiter
	startedAt time.Time
}

// NewHandler 创建 Handler，会话管理器在此启动
func NewHandler(h Handler) *Handler {
	out := h
	if out.Response == nil {
		out.Response = NewResponseHelper()
	}
	if out.Sessions == nil {
		out.Sessions = NewWebSocketManager(defaultPingTimeout)
	}
	out.startedAt = time.Now()
	return &out
}

// Close 关闭所有会话并停止限流器清理
func (h *Handler) Close() {
	h.Sessions.Stop()
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// modelSettingsRequest PUT /api/settings/* 的请求体，apiKey 可回传脱敏值
type modelSettingsRequest struct {
	Manufacturer string `json:"manufacturer" binding:"required"`
	Model        string `json:"model"`
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl"`
}

func (r modelSettingsRequest) toModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Manufacturer: r.Manufacturer,
		Model:        r.Model,
		APIKey:       r.APIKey,
		BaseURL:      r.BaseURL,
	}
}

// projectID 解析路径中的项目 ID 并确认项目存在
func (h *Handler) projectID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.Response.Error(c, http.StatusBadRequest, ErrorProjectIDInvalid, "invalid project id", c.Param("id"))
		return 0, false
	}
	if _, err := h.Projects.GetProject(c.Request.Context(), id); err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "project")
			return 0, false
		}
		h.Response.FromError(c, "", err)
		return 0, false
	}
	return id, true
}

// Health 服务状态
func (h *Handler) Health(c *gin.Context) {
	llmReady, llmState := h.LLMService.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
		"llm": gin.H{
			"ready":    llmReady,
			"state":    llmState,
			"provider": h.LLMService.GetProviderName(),
		},
		"image": gin.H{
			"ready": h.ImageService.IsReady(),
			"state": h.ImageService.GetReadyState(),
		},
		"sessions": h.Sessions.Count(),
	})
}

// GetLLMSettings 获取文本模型配置
func (h *Handler) GetLLMSettings(c *gin.Context) {
	h.Response.Success(c, h.ConfigService.GetLLMSettings())
}

// UpdateLLMSettings 更新文本模型配置，成功后立即生效
func (h *Handler) UpdateLLMSettings(c *gin.Context) {
	var req modelSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	if err := h.ConfigService.UpdateLLMConfig(req.toModelConfig()); err != nil {
		code := ErrorLLMConfigInvalid
		if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
			code = ""
		}
		h.Response.FromError(c, code, err)
		return
	}
	h.Response.Success(c, h.ConfigService.GetLLMSettings(), "LLM settings updated")
}

// GetImageSettings 获取图像模型配置
func (h *Handler) GetImageSettings(c *gin.Context) {
	h.Response.Success(c, h.ConfigService.GetImageSettings())
}

// UpdateImageSettings 更新图像模型配置
func (h *Handler) UpdateImageSettings(c *gin.Context) {
	var req modelSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	if err := h.ConfigService.UpdateImageConfig(req.toModelConfig()); err != nil {
		code := ErrorImageConfigInvalid
		if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
			code = ""
		}
		h.Response.FromError(c, code, err)
		return
	}
	h.Response.Success(c, h.ConfigService.GetImageSettings(), "image settings updated")
}

// GetSettingsHistory 最近的配置变更
func (h *Handler) GetSettingsHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	h.Response.Success(c, h.ConfigService.GetChangeHistory(limit))
}

// ListAssets 项目资产库
func (h *Handler) ListAssets(c *gin.Context) {
	id, ok := h.projectID(c)
	if !ok {
		return
	}
	assets, err := h.AssetService.ListAssets(c.Request.Context(), id)
	if err != nil {
		h.Response.FromError(c, ErrorAssetListFailed, err)
		return
	}
	h.Response.Success(c, assets)
}

// SyncAssets 从全部大纲提取资产
func (h *Handler) SyncAssets(c *gin.Context) {
	id, ok := h.projectID(c)
	if !ok {
		return
	}
	stats, err := h.AssetService.SyncFromOutlines(c.Request.Context(), id)
	if err != nil {
		utils.GetLogger().Error("asset sync failed", map[string]interface{}{
			"project_id": id,
			"error":      err.Error(),
		})
		h.Response.FromError(c, ErrorAssetSyncFailed, err)
		return
	}
	h.Response.Success(c, stats, "assets synced: "+stats.String())
}

// ListOutlines 项目分集大纲
func (h *Handler) ListOutlines(c *gin.Context) {
	id, ok := h.projectID(c)
	if !ok {
		return
	}
	outlines, err := h.Outlines.ListOutlines(c.Request.Context(), id)
	if err != nil {
		h.Response.FromError(c, ErrorOutlineListFailed, err)
		return
	}
	h.Response.Success(c, outlines)
}

// GetMetrics 运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"metrics":   utils.GetMetricsCollector().GetMetrics(),
		"websocket": h.Sessions.GetStatus(),
	})
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.Sessions.GetStatus()
	status["ping_timeout_seconds"] = int(h.Sessions.pingTimeout.Seconds())
	status["timestamp"] = time.Now().Format(time.RFC3339)
	h.Response.Success(c, status)
}

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/sensorlight/internal/errors"
	"github.com/wfunc/sensorlight/internal/models"
	"github.com/wfunc/sensorlight/internal/service"
)

// 查询条数上限
const maxQueryLimit = 500

// FrameLogAPI 命令帧日志API
type FrameLogAPI struct {
	service *service.FrameLogService
}

// NewFrameLogAPI 创建命令帧日志API
func NewFrameLogAPI(service *service.FrameLogService) *FrameLogAPI {
	return &FrameLogAPI{
		service: service,
	}
}

// RegisterRoutes 注册路由
func (api *FrameLogAPI) RegisterRoutes(router *gin.RouterGroup) {
	frames := router.Group("/frames")
	{
		frames.GET("", api.QueryLogs)            // 查询日志列表
		frames.GET("/stats", api.GetStats)       // 获取统计信息
		frames.POST("/cleanup", api.CleanupLogs) // 清理旧日志
	}
}

// QueryLogs 查询日志列表
func (api *FrameLogAPI) QueryLogs(c *gin.Context) {
	query := &models.FrameLogQuery{
		Command:   c.Query("command"),
		RequestID: c.Query("request_id"),
		SessionID: c.Query("session_id"),
	}

	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, apperrors.Newf(apperrors.ErrInvalidParam, "success: %q", v))
			return
		}
		query.Success = &b
	}

	var err error
	if query.StartTime, err = parseTimeParam(c, "start_time"); err != nil {
		respondError(c, err)
		return
	}
	if query.EndTime, err = parseTimeParam(c, "end_time"); err != nil {
		respondError(c, err)
		return
	}

	// 分页参数
	query.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	query.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if query.Limit <= 0 || query.Limit > maxQueryLimit {
		query.Limit = 20
	}
	if query.Offset < 0 {
		query.Offset = 0
	}
	if strings.EqualFold(c.Query("order"), "asc") {
		query.OrderBy = "created_at ASC"
	}

	logs, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetStats 获取统计信息
func (api *FrameLogAPI) GetStats(c *gin.Context) {
	start, err := parseTimeParam(c, "start_time")
	if err != nil {
		respondError(c, err)
		return
	}
	end, err := parseTimeParam(c, "end_time")
	if err != nil {
		respondError(c, err)
		return
	}

	stats, err := api.service.GetStats(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    stats,
		"dropped": api.service.Dropped(),
	})
}

// CleanupLogs 清理旧日志
func (api *FrameLogAPI) CleanupLogs(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil {
		respondError(c, apperrors.Newf(apperrors.ErrInvalidParam, "days: %q", c.Query("days")))
		return
	}

	deleted, err := api.service.CleanupOldLogs(c.Request.Context(), days)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted": deleted,
		"days":    days,
	})
}

// parseTimeParam 解析RFC3339时间参数，空值返回nil
func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "%s: %q", name, v)
	}
	return &t, nil
}

// respondError 以JSON返回应用错误
func respondError(c *gin.Context, err error) {
	code := apperrors.GetCode(err)
	body := gin.H{
		"code":    code,
		"message": err.Error(),
	}
	if appErr, ok := err.(*apperrors.AppError); ok {
		body["message"] = appErr.Message
		if appErr.Details != "" {
			body["details"] = appErr.Details
		}
	}
	c.JSON(apperrors.HTTPStatusOf(err), body)
}

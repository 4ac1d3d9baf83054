package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/sensorlight/internal/database"
	"github.com/wfunc/sensorlight/internal/hardware"
	"github.com/wfunc/sensorlight/internal/middleware"
	"github.com/wfunc/sensorlight/internal/service"
	"github.com/wfunc/sensorlight/internal/utils"
	"github.com/wfunc/sensorlight/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatsProvider 提供网关运行统计
type StatsProvider interface {
	Stats() hardware.GatewayStats
}

// AdminRouter 管理接口路由器，与RPC端口分开监听
type AdminRouter struct {
	engine         *gin.Engine
	gateway        StatsProvider
	journal        *service.FrameLogService
	db             *gorm.DB
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
	startedAt      time.Time
}

// NewAdminRouter 创建管理接口路由器。db为nil表示未启用数据库，jwt为nil表示不认证。
func NewAdminRouter(gateway StatsProvider, journal *service.FrameLogService, db *gorm.DB, jwt *utils.JWTManager, log *zap.Logger) *AdminRouter {
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(RequestID(), Recovery(log), RequestLogger(log))

	r := &AdminRouter{
		engine:         engine,
		gateway:        gateway,
		journal:        journal,
		db:             db,
		authMiddleware: middleware.NewAuthMiddleware(jwt),
		log:            log,
		startedAt:      time.Now(),
	}

	r.setupRoutes()

	return r
}

// setupRoutes 设置路由
func (r *AdminRouter) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	v1.Use(r.authMiddleware.RequireAuth())
	{
		NewFrameLogAPI(r.journal).RegisterRoutes(v1)
	}

	ws := r.engine.Group("/ws")
	ws.Use(r.authMiddleware.RequireAuth())
	{
		ws.GET("/frames", websocket.Handler(r.journal, r.log))
	}
}

// Handler 返回http.Handler
func (r *AdminRouter) Handler() http.Handler {
	return r.engine
}

// healthCheck 健康检查
func (r *AdminRouter) healthCheck(c *gin.Context) {
	stats := r.gateway.Stats()
	status := http.StatusOK
	body := gin.H{
		"status": "healthy",
		"uptime": time.Since(r.startedAt).Round(time.Second).String(),
		"device": stats,
	}

	if stats.Closed {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["message"] = "串口已关闭"
	}

	switch {
	case r.db == nil:
		body["database"] = "disabled"
	default:
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx, r.db); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = "error"
			body["message"] = "数据库ping失败"
		} else {
			body["database"] = "ok"
		}
	}

	c.JSON(status, body)
}

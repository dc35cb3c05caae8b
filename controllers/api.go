package controllers

import (
	"net/http"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type APIController struct {
	server *services.Server
}

/**
 * Create new API controller instance
 * @param {*services.Server} server - Server facade giving access to the tunnel registry
 * @returns {*APIController} New API controller instance
 * @example
 * server, _ := services.NewServerFromConfig(ctx, &cfg)
 * controller := controllers.NewAPIController(server)
 */
func NewAPIController(server *services.Server) *APIController {
	return &APIController{
		server: server,
	}
}

/**
 * Register all API routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @param {config.MetricsConfig} metrics - prometheus endpoint settings
 * @description
 * - Creates /api route group
 * - Registers routes for:
 *   - Tunnel management (start/stop/stop-all/list)
 *   - Status, debug and host services
 *   - Lifecycle event stream
 *   - Health check, metrics and swagger UI
 */
func (a *APIController) RegisterRoutes(r *gin.Engine, metrics config.MetricsConfig) {
	api := r.Group("/api")
	NewTunnelController(a.server.Tunnels()).RegisterRoutes(api)
	NewServiceController(a.server).RegisterRoutes(api)
	NewEventsController(a.server.Events()).RegisterRoutes(api)

	api.GET("/status", a.Status)
	api.GET("/debug", a.Debug)
	api.POST("/reload", a.ReloadConfig)
	r.GET("/healthz", a.Healthz)
	if metrics.Enabled {
		path := metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// @Summary 重新加载配置
// @Description 重新加载应用配置文件，目前只有日志级别会立即生效
// @Tags Config
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/reload [post]
func (a *APIController) ReloadConfig(c *gin.Context) {
	// 调用配置重新加载方法
	if err := config.ReloadConfig(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "config.reload_failed",
			"message": "Failed to reload configuration: " + err.Error(),
		})
		return
	}
	cfg := config.Get()
	a.server.ApplyConfig(&cfg)

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Configuration reloaded successfully",
	})
}

// @Summary 查询整体状态
// @Description 返回宿主机服务、所有隧道、本机地址、默认有效期以及持久隧道服务状态
// @Tags System
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /api/status [get]
func (a *APIController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.GetStatus(c.Request.Context()))
}

// @Summary 调试信息
// @Description 返回内存中的隧道记录(含状态、PID、代次和输出尾部)、代理进程列表、状态文件内容和代理版本
// @Tags System
// @Produce json
// @Success 200 {object} models.DebugInfo
// @Router /api/debug [get]
func (a *APIController) Debug(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.Tunnels().Debug(c.Request.Context()))
}

// @Summary 业务就绪探针
// @Description 检查服务是否已经做好准备，返回服务版本、启动时间、健康状态和关键指标统计结果
// @Tags System
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /healthz [get]
func (a *APIController) Healthz(c *gin.Context) {
	// 调用server的GetHealthz方法获取健康检查响应
	response := a.server.GetHealthz(c.Request.Context())
	c.JSON(http.StatusOK, response)
}

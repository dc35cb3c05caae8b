package middleware

import (
	"time"

	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
)

/**
 * HTTP请求统计中间件
 * @description
 * - 统计HTTP服务器收到的请求数量
 * - 记录请求处理时间
 * - 状态码>=400的请求计入错误数
 * - 为健康检查接口提供请求数据
 */
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		statusCode := c.Writer.Status()

		// 使用路由模板(而不是实际路径)作为服务名称
		serviceName := c.FullPath()
		if serviceName == "" {
			serviceName = "unknown"
		}

		services.IncrementRequestCount(serviceName)
		services.RecordRequestDuration(serviceName, duration)
		if statusCode >= 400 {
			services.IncrementErrorCount(serviceName)
		}
	}
}

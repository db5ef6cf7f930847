package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	JWTSecret string
	// Gatherer 为空时不暴露 /metrics
	Gatherer prometheus.Gatherer
}

// SetupRouter 配置路由
func SetupRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	r.GET("/health", h.Health)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	{
		// 处理方回调靠签名鉴权，不走 JWT
		api.POST("/webhooks/processor", h.ProcessorWebhook)

		authed := api.Group("")
		authed.Use(AuthMiddleware(opts.JWTSecret))
		{
			authed.POST("/charges", h.CreateCharge)
			authed.GET("/settlements", h.ListSettlements)
			authed.GET("/settlements/:id/receipt", h.GetReceipt)
		}
	}

	return r
}

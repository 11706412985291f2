// Package router 提供 HTTP 路由设置和中间件配置功能
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/api"
	"github.com/MorseWayne/stock_ledger/internal/config"
	"github.com/MorseWayne/stock_ledger/internal/limiter"
	mw "github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// Dependencies 包含路由设置所需的所有依赖
type Dependencies struct {
	AuthHandler          *api.AuthHandler
	InventoryHandler     *api.InventoryHandler
	PurchaseOrderHandler *api.PurchaseOrderHandler
	ReportHandler        *api.ReportHandler
	JWTService           service.JWTService

	// MutationLimiter 写操作限流器；为nil时不启用限流
	MutationLimiter limiter.Limiter
}

// Router 路由器接口
type Router interface {
	Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler
}

// GinRouter Gin路由器实现
type GinRouter struct {
	engine *gin.Engine
	deps   *Dependencies
	logger *zap.Logger
}

// New 创建新的路由器实例
func New() Router {
	return &GinRouter{}
}

// Setup 设置路由和中间件
func (r *GinRouter) Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler {
	// 根据环境设置 Gin 模式
	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r.engine = gin.New()
	r.deps = deps
	r.logger = lg

	r.setupMiddleware(cfg)
	r.setupRoutes()

	return r.engine
}

// setupMiddleware 设置全局中间件链：
// 请求ID → panic恢复 → 访问日志 → CORS → 幂等键提取
func (r *GinRouter) setupMiddleware(cfg *config.Config) {
	r.engine.Use(wrapMiddleware(mw.RequestID))
	r.engine.Use(wrapMiddleware(mw.Recovery(r.logger)))
	r.engine.Use(wrapMiddleware(mw.AccessLog(r.logger)))
	r.engine.Use(wrapMiddleware(mw.CORS(mw.CORSConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
	})))
	r.engine.Use(wrapMiddleware(mw.IdempotencyKey))
}

// setupRoutes 设置所有路由
func (r *GinRouter) setupRoutes() {
	// 健康检查
	r.engine.GET("/healthz", r.healthCheck)

	// API v1 路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 令牌路由（无需认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/refresh", r.wrapHandler(r.deps.AuthHandler.RefreshToken))
		}

		// 业务路由统一要求认证
		authed := v1.Group("")
		authed.Use(r.authMiddleware(), r.actorContext())

		// 库存路由
		inventory := authed.Group("/inventory")
		{
			mutations := inventory.Group("")
			mutations.Use(r.mutationLimit())
			{
				mutations.POST("/adjust", r.wrapHandler(r.deps.InventoryHandler.AdjustStock))
				mutations.POST("/receive", r.wrapHandler(r.deps.InventoryHandler.ReceiveStock))
				mutations.POST("/transfer", r.wrapHandler(r.deps.InventoryHandler.TransferStock))
			}

			inventory.POST("/recompute", r.adminMiddleware(), r.wrapHandler(r.deps.InventoryHandler.RecomputeSnapshots))
			inventory.GET("/snapshot", r.wrapHandler(r.deps.InventoryHandler.GetSnapshot))
			inventory.GET("/snapshots", r.wrapHandler(r.deps.InventoryHandler.ListSnapshots))
			inventory.GET("/movements", r.wrapHandler(r.deps.InventoryHandler.ListMovements))
			inventory.GET("/lots", r.wrapHandler(r.deps.InventoryHandler.ListLots))
		}

		// 采购单路由
		orders := authed.Group("/purchase-orders")
		{
			orders.GET("", r.wrapHandler(r.deps.PurchaseOrderHandler.List))
			orders.GET("/:id", r.wrapHandler(r.deps.PurchaseOrderHandler.Get))

			mutations := orders.Group("")
			mutations.Use(r.mutationLimit())
			{
				mutations.POST("", r.wrapHandler(r.deps.PurchaseOrderHandler.Create))
				mutations.POST("/reorder-drafts", r.wrapHandler(r.deps.PurchaseOrderHandler.ReorderDrafts))
				mutations.POST("/:id/submit", r.wrapHandler(r.deps.PurchaseOrderHandler.Submit))
				mutations.POST("/:id/receive", r.wrapHandler(r.deps.PurchaseOrderHandler.Receive))
				mutations.POST("/:id/cancel", r.wrapHandler(r.deps.PurchaseOrderHandler.Cancel))
				mutations.POST("/:id/approve", r.adminMiddleware(), r.wrapHandler(r.deps.PurchaseOrderHandler.Approve))
				mutations.POST("/:id/rollback", r.adminMiddleware(), r.wrapHandler(r.deps.PurchaseOrderHandler.Rollback))
			}
		}

		// 报表路由（只读）
		reports := authed.Group("/reports")
		{
			reports.GET("/stockouts", r.wrapHandler(r.deps.ReportHandler.Stockouts))
			reports.GET("/slow-movers", r.wrapHandler(r.deps.ReportHandler.SlowMovers))
			reports.GET("/shrinkage", r.wrapHandler(r.deps.ReportHandler.Shrinkage))
			reports.GET("/reorder-suggestions", r.wrapHandler(r.deps.ReportHandler.ReorderSuggestions))
		}
	}
}

// healthCheck 健康检查处理器
func (r *GinRouter) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// wrapHandler 将标准的 http.HandlerFunc 包装为 gin.HandlerFunc
func (r *GinRouter) wrapHandler(handler func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return gin.WrapF(handler)
}

// wrapMiddleware 把标准库风格的中间件适配为 gin.HandlerFunc。
// 中间件未调用内层处理器时（认证失败等）中断 gin 链。
func wrapMiddleware(middleware func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			passed = true
			c.Request = req
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}

// authMiddleware JWT认证中间件
func (r *GinRouter) authMiddleware() gin.HandlerFunc {
	return wrapMiddleware(mw.AuthMiddleware(r.deps.JWTService, r.logger))
}

// adminMiddleware 管理员权限中间件
func (r *GinRouter) adminMiddleware() gin.HandlerFunc {
	return wrapMiddleware(mw.RequireAdmin(r.logger))
}

// actorContext 把认证结果同步到 gin 上下文，供限流器按操作者取键
func (r *GinRouter) actorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := mw.ActorFromContext(c.Request.Context()); actor != nil {
			c.Set("actor_id", actor.ID)
		}
		c.Set("request_id", mw.RequestIDFromContext(c.Request.Context()))
		c.Next()
	}
}

// mutationLimit 写操作限流；未配置限流器时直接放行
func (r *GinRouter) mutationLimit() gin.HandlerFunc {
	if r.deps.MutationLimiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return limiter.MutationRateLimitMiddleware(r.deps.MutationLimiter)
}

package router

import (
	"cot-eval/internal/handler"
	"cot-eval/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRouter(svcCtx *service.ServiceContext) *gin.Engine {
	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 初始化handlers
	resultsHandler := handler.NewResultsHandler(svcCtx.Store, svcCtx.Runner)

	// API路由
	api := r.Group("/api")
	{
		// 前端读取面
		api.GET("/dataset-model-strategy-options", resultsHandler.GetOptions)
		api.GET("/evaluation-results", resultsHandler.GetEvaluationResults)
		api.GET("/sessions", resultsHandler.ListSessions)

		// 批量评估
		runs := api.Group("/runs")
		{
			runs.POST("", resultsHandler.RunBatch)
			runs.GET("/progress", resultsHandler.GetProgress)
		}
	}

	return r
}

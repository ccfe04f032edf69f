package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"cot-eval/internal/service"
)

type ResultsHandler struct {
	store  service.SessionStore
	runner *service.BatchRunner
}

func NewResultsHandler(store service.SessionStore, runner *service.BatchRunner) *ResultsHandler {
	return &ResultsHandler{store: store, runner: runner}
}

// GetOptions 前端下拉框的可选项：数据集/模型/策略
func (h *ResultsHandler) GetOptions(c *gin.Context) {
	options, err := h.store.Options(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, options)
}

// GetEvaluationResults 查询指定数据集+模型的聚合评估结果
func (h *ResultsHandler) GetEvaluationResults(c *gin.Context) {
	dataset := c.Query("dataset")
	model := c.Query("model")
	if dataset == "" || model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少dataset或model参数"})
		return
	}

	results, err := h.store.Results(c.Request.Context(), dataset, model)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, results)
}

// ListSessions 列出所有评估会话
func (h *ResultsHandler) ListSessions(c *gin.Context) {
	sessions, err := h.store.Sessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// RunBatch 跑一次批量评估：执行策略 -> 记录日志 -> 评估 -> 聚合落库。
// 同步返回运行摘要，进行中可通过 /api/runs/progress 观察进度。
func (h *ResultsHandler) RunBatch(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch runner not initialized"})
		return
	}

	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.runner.Run(c.Request.Context(), &req)
	if err != nil {
		log.Printf("批量评估失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":    summary,
		"session_id": summary.SessionID,
	})
}

// GetProgress 查询批量评估进度
func (h *ResultsHandler) GetProgress(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch runner not initialized"})
		return
	}
	c.JSON(http.StatusOK, h.runner.Progress())
}

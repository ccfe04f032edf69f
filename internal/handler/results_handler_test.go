package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"cot-eval/internal/model"
	"cot-eval/internal/service"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := service.NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}

	entry := &service.LoggedEntry{
		ConversationLogEntry: model.ConversationLogEntry{
			QuestionID: "q1",
			Question:   "1+1等于几",
			Strategy:   "baseline",
			SessionID:  "s1",
			Evaluated:  true,
			EvaluationResult: &model.EvaluationResult{
				Accuracy: &model.MetricScore{Score: 1, Explanation: "正确"},
			},
		},
	}
	req := &service.SaveRequest{
		SessionID:    "s1",
		ResultPrefix: service.PrefixFor("livebench/math", "gpt-4"),
		Dataset:      "livebench/math",
		Model:        "gpt-4",
		Entries:      []*service.LoggedEntry{entry},
		File:         service.BuildResultsFile([]*service.LoggedEntry{entry}),
	}
	if err := store.SaveResults(context.Background(), req); err != nil {
		t.Fatalf("保存结果失败: %v", err)
	}

	h := NewResultsHandler(store, nil)
	r := gin.New()
	r.GET("/api/evaluation-results", h.GetEvaluationResults)
	r.GET("/api/dataset-model-strategy-options", h.GetOptions)
	r.GET("/api/sessions", h.ListSessions)
	return r
}

func TestGetEvaluationResults(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/evaluation-results?dataset=livebench/math&model=gpt-4", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望200，实际 %d: %s", w.Code, w.Body.String())
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	for _, key := range []string{"baseline", "timestamp", "overall_metrics"} {
		if _, ok := body[key]; !ok {
			t.Errorf("响应缺少 %s 键", key)
		}
	}
}

func TestGetEvaluationResults_MissingParams(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/evaluation-results?dataset=livebench/math", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("缺少参数应返回400，实际 %d", w.Code)
	}
}

func TestGetEvaluationResults_NotFound(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/evaluation-results?dataset=no_such&model=gpt-4", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("结果不存在应返回404，实际 %d", w.Code)
	}
}

func TestGetOptions(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/dataset-model-strategy-options", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望200，实际 %d", w.Code)
	}

	var options service.SessionOptions
	if err := json.Unmarshal(w.Body.Bytes(), &options); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(options.Datasets) != 1 || options.Datasets[0] != "livebench/math" {
		t.Errorf("数据集选项不对: %v", options.Datasets)
	}
	if len(options.Strategies) == 0 {
		t.Error("策略选项不应为空")
	}
}

func TestListSessions(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望200，实际 %d", w.Code)
	}

	var body struct {
		Sessions []model.SessionSummary `json:"sessions"`
		Total    int                    `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body.Total != 1 || len(body.Sessions) != 1 {
		t.Errorf("应有1个会话，实际 %d", body.Total)
	}
}

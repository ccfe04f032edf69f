package model

import (
	"encoding/json"
	"strings"
	"testing"
)

// 旧版结果文件用 total_questions，读取时兼容
func TestStrategyMetrics_LegacyField(t *testing.T) {
	legacy := `{"total_questions": 5, "metrics": {"accuracy": {"average_score": 0.8, "count": 5}}}`

	var m StrategyMetrics
	if err := json.Unmarshal([]byte(legacy), &m); err != nil {
		t.Fatalf("解析旧版指标失败: %v", err)
	}
	if m.TotalRecords != 5 {
		t.Errorf("total_questions 应映射到 TotalRecords，实际 %d", m.TotalRecords)
	}

	// 两个字段都有时以新字段为准
	both := `{"total_records": 3, "total_questions": 5, "metrics": {}}`
	var m2 StrategyMetrics
	if err := json.Unmarshal([]byte(both), &m2); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if m2.TotalRecords != 3 {
		t.Errorf("新字段应优先，实际 %d", m2.TotalRecords)
	}
}

func TestEvaluationResultsFile_WireFormat(t *testing.T) {
	file := EvaluationResultsFile{
		Strategies: map[string][]StrategyResult{
			"baseline": {{ID: "q1", Question: "问题", Metrics: EvaluationResult{
				Accuracy: &MetricScore{Score: 1, Explanation: "正确"},
			}}},
		},
		Timestamp: 1700000000,
		OverallMetrics: map[string]StrategyMetrics{
			"baseline": {TotalRecords: 1},
		},
	}

	data, err := json.Marshal(file)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	body := string(data)

	// 策略名是顶层键，与 timestamp、overall_metrics 并列
	for _, key := range []string{`"baseline"`, `"timestamp"`, `"overall_metrics"`} {
		if !strings.Contains(body, key) {
			t.Errorf("序列化结果缺少 %s: %s", key, body)
		}
	}
	if strings.Contains(body, `"strategies"`) {
		t.Error("策略不应嵌套在strategies键下")
	}

	var decoded EvaluationResultsFile
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}
	if len(decoded.Strategies["baseline"]) != 1 {
		t.Errorf("baseline应有1条记录，实际 %d", len(decoded.Strategies["baseline"]))
	}
	if decoded.Timestamp != 1700000000 {
		t.Errorf("timestamp不对: %v", decoded.Timestamp)
	}
	if decoded.OverallMetrics["baseline"].TotalRecords != 1 {
		t.Errorf("overall_metrics不对: %+v", decoded.OverallMetrics["baseline"])
	}
}

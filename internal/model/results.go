package model

import (
	"encoding/json"
	"fmt"
)

// MetricAverage 某项指标在一个策略上的平均分
type MetricAverage struct {
	AverageScore float64 `json:"average_score"`
	Count        int     `json:"count"`
}

// MetricsBlock 策略级指标汇总
type MetricsBlock struct {
	Accuracy         *MetricAverage `json:"accuracy,omitempty"`
	ReasoningQuality *MetricAverage `json:"reasoning_quality,omitempty"`
}

// BreakdownMetrics 按难度/类别细分的准确率
type BreakdownMetrics struct {
	Count    int     `json:"count"`
	Accuracy float64 `json:"accuracy"`
}

// StrategyMetrics 一个策略的总体评估指标，始终从已评估日志全量重算。
// 写出时只用 total_records；读取旧结果文件时兼容 total_questions。
type StrategyMetrics struct {
	TotalRecords        int                         `json:"total_records"`
	Metrics             MetricsBlock                `json:"metrics"`
	DifficultyBreakdown map[string]BreakdownMetrics `json:"difficulty_breakdown,omitempty"`
	CategoryBreakdown   map[string]BreakdownMetrics `json:"category_breakdown,omitempty"`
}

// UnmarshalJSON 兼容旧版结果文件中的 total_questions 字段。
// 下一次聚合写出时只使用 total_records，旧字段随之消失。
func (m *StrategyMetrics) UnmarshalJSON(data []byte) error {
	type plain StrategyMetrics
	aux := struct {
		*plain
		LegacyTotal int `json:"total_questions"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if m.TotalRecords == 0 && aux.LegacyTotal > 0 {
		m.TotalRecords = aux.LegacyTotal
	}
	return nil
}

// StrategyResult 结果文件中的单条评估记录
type StrategyResult struct {
	ID              string           `json:"id"`
	Question        string           `json:"question"`
	ReferenceAnswer string           `json:"reference_answer"`
	ModelAnswer     string           `json:"model_answer"`
	Reasoning       string           `json:"reasoning,omitempty"`
	Category        string           `json:"category"`
	Difficulty      string           `json:"difficulty"`
	Metrics         EvaluationResult `json:"metrics"`
	Timestamp       float64          `json:"timestamp"`
}

// EvaluationResultsFile 每个结果前缀一份的聚合结果文件。
// 线格式由前端固定：策略名作为顶层键，与 timestamp、overall_metrics 并列。
type EvaluationResultsFile struct {
	Strategies     map[string][]StrategyResult
	Timestamp      float64
	OverallMetrics map[string]StrategyMetrics
}

func (f EvaluationResultsFile) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(f.Strategies)+2)
	for name, results := range f.Strategies {
		out[name] = results
	}
	out["timestamp"] = f.Timestamp
	if f.OverallMetrics != nil {
		out["overall_metrics"] = f.OverallMetrics
	} else {
		out["overall_metrics"] = map[string]StrategyMetrics{}
	}
	return json.Marshal(out)
}

func (f *EvaluationResultsFile) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Strategies = make(map[string][]StrategyResult)
	for key, value := range raw {
		switch key {
		case "timestamp":
			if err := json.Unmarshal(value, &f.Timestamp); err != nil {
				return fmt.Errorf("解析timestamp失败: %w", err)
			}
		case "overall_metrics":
			if err := json.Unmarshal(value, &f.OverallMetrics); err != nil {
				return fmt.Errorf("解析overall_metrics失败: %w", err)
			}
		default:
			var results []StrategyResult
			if err := json.Unmarshal(value, &results); err != nil {
				return fmt.Errorf("解析策略 %s 的结果失败: %w", key, err)
			}
			f.Strategies[key] = results
		}
	}
	return nil
}

// StrategyNames 结果文件中出现的策略名
func (f *EvaluationResultsFile) StrategyNames() []string {
	names := make([]string, 0, len(f.Strategies))
	for name := range f.Strategies {
		names = append(names, name)
	}
	return names
}

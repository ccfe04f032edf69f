package model

// MetricScore 单项评估指标的得分与说明
type MetricScore struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// EvaluationResult 评估结果：准确率（0-1）与推理质量（1-10，可选）
type EvaluationResult struct {
	Accuracy         *MetricScore `json:"accuracy,omitempty"`
	ReasoningQuality *MetricScore `json:"reasoning_quality,omitempty"`
}

// SimilarQuestion 检索到的相似问题（按相似度降序）
type SimilarQuestion struct {
	QuestionID string  `json:"question_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Similarity float64 `json:"similarity"`
}

// ExampleCoT 为相似问题生成的CoT示例
type ExampleCoT struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	CoT      string `json:"cot"`
}

// StrategyDetails 策略的描述信息，写入日志元数据
type StrategyDetails struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	NumExamples    int    `json:"num_examples,omitempty"`
	PromptSuffix   string `json:"prompt_suffix,omitempty"`
	CoTPrefix      string `json:"cot_prefix,omitempty"`
	ReasoningModel string `json:"reasoning_model,omitempty"`
}

// EntryMetadata 对话日志的策略元数据
// SimilarQuestions 对检索类策略始终非nil（空索引时为空列表）
type EntryMetadata struct {
	StrategyDetails         StrategyDetails   `json:"strategy_details"`
	SimilarQuestions        []SimilarQuestion `json:"similar_questions"`
	ExampleCoTs             []ExampleCoT      `json:"example_cots,omitempty"`
	GeneratedReasoningChain string            `json:"generated_reasoning_chain,omitempty"`
}

// ConversationLogEntry 一次（问题，策略，会话）交互的完整记录。
// 创建时 evaluated=false，评估器恰好写入一次评估结果后置为 true，之后不再修改。
type ConversationLogEntry struct {
	QuestionID      string         `json:"question_id"`
	Question        string         `json:"question"`
	ReferenceAnswer string         `json:"reference_answer"`
	ModelAnswer     string         `json:"model_answer"`
	FullResponse    string         `json:"full_response"`
	HasReasoning    bool           `json:"has_reasoning"`
	Reasoning       string         `json:"reasoning,omitempty"`
	Strategy        string         `json:"strategy"`
	Category        string         `json:"category"`
	Difficulty      string         `json:"difficulty"`
	Timestamp       float64        `json:"timestamp"`
	SessionID       string         `json:"session_id"`
	Evaluated       bool           `json:"evaluated"`
	Metadata        *EntryMetadata `json:"metadata,omitempty"`

	EvaluationResult    *EvaluationResult `json:"evaluation_result,omitempty"`
	EvaluationTimestamp float64           `json:"evaluation_timestamp,omitempty"`
}

// SessionSummary 会话摘要，供 /api/sessions 使用
type SessionSummary struct {
	SessionID     string   `json:"session_id"`
	ResultPrefix  string   `json:"result_prefix,omitempty"`
	Dataset       string   `json:"dataset,omitempty"`
	Model         string   `json:"model,omitempty"`
	StartTime     float64  `json:"start_time,omitempty"`
	EndTime       float64  `json:"end_time,omitempty"`
	TotalLogs     int      `json:"total_logs"`
	EvaluatedLogs int      `json:"evaluated_logs"`
	Strategies    []string `json:"strategies,omitempty"`
}

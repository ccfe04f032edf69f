package model

// SQLite后端的四张表。evaluation_results 是事实数据源，
// overall_metrics 可由其重算；唯一约束在存储层保证单次写入。

// EvaluationResultRow 单条评估结果
// (question_id, strategy, session_id) 唯一，重复写入被拒绝而非覆盖
type EvaluationResultRow struct {
	ID         uint   `gorm:"primarykey" json:"id"`
	QuestionID string `gorm:"type:varchar(100);not null;uniqueIndex:uniq_eval_key" json:"question_id"`
	Strategy   string `gorm:"type:varchar(100);not null;uniqueIndex:uniq_eval_key" json:"strategy"`
	SessionID  string `gorm:"type:varchar(100);uniqueIndex:uniq_eval_key" json:"session_id"`
	Dataset    string `gorm:"type:varchar(200);index" json:"dataset"`
	Model      string `gorm:"type:varchar(200);index" json:"model"`

	Question        string `gorm:"type:text;not null" json:"question"`
	ReferenceAnswer string `gorm:"type:text" json:"reference_answer"`
	ModelAnswer     string `gorm:"type:text" json:"model_answer"`
	Reasoning       string `gorm:"type:text" json:"reasoning"`
	Category        string `gorm:"type:varchar(100)" json:"category"`
	Difficulty      string `gorm:"type:varchar(20)" json:"difficulty"`

	AccuracyScore        float64 `json:"accuracy_score"`
	AccuracyExplanation  string  `gorm:"type:text" json:"accuracy_explanation"`
	ReasoningScore       float64 `json:"reasoning_score"`
	ReasoningExplanation string  `gorm:"type:text" json:"reasoning_explanation"`

	Timestamp float64 `gorm:"not null" json:"timestamp"`
}

func (EvaluationResultRow) TableName() string { return "evaluation_results" }

// SessionRow 会话元数据
type SessionRow struct {
	SessionID      string  `gorm:"primaryKey;type:varchar(100)" json:"session_id"`
	ResultPrefix   string  `gorm:"type:varchar(200);index" json:"result_prefix"`
	Dataset        string  `gorm:"type:varchar(200);index" json:"dataset"`
	Model          string  `gorm:"type:varchar(200);index" json:"model"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
	TotalQuestions int     `json:"total_questions"`
	Metadata       string  `gorm:"type:text" json:"metadata"`
}

func (SessionRow) TableName() string { return "sessions" }

// StrategyMetadataRow 策略描述信息
type StrategyMetadataRow struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	SessionID   string `gorm:"type:varchar(100);uniqueIndex:uniq_strategy_meta" json:"session_id"`
	Strategy    string `gorm:"type:varchar(100);not null;uniqueIndex:uniq_strategy_meta" json:"strategy"`
	Name        string `gorm:"type:varchar(200)" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Parameters  string `gorm:"type:text" json:"parameters"`
}

func (StrategyMetadataRow) TableName() string { return "strategy_metadata" }

// OverallMetricsRow 策略级总体指标（可由 evaluation_results 重算）
type OverallMetricsRow struct {
	ID                  uint    `gorm:"primarykey" json:"id"`
	SessionID           string  `gorm:"type:varchar(100);uniqueIndex:uniq_overall" json:"session_id"`
	Strategy            string  `gorm:"type:varchar(100);not null;uniqueIndex:uniq_overall" json:"strategy"`
	TotalRecords        int     `json:"total_records"`
	AvgAccuracy         float64 `json:"avg_accuracy"`
	AvgReasoningQuality float64 `json:"avg_reasoning_quality"`
	MetricsJSON         string  `gorm:"type:text" json:"metrics_json"`
	Timestamp           float64 `json:"timestamp"`
}

func (OverallMetricsRow) TableName() string { return "overall_metrics" }

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cot-eval/internal/model"
)

// SQLiteStore 关系后端：evaluation_results 为事实数据源，
// 唯一约束 (question_id, strategy, session_id) 在存储层保证恰好一次写入。
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// InsertResult 插入单条评估结果。
// 键冲突时不覆盖已有行，返回 ErrAlreadyEvaluated。
func (s *SQLiteStore) InsertResult(ctx context.Context, row *model.EvaluationResultRow) error {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if tx.Error != nil {
		return fmt.Errorf("写入评估结果失败: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("评估结果 (%s, %s, %s): %w", row.QuestionID, row.Strategy, row.SessionID, ErrAlreadyEvaluated)
	}
	return nil
}

func (s *SQLiteStore) SaveResults(ctx context.Context, req *SaveRequest) error {
	db := s.db.WithContext(ctx)

	for _, e := range req.Entries {
		if !e.Evaluated || e.EvaluationResult == nil {
			continue
		}
		row := rowFromEntry(e, req.Dataset, req.Model)
		if err := s.InsertResult(ctx, row); err != nil {
			if errors.Is(err, ErrAlreadyEvaluated) {
				// 已有记录，跳过不算失败
				continue
			}
			return err
		}
	}

	session := model.SessionRow{
		SessionID:      req.SessionID,
		ResultPrefix:   req.ResultPrefix,
		Dataset:        req.Dataset,
		Model:          req.Model,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		TotalQuestions: len(req.Entries),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		UpdateAll: true,
	}).Create(&session).Error; err != nil {
		return fmt.Errorf("写入会话失败: %w", err)
	}

	if req.File != nil {
		if err := s.saveMetrics(ctx, req); err != nil {
			return err
		}
	}

	log.Printf("会话 %s 的评估结果已写入SQLite", req.SessionID)
	return nil
}

func (s *SQLiteStore) saveMetrics(ctx context.Context, req *SaveRequest) error {
	db := s.db.WithContext(ctx)
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	for strategy, metrics := range req.File.OverallMetrics {
		metricsJSON, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("序列化策略 %s 指标失败: %w", strategy, err)
		}

		row := model.OverallMetricsRow{
			SessionID:    req.SessionID,
			Strategy:     strategy,
			TotalRecords: metrics.TotalRecords,
			MetricsJSON:  string(metricsJSON),
			Timestamp:    now,
		}
		if acc := metrics.Metrics.Accuracy; acc != nil {
			row.AvgAccuracy = acc.AverageScore
		}
		if rq := metrics.Metrics.ReasoningQuality; rq != nil {
			row.AvgReasoningQuality = rq.AverageScore
		}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "strategy"}},
			UpdateAll: true,
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("写入策略 %s 总体指标失败: %w", strategy, err)
		}
	}

	// 策略描述从日志元数据里取，一个会话每个策略只存一份
	seen := make(map[string]struct{})
	for _, e := range req.Entries {
		if e.Metadata == nil {
			continue
		}
		if _, ok := seen[e.Strategy]; ok {
			continue
		}
		seen[e.Strategy] = struct{}{}

		params, err := json.Marshal(e.Metadata.StrategyDetails)
		if err != nil {
			return fmt.Errorf("序列化策略 %s 元数据失败: %w", e.Strategy, err)
		}
		meta := model.StrategyMetadataRow{
			SessionID:   req.SessionID,
			Strategy:    e.Strategy,
			Name:        e.Metadata.StrategyDetails.Name,
			Description: e.Metadata.StrategyDetails.Description,
			Parameters:  string(params),
		}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "strategy"}},
			UpdateAll: true,
		}).Create(&meta).Error; err != nil {
			return fmt.Errorf("写入策略 %s 元数据失败: %w", e.Strategy, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Options(ctx context.Context) (*SessionOptions, error) {
	db := s.db.WithContext(ctx)

	var datasets, models []string
	if err := db.Model(&model.EvaluationResultRow{}).Distinct("dataset").Where("dataset <> ''").Order("dataset").Pluck("dataset", &datasets).Error; err != nil {
		return nil, fmt.Errorf("查询数据集选项失败: %w", err)
	}
	if err := db.Model(&model.EvaluationResultRow{}).Distinct("model").Where("model <> ''").Order("model").Pluck("model", &models).Error; err != nil {
		return nil, fmt.Errorf("查询模型选项失败: %w", err)
	}

	return &SessionOptions{
		Datasets:   datasets,
		Models:     models,
		Strategies: StrategyNames(),
	}, nil
}

// Results 取指定 (dataset, model) 最近一个会话的全部结果并现场聚合。
// 没有任何会话时返回 ErrNotFound。
func (s *SQLiteStore) Results(ctx context.Context, dataset, modelName string) (*model.EvaluationResultsFile, error) {
	db := s.db.WithContext(ctx)

	var session model.SessionRow
	err := db.Where("dataset = ? AND model = ?", dataset, modelName).
		Order("end_time DESC").First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("数据集 %s 模型 %s: %w", dataset, modelName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}

	var rows []model.EvaluationResultRow
	if err := db.Where("session_id = ?", session.SessionID).
		Order("strategy, question_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询评估结果失败: %w", err)
	}

	entries := make([]*LoggedEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, entryFromRow(&rows[i]))
	}
	return BuildResultsFile(entries), nil
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]model.SessionSummary, error) {
	db := s.db.WithContext(ctx)

	var rows []model.SessionRow
	if err := db.Order("session_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询会话列表失败: %w", err)
	}

	out := make([]model.SessionSummary, 0, len(rows))
	for _, r := range rows {
		var strategies []string
		if err := db.Model(&model.EvaluationResultRow{}).
			Distinct("strategy").Where("session_id = ?", r.SessionID).
			Order("strategy").Pluck("strategy", &strategies).Error; err != nil {
			return nil, fmt.Errorf("查询会话 %s 的策略失败: %w", r.SessionID, err)
		}

		var evaluated int64
		if err := db.Model(&model.EvaluationResultRow{}).
			Where("session_id = ?", r.SessionID).Count(&evaluated).Error; err != nil {
			return nil, fmt.Errorf("统计会话 %s 的评估结果失败: %w", r.SessionID, err)
		}

		out = append(out, model.SessionSummary{
			SessionID:     r.SessionID,
			ResultPrefix:  r.ResultPrefix,
			Dataset:       r.Dataset,
			Model:         r.Model,
			StartTime:     r.StartTime,
			EndTime:       r.EndTime,
			TotalLogs:     r.TotalQuestions,
			EvaluatedLogs: int(evaluated),
			Strategies:    strategies,
		})
	}
	return out, nil
}

func rowFromEntry(e *LoggedEntry, dataset, modelName string) *model.EvaluationResultRow {
	row := &model.EvaluationResultRow{
		QuestionID:      e.QuestionID,
		Strategy:        e.Strategy,
		SessionID:       e.SessionID,
		Dataset:         dataset,
		Model:           modelName,
		Question:        e.Question,
		ReferenceAnswer: e.ReferenceAnswer,
		ModelAnswer:     e.ModelAnswer,
		Reasoning:       e.Reasoning,
		Category:        e.Category,
		Difficulty:      e.Difficulty,
		Timestamp:       e.EvaluationTimestamp,
	}
	if acc := e.EvaluationResult.Accuracy; acc != nil {
		row.AccuracyScore = acc.Score
		row.AccuracyExplanation = acc.Explanation
	}
	if rq := e.EvaluationResult.ReasoningQuality; rq != nil {
		row.ReasoningScore = rq.Score
		row.ReasoningExplanation = rq.Explanation
	}
	return row
}

func entryFromRow(r *model.EvaluationResultRow) *LoggedEntry {
	result := &model.EvaluationResult{
		Accuracy: &model.MetricScore{Score: r.AccuracyScore, Explanation: r.AccuracyExplanation},
	}
	if r.Reasoning != "" {
		result.ReasoningQuality = &model.MetricScore{Score: r.ReasoningScore, Explanation: r.ReasoningExplanation}
	}
	return &LoggedEntry{
		ConversationLogEntry: model.ConversationLogEntry{
			QuestionID:          r.QuestionID,
			Question:            r.Question,
			ReferenceAnswer:     r.ReferenceAnswer,
			ModelAnswer:         r.ModelAnswer,
			HasReasoning:        r.Reasoning != "",
			Reasoning:           r.Reasoning,
			Strategy:            r.Strategy,
			Category:            r.Category,
			Difficulty:          r.Difficulty,
			SessionID:           r.SessionID,
			Evaluated:           true,
			EvaluationResult:    result,
			EvaluationTimestamp: r.Timestamp,
		},
	}
}

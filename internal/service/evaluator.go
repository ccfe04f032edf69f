package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"cot-eval/internal/config"
	"cot-eval/internal/model"
)

// 评估模型返回的Markdown代码块包裹，解析前先剥掉
var jsonFencePattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// 兜底：整体JSON解析失败时，只从文本中抠出score
var scorePattern = regexp.MustCompile(`"score"\s*:\s*([0-9.]+)`)

// Evaluator 使用评估模型对已记录的回答打分
type Evaluator struct {
	client       ChatClient
	model        string
	parseRetries int
}

func NewEvaluator(client ChatClient, openai *config.OpenAIConfig, batch *config.BatchConfig) *Evaluator {
	return &Evaluator{
		client:       client,
		model:        openai.EvaluationModel,
		parseRetries: batch.EvalParseRetries,
	}
}

// Evaluate 评估一条日志：准确率必评，有推理过程时再评推理质量。
// 两项指标任一解析彻底失败，整条评估失败，日志保持未评估状态。
func (e *Evaluator) Evaluate(ctx context.Context, entry *LoggedEntry) (*model.EvaluationResult, error) {
	log.Printf("评估问题 %s 的回答 - 策略: %s", entry.QuestionID, entry.Strategy)

	result := &model.EvaluationResult{}

	accuracy, err := e.scoreMetric(ctx, accuracyPrompt(entry), 0, 1)
	if err != nil {
		return nil, fmt.Errorf("评估问题 %s 准确率失败: %w", entry.QuestionID, err)
	}
	log.Printf("准确率评分: %g", accuracy.Score)
	result.Accuracy = accuracy

	if entry.HasReasoning {
		if strings.TrimSpace(entry.Reasoning) == "" {
			log.Printf("问题 %s has_reasoning为true但推理内容为空，跳过推理质量评估", entry.QuestionID)
		} else {
			quality, err := e.scoreMetric(ctx, reasoningPrompt(entry), 1, 10)
			if err != nil {
				return nil, fmt.Errorf("评估问题 %s 推理质量失败: %w", entry.QuestionID, err)
			}
			log.Printf("推理质量评分: %g/10", quality.Score)
			result.ReasoningQuality = quality
		}
	}

	return result, nil
}

// scoreMetric 调用评估模型并解析 {"score", "explanation"}。
// 解析失败或分数越界时用更严格的提示重试，用尽重试返回 ErrEvaluationParse。
func (e *Evaluator) scoreMetric(ctx context.Context, prompt string, min, max float64) (*model.MetricScore, error) {
	var lastErr error
	for attempt := 0; attempt <= e.parseRetries; attempt++ {
		p := prompt
		if attempt > 0 {
			p = prompt + "\n\n注意：上一次输出无法解析。只输出一个JSON对象，不要任何其他文字，不要Markdown代码块。"
		}

		resp, err := e.client.Completion(ctx, e.model, p, 0.3)
		if err != nil {
			return nil, err
		}

		score, parseErr := parseScore(resp)
		if parseErr != nil {
			lastErr = parseErr
			log.Printf("无法解析评估结果JSON（第%d次）: %v", attempt+1, parseErr)
			continue
		}
		if score.Score < min || score.Score > max {
			lastErr = fmt.Errorf("评分 %g 超出范围 [%g, %g]", score.Score, min, max)
			log.Printf("评估结果越界（第%d次）: %v", attempt+1, lastErr)
			continue
		}
		return score, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrEvaluationParse, lastErr)
}

func parseScore(resp string) (*model.MetricScore, error) {
	cleaned := cleanJSONString(resp)

	var score model.MetricScore
	if err := json.Unmarshal([]byte(cleaned), &score); err != nil {
		// 部分解析：至少把score抠出来
		if m := scorePattern.FindStringSubmatch(resp); m != nil {
			var s float64
			if _, serr := fmt.Sscanf(m[1], "%f", &s); serr == nil {
				return &model.MetricScore{Score: s, Explanation: "从部分解析的JSON中提取的分数"}, nil
			}
		}
		return nil, fmt.Errorf("解析评分JSON失败: %w", err)
	}
	return &score, nil
}

// cleanJSONString 移除评估模型回复中的Markdown代码块包裹
func cleanJSONString(text string) string {
	if m := jsonFencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

func accuracyPrompt(entry *LoggedEntry) string {
	return fmt.Sprintf(`请评估以下回答的准确性：

问题: %s
参考答案: %s
模型回答: %s

请给出评分（0-1之间的小数，其中0表示完全错误，1表示完全正确）并简要解释原因。
仅返回JSON格式：{"score": 评分, "explanation": "解释"}`,
		entry.Question, entry.ReferenceAnswer, entry.ModelAnswer)
}

func reasoningPrompt(entry *LoggedEntry) string {
	return fmt.Sprintf(`请评估以下回答的推理质量：

问题: %s
模型回答: %s

考虑推理的清晰度、逻辑性和步骤的合理性。
请给出评分（1-10之间的整数，其中1表示推理质量很差，10表示推理质量极佳）并简要解释原因。
仅返回JSON格式：{"score": 评分, "explanation": "解释"}`,
		entry.Question, entry.Reasoning)
}

// Aggregate 从已评估日志全量重算一个策略的总体指标。
// count 恒等于参与计算的日志条数，不做增量更新。
func Aggregate(entries []*LoggedEntry) model.StrategyMetrics {
	metrics := model.StrategyMetrics{
		DifficultyBreakdown: make(map[string]model.BreakdownMetrics),
		CategoryBreakdown:   make(map[string]model.BreakdownMetrics),
	}

	type bucket struct {
		count int
		sum   float64
	}
	diff := make(map[string]*bucket)
	cat := make(map[string]*bucket)

	var accSum, reasonSum float64
	var accCount, reasonCount int

	for _, e := range entries {
		if !e.Evaluated || e.EvaluationResult == nil {
			continue
		}
		metrics.TotalRecords++

		if acc := e.EvaluationResult.Accuracy; acc != nil {
			accSum += acc.Score
			accCount++

			d := diff[e.Difficulty]
			if d == nil {
				d = &bucket{}
				diff[e.Difficulty] = d
			}
			d.count++
			d.sum += acc.Score

			c := cat[e.Category]
			if c == nil {
				c = &bucket{}
				cat[e.Category] = c
			}
			c.count++
			c.sum += acc.Score
		}
		if rq := e.EvaluationResult.ReasoningQuality; rq != nil {
			reasonSum += rq.Score
			reasonCount++
		}
	}

	if accCount > 0 {
		metrics.Metrics.Accuracy = &model.MetricAverage{
			AverageScore: accSum / float64(accCount),
			Count:        accCount,
		}
	}
	if reasonCount > 0 {
		metrics.Metrics.ReasoningQuality = &model.MetricAverage{
			AverageScore: reasonSum / float64(reasonCount),
			Count:        reasonCount,
		}
	}
	for name, b := range diff {
		metrics.DifficultyBreakdown[name] = model.BreakdownMetrics{Count: b.count, Accuracy: b.sum / float64(b.count)}
	}
	for name, b := range cat {
		metrics.CategoryBreakdown[name] = model.BreakdownMetrics{Count: b.count, Accuracy: b.sum / float64(b.count)}
	}
	return metrics
}

// BuildResultsFile 将已评估日志按策略汇总成结果文件
func BuildResultsFile(entries []*LoggedEntry) *model.EvaluationResultsFile {
	file := &model.EvaluationResultsFile{
		Strategies:     make(map[string][]model.StrategyResult),
		Timestamp:      float64(time.Now().UnixNano()) / float64(time.Second),
		OverallMetrics: make(map[string]model.StrategyMetrics),
	}

	byStrategy := make(map[string][]*LoggedEntry)
	for _, e := range entries {
		if !e.Evaluated || e.EvaluationResult == nil {
			continue
		}
		byStrategy[e.Strategy] = append(byStrategy[e.Strategy], e)
	}

	for strategy, group := range byStrategy {
		results := make([]model.StrategyResult, 0, len(group))
		for _, e := range group {
			results = append(results, model.StrategyResult{
				ID:              e.QuestionID,
				Question:        e.Question,
				ReferenceAnswer: e.ReferenceAnswer,
				ModelAnswer:     e.ModelAnswer,
				Reasoning:       e.Reasoning,
				Category:        e.Category,
				Difficulty:      e.Difficulty,
				Metrics:         *e.EvaluationResult,
				Timestamp:       e.EvaluationTimestamp,
			})
		}
		file.Strategies[strategy] = results
		file.OverallMetrics[strategy] = Aggregate(group)
	}
	return file
}

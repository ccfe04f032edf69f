package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"cot-eval/internal/config"
	"cot-eval/internal/model"
)

// StrategyOutput 策略运行的产物：完整响应、提取的答案与推理及元数据
type StrategyOutput struct {
	FullResponse string
	Answer       string
	HasReasoning bool
	Reasoning    string
	Metadata     model.EntryMetadata
}

// Strategy CoT策略接口。变体是一个封闭集合，新增策略只需
// 实现接口并在 strategyBuilders 注册，不做继承式扩展。
type Strategy interface {
	Name() string
	Run(ctx context.Context, q model.Question) (*StrategyOutput, error)
}

// StrategyDeps 策略的公共依赖
type StrategyDeps struct {
	Client   ChatClient
	Indexes  *IndexManager
	CoTCache *CoTCache
	OpenAI   *config.OpenAIConfig
	Cfg      *config.StrategiesConfig
}

// 策略名 -> 构造函数。dataset用于检索类策略选择向量索引。
var strategyBuilders = map[string]func(deps *StrategyDeps, dataset string) Strategy{
	"baseline":    func(d *StrategyDeps, _ string) Strategy { return newBaseline(d) },
	"zero_shot":   func(d *StrategyDeps, _ string) Strategy { return newZeroShot(d) },
	"few_shot":    func(d *StrategyDeps, ds string) Strategy { return newFewShot(d, ds) },
	"auto_cot":    func(d *StrategyDeps, ds string) Strategy { return newAutoCoT(d, ds) },
	"auto_reason": func(d *StrategyDeps, _ string) Strategy { return newAutoReason(d) },
	"combined":    func(d *StrategyDeps, ds string) Strategy { return newCombined(d, ds) },
}

// StrategyNames 所有已注册的策略名（固定顺序）
func StrategyNames() []string {
	return []string{"baseline", "zero_shot", "few_shot", "auto_cot", "auto_reason", "combined"}
}

// BuildStrategies 按名称构建策略实例集合
func BuildStrategies(deps *StrategyDeps, dataset string, names []string) (map[string]Strategy, error) {
	if len(names) == 0 {
		names = StrategyNames()
	}
	strategies := make(map[string]Strategy, len(names))
	for _, name := range names {
		builder, ok := strategyBuilders[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
		}
		strategies[name] = builder(deps, dataset)
	}
	return strategies, nil
}

// 答案提取：匹配"答案是X"等标记，退而求其次取最后一个数字或最后一句话
var answerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`答案是[：:]\s*(.+?)[\s\.。]`),
	regexp.MustCompile(`结果是[：:]\s*(.+?)[\s\.。]`),
	regexp.MustCompile(`答案为[：:]\s*(.+?)[\s\.。]`),
	regexp.MustCompile(`结果为[：:]\s*(.+?)[\s\.。]`),
	regexp.MustCompile(`等于[：:]\s*(.+?)[\s\.。]`),
	regexp.MustCompile(`一共有[：:]\s*(.+?)[\s\.。]`),
	regexp.MustCompile(`总共有[：:]\s*(.+?)[\s\.。]`),
}

var numberPattern = regexp.MustCompile(`\d+`)

var sentenceSplitter = regexp.MustCompile(`[.。!！?？]`)

func extractAnswer(response string) string {
	trimmed := strings.TrimSpace(response)

	// JSON格式响应直接整体作为答案（可能被截断，解析失败也照样返回）
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var v interface{}
		_ = json.Unmarshal([]byte(trimmed), &v)
		return trimmed
	}

	for _, pattern := range answerPatterns {
		if m := pattern.FindStringSubmatch(response); m != nil {
			return strings.TrimSpace(m[1])
		}
	}

	if numbers := numberPattern.FindAllString(response, -1); len(numbers) > 0 {
		return numbers[len(numbers)-1]
	}

	sentences := sentenceSplitter.Split(response, -1)
	for i := len(sentences) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(sentences[i]); s != "" {
			return s
		}
	}

	return trimmed
}

// 行级答案标记，用于拆分推理与答案
var answerLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`答案是[：:]\s*(.+)`),
	regexp.MustCompile(`结果是[：:]\s*(.+)`),
	regexp.MustCompile(`答案为[：:]\s*(.+)`),
	regexp.MustCompile(`结果为[：:]\s*(.+)`),
	regexp.MustCompile(`所以[，,]?\s*(.+)`),
	regexp.MustCompile(`因此[，,]?\s*(.+)`),
	regexp.MustCompile(`综上所述[，,]?\s*(.+)`),
}

// extractReasoningAndAnswer 从响应中拆出推理过程和最终答案。
// 没有明确标记时把最后一行当作答案，其余部分当作推理。
func extractReasoningAndAnswer(response string) (reasoning, answer string) {
	lines := strings.Split(strings.TrimSpace(response), "\n")

	var answerLine string
	var reasoningLines []string

	for i, line := range lines {
		for _, pattern := range answerLinePatterns {
			if m := pattern.FindStringSubmatch(line); m != nil {
				answerLine = strings.TrimSpace(m[1])
				reasoningLines = lines[:i]
				break
			}
		}
		if answerLine != "" {
			break
		}
	}

	if answerLine == "" && len(lines) > 0 {
		answerLine = lines[len(lines)-1]
		reasoningLines = lines[:len(lines)-1]
	}

	reasoning = strings.TrimSpace(strings.Join(reasoningLines, "\n"))

	answer = answerLine
	if numbers := numberPattern.FindAllString(answerLine, -1); len(numbers) > 0 {
		answer = numbers[len(numbers)-1]
	}
	if answer == "" && response != "" {
		if numbers := numberPattern.FindAllString(response, -1); len(numbers) > 0 {
			answer = numbers[len(numbers)-1]
		}
	}

	return reasoning, answer
}

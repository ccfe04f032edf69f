package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"cot-eval/internal/model"
)

// AutoReasonStrategy 先用推理模型为目标问题生成推理链，再附在提示词后作答
type AutoReasonStrategy struct {
	client          ChatClient
	model           string
	reasoningModel  string
	reasoningPrompt string
}

func newAutoReason(deps *StrategyDeps) *AutoReasonStrategy {
	return &AutoReasonStrategy{
		client:          deps.Client,
		model:           deps.OpenAI.LLMModel,
		reasoningModel:  deps.OpenAI.ReasoningModel,
		reasoningPrompt: deps.Cfg.ReasoningPrompt,
	}
}

func (s *AutoReasonStrategy) Name() string { return "auto_reason" }

func (s *AutoReasonStrategy) Run(ctx context.Context, q model.Question) (*StrategyOutput, error) {
	chain := generateReasoningChain(ctx, s.client, s.reasoningModel, s.reasoningPrompt, q.Question)

	prompt := fmt.Sprintf("%s\n\n(推理链：\n%s\n)", q.Question, chain)
	resp, err := s.client.Completion(ctx, s.model, prompt, 0.7)
	if err != nil {
		return nil, err
	}

	reasoning, answer := extractReasoningAndAnswer(resp)

	return &StrategyOutput{
		FullResponse: resp,
		Answer:       answer,
		HasReasoning: true,
		Reasoning:    reasoning,
		Metadata: model.EntryMetadata{
			StrategyDetails: model.StrategyDetails{
				Name:           "AutoReason",
				Description:    "使用推理模型为目标问题生成推理链，辅助回答",
				ReasoningModel: s.reasoningModel,
			},
			GeneratedReasoningChain: chain,
		},
	}, nil
}

// CombinedStrategy Auto-CoT与AutoReason的组合：
// 检索带CoT的示例，同时为目标问题生成推理链
type CombinedStrategy struct {
	autoCoT         *AutoCoTStrategy
	client          ChatClient
	model           string
	reasoningModel  string
	reasoningPrompt string
}

func newCombined(deps *StrategyDeps, dataset string) *CombinedStrategy {
	return &CombinedStrategy{
		autoCoT:         newAutoCoT(deps, dataset),
		client:          deps.Client,
		model:           deps.OpenAI.LLMModel,
		reasoningModel:  deps.OpenAI.ReasoningModel,
		reasoningPrompt: deps.Cfg.ReasoningPrompt,
	}
}

func (s *CombinedStrategy) Name() string { return "combined" }

func (s *CombinedStrategy) Run(ctx context.Context, q model.Question) (*StrategyOutput, error) {
	examples, similar, err := retrieveExamples(ctx, s.client, s.autoCoT.indexes.Index(s.autoCoT.dataset), q.Question, s.autoCoT.numExamples)
	if err != nil {
		return nil, err
	}

	exampleCoTs := make([]model.ExampleCoT, 0, len(examples))
	var sb strings.Builder
	for _, e := range examples {
		cot := s.autoCoT.cotForExample(ctx, e.QuestionID, e.Question, e.Answer)
		exampleCoTs = append(exampleCoTs, model.ExampleCoT{
			Question: e.Question,
			Answer:   e.Answer,
			CoT:      cot,
		})
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", e.Question, cot)
	}

	chain := generateReasoningChain(ctx, s.client, s.reasoningModel, s.reasoningPrompt, q.Question)
	fmt.Fprintf(&sb, "Q: %s\n\n(推理链：\n%s\n)\nA:", q.Question, chain)

	resp, err := s.client.Completion(ctx, s.model, sb.String(), 0.7)
	if err != nil {
		return nil, err
	}

	reasoning, answer := extractReasoningAndAnswer(resp)

	return &StrategyOutput{
		FullResponse: resp,
		Answer:       answer,
		HasReasoning: true,
		Reasoning:    reasoning,
		Metadata: model.EntryMetadata{
			StrategyDetails: model.StrategyDetails{
				Name:           "Auto-CoT + AutoReason",
				Description:    "检索带CoT的相似示例，同时为目标问题生成推理链",
				NumExamples:    s.autoCoT.numExamples,
				CoTPrefix:      s.autoCoT.cotPrefix,
				ReasoningModel: s.reasoningModel,
			},
			SimilarQuestions:        similar,
			ExampleCoTs:             exampleCoTs,
			GeneratedReasoningChain: chain,
		},
	}, nil
}

// generateReasoningChain 为目标问题生成推理链，失败时退回简易推理文本
func generateReasoningChain(ctx context.Context, client ChatClient, reasoningModel, reasoningPrompt, question string) string {
	prompt := fmt.Sprintf("%s\n\n问题: %s", reasoningPrompt, question)
	chain, err := client.Completion(ctx, reasoningModel, prompt, 0.3)
	if err != nil {
		log.Printf("生成推理链失败，使用简易推理: %v", err)
		return fmt.Sprintf("让我们一步步分析这个问题：%s\n1. 理解问题要求\n2. 找出关键信息\n3. 逐步推导得出答案", question)
	}
	return strings.TrimSpace(chain)
}

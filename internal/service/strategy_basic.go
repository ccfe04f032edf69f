package service

import (
	"context"
	"fmt"

	"cot-eval/internal/model"
)

// BaselineStrategy 直接向模型提问，不添加任何CoT提示
type BaselineStrategy struct {
	client ChatClient
	model  string
}

func newBaseline(deps *StrategyDeps) *BaselineStrategy {
	return &BaselineStrategy{client: deps.Client, model: deps.OpenAI.LLMModel}
}

func (s *BaselineStrategy) Name() string { return "baseline" }

func (s *BaselineStrategy) Run(ctx context.Context, q model.Question) (*StrategyOutput, error) {
	resp, err := s.client.Completion(ctx, s.model, q.Question, 0.7)
	if err != nil {
		return nil, err
	}

	return &StrategyOutput{
		FullResponse: resp,
		Answer:       extractAnswer(resp),
		HasReasoning: false,
		Metadata: model.EntryMetadata{
			StrategyDetails: model.StrategyDetails{
				Name:        "Baseline (无CoT)",
				Description: "直接向模型提问，不添加任何CoT提示",
			},
		},
	}, nil
}

// ZeroShotStrategy 在提示结尾追加固定的推理引导语
type ZeroShotStrategy struct {
	client       ChatClient
	model        string
	promptSuffix string
}

func newZeroShot(deps *StrategyDeps) *ZeroShotStrategy {
	return &ZeroShotStrategy{
		client:       deps.Client,
		model:        deps.OpenAI.LLMModel,
		promptSuffix: deps.Cfg.ZeroShotSuffix,
	}
}

func (s *ZeroShotStrategy) Name() string { return "zero_shot" }

func (s *ZeroShotStrategy) Run(ctx context.Context, q model.Question) (*StrategyOutput, error) {
	prompt := fmt.Sprintf("%s\n%s", q.Question, s.promptSuffix)

	resp, err := s.client.Completion(ctx, s.model, prompt, 0.7)
	if err != nil {
		return nil, err
	}

	reasoning, answer := extractReasoningAndAnswer(resp)

	return &StrategyOutput{
		FullResponse: resp,
		Answer:       answer,
		HasReasoning: reasoning != "",
		Reasoning:    reasoning,
		Metadata: model.EntryMetadata{
			StrategyDetails: model.StrategyDetails{
				Name:         "Zero-shot CoT",
				Description:  "在提示的最后添加推理引导语",
				PromptSuffix: s.promptSuffix,
			},
		},
	}, nil
}

package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"cot-eval/internal/model"
)

// CoTCache 按问题ID缓存生成的CoT示例，重复运行不再重新生成
type CoTCache struct {
	mu     sync.Mutex
	chains map[string]string
}

func NewCoTCache() *CoTCache {
	return &CoTCache{chains: make(map[string]string)}
}

func (c *CoTCache) Get(questionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cot, ok := c.chains[questionID]
	return cot, ok
}

func (c *CoTCache) Put(questionID, cot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[questionID] = cot
}

// retrieveExamples 为问题检索相似问题作为示例。
// 空索引返回空列表，不算错误；嵌入失败算检索错误。
func retrieveExamples(ctx context.Context, client ChatClient, ix *VectorIndex, question string, k int) ([]SearchResult, []model.SimilarQuestion, error) {
	vec, err := client.Embedding(ctx, question)
	if err != nil {
		return nil, nil, err
	}

	examples := ix.SimilarQuestions(vec, k, true)
	log.Printf("从向量索引检索到 %d 个相似问题", len(examples))

	similar := make([]model.SimilarQuestion, 0, len(examples))
	for _, e := range examples {
		similar = append(similar, model.SimilarQuestion{
			QuestionID: e.QuestionID,
			Question:   e.Question,
			Answer:     e.Answer,
			Similarity: e.Similarity,
		})
	}
	return examples, similar, nil
}

// FewShotStrategy 检索相似问题及其参考答案作为in-context示例
type FewShotStrategy struct {
	client      ChatClient
	model       string
	numExamples int
	indexes     *IndexManager
	dataset     string
}

func newFewShot(deps *StrategyDeps, dataset string) *FewShotStrategy {
	return &FewShotStrategy{
		client:      deps.Client,
		model:       deps.OpenAI.LLMModel,
		numExamples: deps.Cfg.NumExamples,
		indexes:     deps.Indexes,
		dataset:     dataset,
	}
}

func (s *FewShotStrategy) Name() string { return "few_shot" }

func (s *FewShotStrategy) Run(ctx context.Context, q model.Question) (*StrategyOutput, error) {
	examples, similar, err := retrieveExamples(ctx, s.client, s.indexes.Index(s.dataset), q.Question, s.numExamples)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, e := range examples {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", e.Question, e.Answer)
	}
	fmt.Fprintf(&sb, "Q: %s\nA:", q.Question)

	resp, err := s.client.Completion(ctx, s.model, sb.String(), 0.7)
	if err != nil {
		return nil, err
	}

	return &StrategyOutput{
		FullResponse: resp,
		Answer:       extractAnswer(resp),
		HasReasoning: false,
		Metadata: model.EntryMetadata{
			StrategyDetails: model.StrategyDetails{
				Name:        "Few-shot CoT",
				Description: "使用向量索引检索相似问题及其答案作为示例",
				NumExamples: s.numExamples,
			},
			SimilarQuestions: similar,
		},
	}, nil
}

// AutoCoTStrategy 检索相似问题并为其生成CoT推理过程作为示例
type AutoCoTStrategy struct {
	client      ChatClient
	model       string
	numExamples int
	cotPrefix   string
	indexes     *IndexManager
	dataset     string
	cache       *CoTCache
}

func newAutoCoT(deps *StrategyDeps, dataset string) *AutoCoTStrategy {
	return &AutoCoTStrategy{
		client:      deps.Client,
		model:       deps.OpenAI.LLMModel,
		numExamples: deps.Cfg.NumExamples,
		cotPrefix:   deps.Cfg.CoTPrefix,
		indexes:     deps.Indexes,
		dataset:     dataset,
		cache:       deps.CoTCache,
	}
}

func (s *AutoCoTStrategy) Name() string { return "auto_cot" }

func (s *AutoCoTStrategy) Run(ctx context.Context, q model.Question) (*StrategyOutput, error) {
	examples, similar, err := retrieveExamples(ctx, s.client, s.indexes.Index(s.dataset), q.Question, s.numExamples)
	if err != nil {
		return nil, err
	}

	exampleCoTs := make([]model.ExampleCoT, 0, len(examples))
	var sb strings.Builder
	for _, e := range examples {
		cot := s.cotForExample(ctx, e.QuestionID, e.Question, e.Answer)
		exampleCoTs = append(exampleCoTs, model.ExampleCoT{
			Question: e.Question,
			Answer:   e.Answer,
			CoT:      cot,
		})
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", e.Question, cot)
	}
	fmt.Fprintf(&sb, "Q: %s\nA:", q.Question)

	resp, err := s.client.Completion(ctx, s.model, sb.String(), 0.7)
	if err != nil {
		return nil, err
	}

	// 不再拆分答案和推理，完整响应两者皆是
	answer := strings.TrimSpace(resp)

	return &StrategyOutput{
		FullResponse: resp,
		Answer:       answer,
		HasReasoning: true,
		Reasoning:    answer,
		Metadata: model.EntryMetadata{
			StrategyDetails: model.StrategyDetails{
				Name:        "Auto-CoT",
				Description: "使用向量索引检索相似问题，并为其生成CoT推理过程",
				NumExamples: s.numExamples,
				CoTPrefix:   s.cotPrefix,
			},
			SimilarQuestions: similar,
			ExampleCoTs:      exampleCoTs,
		},
	}, nil
}

// cotForExample 为示例问题生成CoT，命中缓存则直接复用；
// 生成失败时退回一段简易的推理文本，不影响本单元继续执行
func (s *AutoCoTStrategy) cotForExample(ctx context.Context, questionID, question, answer string) string {
	if cot, ok := s.cache.Get(questionID); ok {
		return cot
	}

	prompt := fmt.Sprintf(`请为以下问题生成一个详细的思维链（Chain of Thought）推理过程，最后得出给定的答案。

问题: %s
答案: %s

请以"%s"开始，然后详细解释解题思路，包括每一步的推理过程，最后得出答案。`, question, answer, s.cotPrefix)

	cot, err := s.client.Completion(ctx, s.model, prompt, 0.3)
	if err != nil {
		log.Printf("为示例 %s 生成CoT失败，使用简易推理: %v", questionID, err)
		cot = fmt.Sprintf("%s首先，我们分析问题。%s根据问题，我们可以直接计算得出答案。答案是%s。", s.cotPrefix, question, answer)
	} else if !strings.HasPrefix(strings.TrimSpace(cot), s.cotPrefix) {
		cot = fmt.Sprintf("%s %s", s.cotPrefix, cot)
	}

	s.cache.Put(questionID, cot)
	return cot
}

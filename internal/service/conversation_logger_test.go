package service

import (
	"errors"
	"sync"
	"testing"

	"cot-eval/internal/model"
)

func testLogger(t *testing.T) *ConversationLogger {
	t.Helper()
	return NewConversationLogger(t.TempDir(), "math_gpt-4", "1700000000")
}

func testOutput() *StrategyOutput {
	return &StrategyOutput{
		FullResponse: "答案是：42。",
		Answer:       "42",
		Metadata: model.EntryMetadata{
			StrategyDetails: model.StrategyDetails{Name: "Baseline (无CoT)"},
		},
	}
}

func TestConversationLogger_LogAndList(t *testing.T) {
	logger := testLogger(t)
	q := model.Question{ID: "q1", Question: "6乘7等于几", Answer: "42", Category: "math", Difficulty: "easy"}

	logged, err := logger.Log(q, "baseline", testOutput())
	if err != nil {
		t.Fatalf("写日志失败: %v", err)
	}
	if logged.Evaluated {
		t.Error("新日志不应处于已评估状态")
	}
	if logged.SessionID != "1700000000" {
		t.Errorf("会话ID不对: %q", logged.SessionID)
	}

	entries, err := logger.ListUnevaluated("1700000000", "baseline")
	if err != nil {
		t.Fatalf("列出未评估日志失败: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("期望1条未评估日志，实际 %d 条", len(entries))
	}
	if entries[0].QuestionID != "q1" {
		t.Errorf("问题ID不对: %q", entries[0].QuestionID)
	}
}

func TestConversationLogger_MarkEvaluated(t *testing.T) {
	logger := testLogger(t)
	q := model.Question{ID: "q1", Question: "6乘7等于几", Answer: "42"}

	logged, err := logger.Log(q, "baseline", testOutput())
	if err != nil {
		t.Fatalf("写日志失败: %v", err)
	}

	result := &model.EvaluationResult{
		Accuracy: &model.MetricScore{Score: 1, Explanation: "完全正确"},
	}
	updated, err := logger.MarkEvaluated(logged.LogFile, result)
	if err != nil {
		t.Fatalf("标记已评估失败: %v", err)
	}
	if !updated.Evaluated {
		t.Error("标记后应处于已评估状态")
	}
	if updated.EvaluationTimestamp == 0 {
		t.Error("标记后应有评估时间戳")
	}

	// 第二次标记被拒绝，原结果不被覆盖
	second := &model.EvaluationResult{
		Accuracy: &model.MetricScore{Score: 0, Explanation: "覆盖尝试"},
	}
	if _, err := logger.MarkEvaluated(logged.LogFile, second); !errors.Is(err, ErrAlreadyEvaluated) {
		t.Fatalf("重复标记应返回 ErrAlreadyEvaluated，实际 %v", err)
	}

	entries, err := logger.ListBySession("1700000000")
	if err != nil {
		t.Fatalf("列出日志失败: %v", err)
	}
	if entries[0].EvaluationResult.Accuracy.Score != 1 {
		t.Errorf("原有评估结果被覆盖了: %v", entries[0].EvaluationResult.Accuracy.Score)
	}

	unevaluated, err := logger.ListUnevaluated("1700000000", "")
	if err != nil {
		t.Fatalf("列出未评估日志失败: %v", err)
	}
	if len(unevaluated) != 0 {
		t.Errorf("已评估的日志不应再出现在未评估列表中，实际 %d 条", len(unevaluated))
	}
}

// 多个worker并发标记同一条日志，恰好一个成功
func TestConversationLogger_ConcurrentMarkEvaluated(t *testing.T) {
	logger := testLogger(t)
	q := model.Question{ID: "q1", Question: "6乘7等于几", Answer: "42"}

	logged, err := logger.Log(q, "baseline", testOutput())
	if err != nil {
		t.Fatalf("写日志失败: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := &model.EvaluationResult{
				Accuracy: &model.MetricScore{Score: 1, Explanation: "并发标记"},
			}
			if _, err := logger.MarkEvaluated(logged.LogFile, result); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("并发标记应恰好一个成功，实际 %d 个", count)
	}
}

func TestConversationLogger_ListSessions(t *testing.T) {
	dir := t.TempDir()
	q := model.Question{ID: "q1", Question: "问题", Answer: "答案"}

	first := NewConversationLogger(dir, "math_gpt-4", "1700000001")
	if _, err := first.Log(q, "baseline", testOutput()); err != nil {
		t.Fatalf("写日志失败: %v", err)
	}
	if _, err := first.Log(q, "zero_shot", testOutput()); err != nil {
		t.Fatalf("写日志失败: %v", err)
	}

	second := NewConversationLogger(dir, "math_gpt-4", "1700000002")
	if _, err := second.Log(q, "baseline", testOutput()); err != nil {
		t.Fatalf("写日志失败: %v", err)
	}

	sessions, err := first.ListSessions()
	if err != nil {
		t.Fatalf("列出会话失败: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("期望2个会话，实际 %d 个", len(sessions))
	}
	if sessions[0].SessionID != "1700000001" || sessions[0].TotalLogs != 2 {
		t.Errorf("第一个会话汇总不对: %+v", sessions[0])
	}
	if len(sessions[0].Strategies) != 2 {
		t.Errorf("第一个会话应有2个策略，实际 %v", sessions[0].Strategies)
	}
}

func TestConversationLogger_SessionFilter(t *testing.T) {
	dir := t.TempDir()
	q := model.Question{ID: "q1", Question: "问题", Answer: "答案"}

	a := NewConversationLogger(dir, "math_gpt-4", "sessionA")
	b := NewConversationLogger(dir, "math_gpt-4", "sessionB")
	if _, err := a.Log(q, "baseline", testOutput()); err != nil {
		t.Fatalf("写日志失败: %v", err)
	}
	if _, err := b.Log(q, "baseline", testOutput()); err != nil {
		t.Fatalf("写日志失败: %v", err)
	}

	entries, err := a.ListBySession("sessionA")
	if err != nil {
		t.Fatalf("列出日志失败: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "sessionA" {
		t.Errorf("会话过滤不对: %d 条", len(entries))
	}
}

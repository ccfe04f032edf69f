package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testSaveRequest(sessionID string) *SaveRequest {
	entries := []*LoggedEntry{
		aggEntry("q1", "math", "easy", 1, 8),
		aggEntry("q2", "math", "hard", 0.5, 6),
	}
	for _, e := range entries {
		e.SessionID = sessionID
		e.Question = "问题"
		e.ReferenceAnswer = "答案"
		e.ModelAnswer = "答案"
	}
	return &SaveRequest{
		SessionID:    sessionID,
		ResultPrefix: PrefixFor("livebench/math", "gpt-4"),
		Dataset:      "livebench/math",
		Model:        "gpt-4",
		StartTime:    1700000000,
		EndTime:      1700000100,
		Entries:      entries,
		File:         BuildResultsFile(entries),
	}
}

func TestJSONStore_SaveAndRead(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	ctx := context.Background()

	if err := store.SaveResults(ctx, testSaveRequest("s1")); err != nil {
		t.Fatalf("保存结果失败: %v", err)
	}

	// 结果文件名为 {prefix}_eval_results.json
	path := filepath.Join(dir, "livebench_math_gpt-4_eval_results.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("结果文件不存在: %v", err)
	}

	file, err := store.Results(ctx, "livebench/math", "gpt-4")
	if err != nil {
		t.Fatalf("读取结果失败: %v", err)
	}
	if len(file.Strategies["zero_shot"]) != 2 {
		t.Errorf("zero_shot应有2条记录，实际 %d 条", len(file.Strategies["zero_shot"]))
	}
	if file.OverallMetrics["zero_shot"].TotalRecords != 2 {
		t.Errorf("total_records应为2，实际 %d", file.OverallMetrics["zero_shot"].TotalRecords)
	}
}

// 策略名作为顶层键，与timestamp、overall_metrics并列
func TestJSONStore_WireFormat(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	if err := store.SaveResults(context.Background(), testSaveRequest("s1")); err != nil {
		t.Fatalf("保存结果失败: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "livebench_math_gpt-4_eval_results.json"))
	if err != nil {
		t.Fatalf("读取结果文件失败: %v", err)
	}
	body := string(data)
	for _, key := range []string{`"zero_shot"`, `"timestamp"`, `"overall_metrics"`, `"total_records"`} {
		if !strings.Contains(body, key) {
			t.Errorf("结果文件缺少 %s 键", key)
		}
	}
	if strings.Contains(body, `"total_questions"`) {
		t.Error("新写出的结果文件不应包含旧字段 total_questions")
	}
}

func TestJSONStore_ResultsNotFound(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}

	_, err = store.Results(context.Background(), "no_such", "gpt-4")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("期望 ErrNotFound，实际 %v", err)
	}
}

func TestJSONStore_OptionsAndSessions(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	ctx := context.Background()

	if err := store.SaveResults(ctx, testSaveRequest("s1")); err != nil {
		t.Fatalf("保存结果失败: %v", err)
	}
	second := testSaveRequest("s2")
	second.Dataset = "livebench/reasoning"
	second.ResultPrefix = PrefixFor(second.Dataset, second.Model)
	if err := store.SaveResults(ctx, second); err != nil {
		t.Fatalf("保存结果失败: %v", err)
	}

	options, err := store.Options(ctx)
	if err != nil {
		t.Fatalf("读取选项失败: %v", err)
	}
	if len(options.Datasets) != 2 {
		t.Errorf("期望2个数据集，实际 %v", options.Datasets)
	}
	if len(options.Models) != 1 {
		t.Errorf("期望1个模型，实际 %v", options.Models)
	}
	if len(options.Strategies) != len(StrategyNames()) {
		t.Errorf("策略选项不全: %v", options.Strategies)
	}

	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("列出会话失败: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("期望2个会话，实际 %d 个", len(sessions))
	}
	if sessions[0].SessionID != "s1" || sessions[0].Dataset != "livebench/math" {
		t.Errorf("会话记录不对: %+v", sessions[0])
	}
}

// 同一会话重复保存是覆盖而不是追加
func TestJSONStore_ResaveSession(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	ctx := context.Background()

	if err := store.SaveResults(ctx, testSaveRequest("s1")); err != nil {
		t.Fatalf("保存结果失败: %v", err)
	}
	if err := store.SaveResults(ctx, testSaveRequest("s1")); err != nil {
		t.Fatalf("重复保存失败: %v", err)
	}

	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("列出会话失败: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("同一会话应只有一条记录，实际 %d 条", len(sessions))
	}
}

// 残留的锁文件阻塞写入直到超时或取消
func TestJSONStore_LockBlocks(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}

	req := testSaveRequest("s1")
	lock := store.resultFile(req.ResultPrefix) + ".lock"
	if err := os.WriteFile(lock, nil, 0o644); err != nil {
		t.Fatalf("创建锁文件失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.SaveResults(ctx, req); !errors.Is(err, context.Canceled) {
		t.Fatalf("持锁时取消应返回 context.Canceled，实际 %v", err)
	}

	// 解锁后正常写入
	os.Remove(lock)
	if err := store.SaveResults(context.Background(), req); err != nil {
		t.Fatalf("解锁后保存失败: %v", err)
	}
}

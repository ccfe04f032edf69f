package service

import (
	"context"
	"testing"

	"cot-eval/internal/model"
)

func TestVectorIndex_Search(t *testing.T) {
	ix := NewVectorIndex()
	ix.Add("q1", "1+1等于几", "2", []float64{1, 0, 0})
	ix.Add("q2", "2+2等于几", "4", []float64{0, 1, 0})
	ix.Add("q3", "3+3等于几", "6", []float64{0.9, 0.1, 0})

	results := ix.Search([]float64{1, 0, 0}, 2)
	if len(results) != 2 {
		t.Fatalf("期望返回2条结果，实际 %d 条", len(results))
	}
	if results[0].QuestionID != "q1" {
		t.Errorf("最相似的应该是q1，实际是 %s", results[0].QuestionID)
	}
	if results[1].QuestionID != "q3" {
		t.Errorf("次相似的应该是q3，实际是 %s", results[1].QuestionID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Errorf("结果应按相似度降序排列: %v >= %v 不成立", results[0].Similarity, results[1].Similarity)
	}
}

// 相同查询必须产生相同结果
func TestVectorIndex_SearchDeterministic(t *testing.T) {
	ix := NewVectorIndex()
	ix.Add("q1", "问题一", "a", []float64{0.5, 0.5})
	ix.Add("q2", "问题二", "b", []float64{0.5, 0.5})
	ix.Add("q3", "问题三", "c", []float64{1, 0})

	first := ix.Search([]float64{0.7, 0.3}, 3)
	for i := 0; i < 10; i++ {
		again := ix.Search([]float64{0.7, 0.3}, 3)
		for j := range first {
			if first[j].QuestionID != again[j].QuestionID {
				t.Fatalf("第%d次查询结果顺序不一致: %s != %s", i+1, first[j].QuestionID, again[j].QuestionID)
			}
		}
	}
}

// 相同向量并列时按插入顺序出结果
func TestVectorIndex_TieOrder(t *testing.T) {
	ix := NewVectorIndex()
	ix.Add("first", "问题一", "a", []float64{1, 0})
	ix.Add("second", "问题二", "b", []float64{1, 0})

	results := ix.Search([]float64{1, 0}, 2)
	if results[0].QuestionID != "first" || results[1].QuestionID != "second" {
		t.Errorf("并列结果应按插入顺序: 实际 %s, %s", results[0].QuestionID, results[1].QuestionID)
	}
}

func TestVectorIndex_EmptyIndex(t *testing.T) {
	ix := NewVectorIndex()
	results := ix.Search([]float64{1, 0}, 3)
	if results == nil {
		t.Fatal("空索引应返回空列表而不是nil")
	}
	if len(results) != 0 {
		t.Errorf("空索引应返回0条结果，实际 %d 条", len(results))
	}
}

// 查询自己时排除完全一致的那条，次相似的正常返回
func TestVectorIndex_SimilarQuestionsExcludeExact(t *testing.T) {
	ix := NewVectorIndex()
	ix.Add("q1", "1+1等于几", "2", []float64{1, 0, 0})
	ix.Add("q2", "2+2等于几", "4", []float64{0.9, 0.1, 0})
	ix.Add("q3", "3+3等于几", "6", []float64{0, 1, 0})

	results := ix.SimilarQuestions([]float64{1, 0, 0}, 1, true)
	if len(results) != 1 {
		t.Fatalf("期望1条结果，实际 %d 条", len(results))
	}
	if results[0].QuestionID != "q2" {
		t.Errorf("排除完全匹配后应返回q2，实际是 %s", results[0].QuestionID)
	}
	if results[0].Similarity >= 0.999 {
		t.Errorf("返回的相似度不应达到完全匹配阈值: %v", results[0].Similarity)
	}
}

func TestVectorIndex_ZeroVector(t *testing.T) {
	ix := NewVectorIndex()
	ix.Add("q1", "问题", "答案", []float64{1, 0})

	results := ix.Search([]float64{0, 0}, 1)
	if len(results) != 1 {
		t.Fatalf("期望1条结果，实际 %d 条", len(results))
	}
	if results[0].Similarity != 0 {
		t.Errorf("零向量的相似度应为0，实际 %v", results[0].Similarity)
	}
}

func TestVectorIndex_AddDuplicate(t *testing.T) {
	ix := NewVectorIndex()
	ix.Add("q1", "问题", "答案", []float64{1, 0})
	ix.Add("q1", "问题", "答案", []float64{1, 0})

	if ix.Len() != 1 {
		t.Errorf("重复ID不应重复入库，期望1条，实际 %d 条", ix.Len())
	}
}

// 开启独立索引后，不同数据集互不可见
func TestIndexManager_SeparateIndexes(t *testing.T) {
	dir := t.TempDir()
	client := &fakeChatClient{embeddings: map[string][]float64{
		"数学问题": {1, 0},
		"常识问题": {0, 1},
	}}

	m := NewIndexManager(dir, "test-embedding", true)
	ctx := context.Background()

	if _, err := m.Ingest(ctx, client, "math", []model.Question{{ID: "m1", Question: "数学问题", Answer: "1"}}); err != nil {
		t.Fatalf("入库失败: %v", err)
	}
	if _, err := m.Ingest(ctx, client, "common", []model.Question{{ID: "c1", Question: "常识问题", Answer: "2"}}); err != nil {
		t.Fatalf("入库失败: %v", err)
	}

	if m.Index("math").Has("c1") {
		t.Error("math索引不应包含common数据集的问题")
	}
	if !m.Index("math").Has("m1") {
		t.Error("math索引应包含自己的问题")
	}
}

func TestIndexManager_SaveAndReload(t *testing.T) {
	dir := t.TempDir()

	m := NewIndexManager(dir, "test-embedding", false)
	m.Index("math").Add("q1", "问题", "答案", []float64{0.5, 0.5})
	if err := m.Save("math"); err != nil {
		t.Fatalf("保存索引失败: %v", err)
	}

	// 新manager从磁盘加载
	m2 := NewIndexManager(dir, "test-embedding", false)
	if !m2.Index("math").Has("q1") {
		t.Error("重新加载的索引应包含已保存的问题")
	}

	// 嵌入模型变了，旧索引作废
	m3 := NewIndexManager(dir, "other-embedding", false)
	if m3.Index("math").Has("q1") {
		t.Error("嵌入模型不一致时应丢弃旧索引")
	}
}

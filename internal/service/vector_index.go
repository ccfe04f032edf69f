package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cot-eval/internal/model"

	"github.com/google/uuid"
)

// indexEntry 索引中的一条记录：问题、参考答案和嵌入向量
type indexEntry struct {
	QuestionID string    `json:"question_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Vector     []float64 `json:"vector"`
}

// SearchResult 检索结果，按余弦相似度降序
type SearchResult struct {
	QuestionID string
	Question   string
	Answer     string
	Similarity float64
}

// VectorIndex 内存向量索引。查询多、写入少：
// 写入只发生在入库和重建阶段，期间排斥并发查询。
type VectorIndex struct {
	mu      sync.RWMutex
	entries []indexEntry
	ids     map[string]bool
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{ids: make(map[string]bool)}
}

// Add 添加一条向量记录，已存在的question_id直接忽略
func (ix *VectorIndex) Add(questionID, question, answer string, vector []float64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ids[questionID] {
		return
	}
	ix.entries = append(ix.entries, indexEntry{
		QuestionID: questionID,
		Question:   question,
		Answer:     answer,
		Vector:     vector,
	})
	ix.ids[questionID] = true
}

// Has 判断question_id是否已入库
func (ix *VectorIndex) Has(questionID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ids[questionID]
}

// Len 索引中的向量数量
func (ix *VectorIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Rebuild 丢弃全部向量（嵌入模型变更后必须重建）
func (ix *VectorIndex) Rebuild() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = nil
	ix.ids = make(map[string]bool)
}

// Search 返回与查询向量最相似的k条记录，降序排列，
// 相似度相同时保持插入顺序。空索引返回空结果而非错误。
func (ix *VectorIndex) Search(query []float64, k int) []SearchResult {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 || k <= 0 {
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, len(ix.entries))
	for _, e := range ix.entries {
		results = append(results, SearchResult{
			QuestionID: e.QuestionID,
			Question:   e.Question,
			Answer:     e.Answer,
			Similarity: cosineSimilarity(query, e.Vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k]
}

// SimilarQuestions 检索与查询最相似的问题。
// excludeExact为true时多取一条，若最相似的结果几乎与查询相同则剔除。
func (ix *VectorIndex) SimilarQuestions(query []float64, k int, excludeExact bool) []SearchResult {
	actualK := k
	if excludeExact {
		actualK = k + 1
	}
	results := ix.Search(query, actualK)

	if excludeExact && len(results) > 0 && results[0].Similarity >= 0.999 {
		log.Printf("排除与查询几乎完全相同的问题: %q", results[0].Question)
		results = results[1:]
	}
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// indexFile 索引的持久化格式，记录嵌入模型用于失效判断
type indexFile struct {
	EmbeddingModel string       `json:"embedding_model"`
	Entries        []indexEntry `json:"entries"`
}

// IndexManager 管理向量索引的加载、入库与持久化。
// separate模式下每个数据集独立建索引，few-shot检索不会跨数据集泄漏。
type IndexManager struct {
	mu             sync.Mutex
	separate       bool
	storeDir       string
	embeddingModel string
	indexes        map[string]*VectorIndex
}

const sharedIndexKey = "default"

func NewIndexManager(storeDir, embeddingModel string, separate bool) *IndexManager {
	return &IndexManager{
		separate:       separate,
		storeDir:       storeDir,
		embeddingModel: embeddingModel,
		indexes:        make(map[string]*VectorIndex),
	}
}

func (m *IndexManager) indexKey(dataset string) string {
	if m.separate {
		return sanitizeName(dataset)
	}
	return sharedIndexKey
}

// Index 返回数据集对应的索引，必要时从磁盘加载
func (m *IndexManager) Index(dataset string) *VectorIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.indexKey(dataset)
	ix, ok := m.indexes[key]
	if !ok {
		ix = NewVectorIndex()
		m.loadIndex(key, ix)
		m.indexes[key] = ix
	}
	return ix
}

// loadIndex 从磁盘加载索引；嵌入模型不一致时丢弃旧向量
func (m *IndexManager) loadIndex(key string, ix *VectorIndex) {
	path := filepath.Join(m.storeDir, key+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("加载向量索引 %s 失败: %v", path, err)
		}
		return
	}

	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Printf("解析向量索引 %s 失败: %v", path, err)
		return
	}
	if file.EmbeddingModel != m.embeddingModel {
		log.Printf("嵌入模型已从 %s 变更为 %s，重建索引 %s", file.EmbeddingModel, m.embeddingModel, key)
		return
	}

	for _, e := range file.Entries {
		ix.Add(e.QuestionID, e.Question, e.Answer, e.Vector)
	}
	log.Printf("已加载向量索引 %s，包含 %d 条记录", key, ix.Len())
}

// Save 将数据集对应的索引持久化到磁盘（写临时文件再改名）
func (m *IndexManager) Save(dataset string) error {
	key := m.indexKey(dataset)

	m.mu.Lock()
	ix, ok := m.indexes[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	ix.mu.RLock()
	file := indexFile{
		EmbeddingModel: m.embeddingModel,
		Entries:        append([]indexEntry(nil), ix.entries...),
	}
	ix.mu.RUnlock()

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化向量索引失败: %w", err)
	}

	if err := os.MkdirAll(m.storeDir, 0o755); err != nil {
		return fmt.Errorf("创建向量存储目录失败: %w", err)
	}

	path := filepath.Join(m.storeDir, key+".json")
	tmp := path + "." + uuid.New().String() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入向量索引临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("替换向量索引文件失败: %w", err)
	}

	log.Printf("已保存向量索引 %s，包含 %d 条记录", key, len(file.Entries))
	return nil
}

// Ingest 将问题集嵌入并写入索引，已入库的问题跳过。
// 返回新增的向量数量；任一嵌入调用失败即中止入库。
func (m *IndexManager) Ingest(ctx context.Context, client ChatClient, dataset string, questions []model.Question) (int, error) {
	ix := m.Index(dataset)

	added := 0
	for _, q := range questions {
		if ix.Has(q.ID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return added, err
		}

		vec, err := client.Embedding(ctx, q.Question)
		if err != nil {
			return added, fmt.Errorf("嵌入问题 %s 失败: %w", q.ID, err)
		}
		ix.Add(q.ID, q.Question, q.Answer, vec)
		added++
	}

	if added > 0 {
		if err := m.Save(dataset); err != nil {
			return added, err
		}
		log.Printf("已将 %d 个问题入库到数据集 %s 的向量索引", added, dataset)
	}
	return added, nil
}

// sanitizeName 把数据集/模型名转成可作为文件名的形式
func sanitizeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")
	return r.Replace(name)
}

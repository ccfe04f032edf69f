package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cot-eval/internal/model"
)

// SaveRequest 一次聚合落库需要的全部内容
type SaveRequest struct {
	SessionID    string
	ResultPrefix string
	Dataset      string
	Model        string
	StartTime    float64
	EndTime      float64
	Entries      []*LoggedEntry
	File         *model.EvaluationResultsFile
}

// SessionOptions 前端下拉框的可选项
type SessionOptions struct {
	Datasets   []string `json:"datasets"`
	Models     []string `json:"models"`
	Strategies []string `json:"strategies"`
}

// SessionStore 结果持久化接口，JSON文件与SQLite两种实现。
// 读取契约与后端无关，前端拿到的结构完全一致。
type SessionStore interface {
	SaveResults(ctx context.Context, req *SaveRequest) error
	Options(ctx context.Context) (*SessionOptions, error)
	Results(ctx context.Context, dataset, modelName string) (*model.EvaluationResultsFile, error)
	Sessions(ctx context.Context) ([]model.SessionSummary, error)
}

// PrefixFor 从数据集和模型名派生结果前缀
func PrefixFor(dataset, modelName string) string {
	return sanitizeName(dataset) + "_" + sanitizeName(modelName)
}

// jsonSession sessions.json 边车文件里的一条会话记录
type jsonSession struct {
	SessionID    string  `json:"session_id"`
	ResultPrefix string  `json:"result_prefix"`
	Dataset      string  `json:"dataset"`
	Model        string  `json:"model"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	TotalRecords int     `json:"total_records"`
}

// JSONStore 文件后端：每个前缀一份 {prefix}_eval_results.json，
// 外加一份 sessions.json 记录会话与可选项。
// 写入走 临时文件+rename，并用 .lock 文件挡住并发聚合。
type JSONStore struct {
	resultPath string
}

func NewJSONStore(resultPath string) (*JSONStore, error) {
	if err := os.MkdirAll(resultPath, 0o755); err != nil {
		return nil, fmt.Errorf("创建结果目录失败: %w", err)
	}
	return &JSONStore{resultPath: resultPath}, nil
}

func (s *JSONStore) resultFile(prefix string) string {
	return filepath.Join(s.resultPath, prefix+"_eval_results.json")
}

func (s *JSONStore) sessionsFile() string {
	return filepath.Join(s.resultPath, "sessions.json")
}

func (s *JSONStore) SaveResults(ctx context.Context, req *SaveRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock, err := s.acquireLock(ctx, req.ResultPrefix)
	if err != nil {
		return err
	}
	defer unlock()

	path := s.resultFile(req.ResultPrefix)
	if err := writeJSONAtomic(path, req.File); err != nil {
		return fmt.Errorf("写入结果文件失败: %w", err)
	}
	log.Printf("评估结果已保存到 %s", path)

	return s.recordSession(req)
}

// acquireLock 通过 O_CREATE|O_EXCL 建 .lock 文件实现进程间互斥。
// 拿不到锁时短暂等待重试，避免并发聚合互相覆盖。
func (s *JSONStore) acquireLock(ctx context.Context, prefix string) (func(), error) {
	lock := s.resultFile(prefix) + ".lock"
	for attempt := 0; attempt < 50; attempt++ {
		f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lock) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("创建锁文件失败: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("获取结果文件锁超时: %s", lock)
}

func (s *JSONStore) recordSession(req *SaveRequest) error {
	sessions, err := s.loadSessions()
	if err != nil {
		return err
	}

	record := jsonSession{
		SessionID:    req.SessionID,
		ResultPrefix: req.ResultPrefix,
		Dataset:      req.Dataset,
		Model:        req.Model,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		TotalRecords: len(req.Entries),
	}

	replaced := false
	for i := range sessions {
		if sessions[i].SessionID == req.SessionID {
			sessions[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, record)
	}

	if err := writeJSONAtomic(s.sessionsFile(), sessions); err != nil {
		return fmt.Errorf("写入会话文件失败: %w", err)
	}
	return nil
}

func (s *JSONStore) loadSessions() ([]jsonSession, error) {
	data, err := os.ReadFile(s.sessionsFile())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话文件失败: %w", err)
	}
	var sessions []jsonSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("解析会话文件失败: %w", err)
	}
	return sessions, nil
}

func (s *JSONStore) Options(ctx context.Context) (*SessionOptions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessions, err := s.loadSessions()
	if err != nil {
		return nil, err
	}

	datasets := make(map[string]struct{})
	models := make(map[string]struct{})
	for _, sess := range sessions {
		if sess.Dataset != "" {
			datasets[sess.Dataset] = struct{}{}
		}
		if sess.Model != "" {
			models[sess.Model] = struct{}{}
		}
	}

	return &SessionOptions{
		Datasets:   sortedKeys(datasets),
		Models:     sortedKeys(models),
		Strategies: StrategyNames(),
	}, nil
}

func (s *JSONStore) Results(ctx context.Context, dataset, modelName string) (*model.EvaluationResultsFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 会话记录里存了实际使用的前缀，找不到再按 数据集_模型 派生
	prefix := PrefixFor(dataset, modelName)
	if sessions, err := s.loadSessions(); err == nil {
		for i := len(sessions) - 1; i >= 0; i-- {
			if sessions[i].Dataset == dataset && sessions[i].Model == modelName {
				prefix = sessions[i].ResultPrefix
				break
			}
		}
	}

	path := s.resultFile(prefix)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("结果文件 %s: %w", filepath.Base(path), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("读取结果文件失败: %w", err)
	}

	var file model.EvaluationResultsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析结果文件失败: %w", err)
	}
	return &file, nil
}

func (s *JSONStore) Sessions(ctx context.Context) ([]model.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessions, err := s.loadSessions()
	if err != nil {
		return nil, err
	}

	out := make([]model.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, model.SessionSummary{
			SessionID:     sess.SessionID,
			ResultPrefix:  sess.ResultPrefix,
			Dataset:       sess.Dataset,
			Model:         sess.Model,
			StartTime:     sess.StartTime,
			EndTime:       sess.EndTime,
			TotalLogs:     sess.TotalRecords,
			EvaluatedLogs: sess.TotalRecords,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

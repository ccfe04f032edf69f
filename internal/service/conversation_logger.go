package service

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"cot-eval/internal/model"
)

// LoggedEntry 日志记录及其落盘位置
type LoggedEntry struct {
	model.ConversationLogEntry
	LogFile string `json:"-"`
}

// ConversationLogger 按 策略/问题 落盘对话日志。
// 目录结构: {resultPath}/conversation_logs/{prefix}/{strategy}/{questionID}-{纳秒时间戳}.json
type ConversationLogger struct {
	mu        sync.Mutex
	logDir    string
	sessionID string
}

// NewConversationLogger sessionID为空时用当前unix秒作为会话ID
func NewConversationLogger(resultPath, prefix, sessionID string) *ConversationLogger {
	if sessionID == "" {
		sessionID = strconv.FormatInt(time.Now().Unix(), 10)
	}
	return &ConversationLogger{
		logDir:    filepath.Join(resultPath, "conversation_logs", sanitizeName(prefix)),
		sessionID: sessionID,
	}
}

func (l *ConversationLogger) SessionID() string { return l.sessionID }

func (l *ConversationLogger) LogDir() string { return l.logDir }

// Log 将一次交互写入日志文件，返回写入的记录及文件路径。
// 新记录 evaluated 恒为 false，评估结果之后由 MarkEvaluated 写入。
func (l *ConversationLogger) Log(q model.Question, strategy string, out *StrategyOutput) (*LoggedEntry, error) {
	now := time.Now()
	entry := model.ConversationLogEntry{
		QuestionID:      q.ID,
		Question:        q.Question,
		ReferenceAnswer: q.Answer,
		ModelAnswer:     out.Answer,
		FullResponse:    out.FullResponse,
		HasReasoning:    out.HasReasoning,
		Reasoning:       out.Reasoning,
		Strategy:        strategy,
		Category:        q.Category,
		Difficulty:      q.Difficulty,
		Timestamp:       float64(now.UnixNano()) / float64(time.Second),
		SessionID:       l.sessionID,
		Evaluated:       false,
		Metadata:        &out.Metadata,
	}

	dir := filepath.Join(l.logDir, sanitizeName(strategy))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建对话日志目录失败: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%d.json", sanitizeName(q.ID), now.UnixNano()))

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := writeJSONAtomic(path, &entry); err != nil {
		return nil, fmt.Errorf("写入对话日志失败: %w", err)
	}

	return &LoggedEntry{ConversationLogEntry: entry, LogFile: path}, nil
}

// MarkEvaluated 将评估结果恰好一次地写回日志文件。
// 文件已处于 evaluated 状态时返回 ErrAlreadyEvaluated，不覆盖原结果。
func (l *ConversationLogger) MarkEvaluated(logFile string, result *model.EvaluationResult) (*LoggedEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := readLogFile(logFile)
	if err != nil {
		return nil, err
	}
	if entry.Evaluated {
		return nil, fmt.Errorf("日志 %s: %w", filepath.Base(logFile), ErrAlreadyEvaluated)
	}

	entry.Evaluated = true
	entry.EvaluationResult = result
	entry.EvaluationTimestamp = float64(time.Now().UnixNano()) / float64(time.Second)

	if err := writeJSONAtomic(logFile, &entry.ConversationLogEntry); err != nil {
		return nil, fmt.Errorf("写回评估结果失败: %w", err)
	}
	return entry, nil
}

// ListUnevaluated 列出指定会话下某策略的未评估日志。
// strategy为空时遍历全部策略；session为空时不过滤会话。
func (l *ConversationLogger) ListUnevaluated(sessionID, strategy string) ([]*LoggedEntry, error) {
	entries, err := l.list(sessionID, strategy)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if !e.Evaluated {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListBySession 列出某会话的全部日志，按写入时间升序
func (l *ConversationLogger) ListBySession(sessionID string) ([]*LoggedEntry, error) {
	return l.list(sessionID, "")
}

// ListSessions 汇总日志目录下出现过的全部会话
func (l *ConversationLogger) ListSessions() ([]model.SessionSummary, error) {
	entries, err := l.list("", "")
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.SessionSummary)
	strategies := make(map[string]map[string]struct{})
	var order []string
	for _, e := range entries {
		s, ok := byID[e.SessionID]
		if !ok {
			s = &model.SessionSummary{SessionID: e.SessionID, StartTime: e.Timestamp, EndTime: e.Timestamp}
			byID[e.SessionID] = s
			strategies[e.SessionID] = make(map[string]struct{})
			order = append(order, e.SessionID)
		}
		if e.Timestamp < s.StartTime {
			s.StartTime = e.Timestamp
		}
		if e.Timestamp > s.EndTime {
			s.EndTime = e.Timestamp
		}
		s.TotalLogs++
		if e.Evaluated {
			s.EvaluatedLogs++
		}
		strategies[e.SessionID][e.Strategy] = struct{}{}
	}

	sort.Strings(order)
	out := make([]model.SessionSummary, 0, len(order))
	for _, id := range order {
		s := byID[id]
		for name := range strategies[id] {
			s.Strategies = append(s.Strategies, name)
		}
		sort.Strings(s.Strategies)
		out = append(out, *s)
	}
	return out, nil
}

func (l *ConversationLogger) list(sessionID, strategy string) ([]*LoggedEntry, error) {
	var dirs []string
	if strategy != "" {
		dirs = []string{filepath.Join(l.logDir, sanitizeName(strategy))}
	} else {
		subdirs, err := os.ReadDir(l.logDir)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("读取对话日志目录失败: %w", err)
		}
		for _, d := range subdirs {
			if d.IsDir() {
				dirs = append(dirs, filepath.Join(l.logDir, d.Name()))
			}
		}
	}

	var out []*LoggedEntry
	for _, dir := range dirs {
		files, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("读取对话日志目录失败: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			path := filepath.Join(dir, f.Name())
			entry, err := readLogFile(path)
			if err != nil {
				// 单个坏文件不中断列表，跳过并记录
				log.Printf("跳过无法解析的日志文件 %s: %v", path, err)
				continue
			}
			if sessionID != "" && entry.SessionID != sessionID {
				continue
			}
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].LogFile < out[j].LogFile
	})
	return out, nil
}

func readLogFile(path string) (*LoggedEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("日志 %s: %w", filepath.Base(path), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("读取日志文件失败: %w", err)
	}
	var entry model.ConversationLogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("解析日志文件 %s 失败: %w", filepath.Base(path), err)
	}
	return &LoggedEntry{ConversationLogEntry: entry, LogFile: path}, nil
}

// writeJSONAtomic 先写临时文件再rename，避免读到半截文件
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + "." + uuid.New().String() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

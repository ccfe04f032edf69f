package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cot-eval/internal/config"
	"cot-eval/internal/model"
)

// 问题×策略执行单元的状态
const (
	UnitPending    = "PENDING"
	UnitRunning    = "RUNNING"
	UnitLogged     = "LOGGED"
	UnitFailed     = "FAILED"
	UnitEvaluating = "EVALUATING"
	UnitEvaluated  = "EVALUATED"
	UnitEvalFailed = "EVAL_FAILED"
)

// Progress 批量任务进度计数，供外部轮询
type Progress struct {
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	Running    int  `json:"running"`
	Succeeded  int  `json:"succeeded"`
	Failed     int  `json:"failed"`
	Evaluated  int  `json:"evaluated"`
	EvalFailed int  `json:"eval_failed"`
	InProgress bool `json:"in_progress"`
}

// UnitError 单元失败记录，不中断兄弟单元
type UnitError struct {
	QuestionID string `json:"question_id"`
	Strategy   string `json:"strategy"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

// RunRequest 一次批量评估的参数
type RunRequest struct {
	Dataset      string   `json:"dataset" binding:"required"`
	Model        string   `json:"model"`
	Strategies   []string `json:"strategies"`
	MaxQuestions int      `json:"max_questions"`
	SessionID    string   `json:"session_id"`
}

// RunSummary 批量任务结束后的汇总
type RunSummary struct {
	SessionID    string      `json:"session_id"`
	ResultPrefix string      `json:"result_prefix"`
	Dataset      string      `json:"dataset"`
	Model        string      `json:"model"`
	Succeeded    int         `json:"succeeded"`
	Failed       int         `json:"failed"`
	Evaluated    int         `json:"evaluated"`
	EvalFailed   int         `json:"eval_failed"`
	Errors       []UnitError `json:"errors"`
	StartTime    float64     `json:"start_time"`
	EndTime      float64     `json:"end_time"`
}

// BatchRunner 有界并发地驱动 策略执行 -> 日志 -> 评估 -> 聚合落库。
// 单元失败互相隔离，只汇总进 RunSummary。
type BatchRunner struct {
	cfg      *config.Config
	client   ChatClient
	indexes  *IndexManager
	cotCache *CoTCache
	store    SessionStore

	mu       sync.Mutex
	running  bool
	progress Progress
	errs     []UnitError
}

func NewBatchRunner(cfg *config.Config, client ChatClient, indexes *IndexManager, cotCache *CoTCache, store SessionStore) *BatchRunner {
	return &BatchRunner{
		cfg:      cfg,
		client:   client,
		indexes:  indexes,
		cotCache: cotCache,
		store:    store,
	}
}

// Progress 当前进度快照
func (r *BatchRunner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

type unit struct {
	question model.Question
	strategy Strategy
}

// Run 执行一次完整的批量评估。同一时刻只允许一个批量任务。
func (r *BatchRunner) Run(ctx context.Context, req *RunRequest) (*RunSummary, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("已有批量任务在运行")
	}
	r.running = true
	r.errs = nil
	r.progress = Progress{InProgress: true}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.progress.InProgress = false
		r.mu.Unlock()
	}()

	if req.Model == "" {
		req.Model = r.cfg.OpenAI.LLMModel
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = strconv.FormatInt(time.Now().Unix(), 10)
	}

	questions, err := LoadQuestions(r.cfg.Data.QuestionsDir, req.Dataset, req.MaxQuestions)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("数据集 %s 为空", req.Dataset)
	}

	// 入库在查询前完成，检索阶段索引只读
	if _, err := r.indexes.Ingest(ctx, r.client, req.Dataset, questions); err != nil {
		return nil, fmt.Errorf("构建向量索引失败: %w", err)
	}

	deps := &StrategyDeps{
		Client:   r.client,
		Indexes:  r.indexes,
		CoTCache: r.cotCache,
		OpenAI:   &r.cfg.OpenAI,
		Cfg:      &r.cfg.Strategies,
	}
	names := req.Strategies
	if len(names) == 0 {
		names = StrategyNames()
	}
	strategies, err := BuildStrategies(deps, req.Dataset, names)
	if err != nil {
		return nil, err
	}

	prefix := r.resultPrefix(req.Dataset, req.Model)
	logger := NewConversationLogger(r.cfg.Storage.ResultPath, prefix, sessionID)
	startTime := float64(time.Now().UnixNano()) / float64(time.Second)

	units := make([]unit, 0, len(questions)*len(strategies))
	for _, q := range questions {
		for _, s := range strategies {
			units = append(units, unit{question: q, strategy: s})
		}
	}
	r.mu.Lock()
	r.progress.Total = len(units)
	r.progress.Pending = len(units)
	r.mu.Unlock()
	log.Printf("开始批量评估: 数据集=%s 模型=%s 共 %d 个执行单元", req.Dataset, req.Model, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Batch.Workers)
	for _, u := range units {
		u := u
		g.Go(func() error {
			// 单元边界的协作式取消点，进行中的单元自然收尾
			if gctx.Err() != nil {
				return nil
			}
			r.runUnit(gctx, logger, u)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	evaluated, evalFailed, err := r.evaluatePass(ctx, logger, sessionID, "")
	if err != nil {
		return nil, err
	}

	entries, err := logger.ListBySession(sessionID)
	if err != nil {
		return nil, err
	}
	endTime := float64(time.Now().UnixNano()) / float64(time.Second)

	save := &SaveRequest{
		SessionID:    sessionID,
		ResultPrefix: prefix,
		Dataset:      req.Dataset,
		Model:        req.Model,
		StartTime:    startTime,
		EndTime:      endTime,
		Entries:      entries,
		File:         BuildResultsFile(entries),
	}
	if err := r.store.SaveResults(ctx, save); err != nil {
		return nil, err
	}

	r.mu.Lock()
	summary := &RunSummary{
		SessionID:    sessionID,
		ResultPrefix: prefix,
		Dataset:      req.Dataset,
		Model:        req.Model,
		Succeeded:    r.progress.Succeeded,
		Failed:       r.progress.Failed,
		Evaluated:    evaluated,
		EvalFailed:   evalFailed,
		Errors:       append([]UnitError(nil), r.errs...),
		StartTime:    startTime,
		EndTime:      endTime,
	}
	r.mu.Unlock()
	log.Printf("批量评估完成: 成功=%d 失败=%d 已评估=%d 评估失败=%d",
		summary.Succeeded, summary.Failed, summary.Evaluated, summary.EvalFailed)
	return summary, nil
}

// runUnit 执行单个 问题×策略 单元：策略运行 -> 落日志。
// 失败重试至上限后记为 FAILED，不影响其他单元。
func (r *BatchRunner) runUnit(ctx context.Context, logger *ConversationLogger, u unit) {
	r.setUnitRunning()

	var lastErr error
	for attempt := 0; attempt <= r.cfg.Batch.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		out, err := u.strategy.Run(ctx, u.question)
		if err != nil {
			lastErr = err
			log.Printf("问题 %s 策略 %s 执行失败（第%d次）: %v", u.question.ID, u.strategy.Name(), attempt+1, err)
			continue
		}

		if _, err := logger.Log(u.question, u.strategy.Name(), out); err != nil {
			lastErr = err
			log.Printf("问题 %s 策略 %s 写日志失败（第%d次）: %v", u.question.ID, u.strategy.Name(), attempt+1, err)
			continue
		}

		r.setUnitDone(true)
		return
	}

	r.mu.Lock()
	r.errs = append(r.errs, UnitError{
		QuestionID: u.question.ID,
		Strategy:   u.strategy.Name(),
		Stage:      UnitFailed,
		Error:      lastErr.Error(),
	})
	r.mu.Unlock()
	r.setUnitDone(false)
}

// EvaluateLogs 离线评估：扫描未评估日志并驱动评估器，
// 与在线批量同样的有界并发。聚合结果随后落库。
func (r *BatchRunner) EvaluateLogs(ctx context.Context, dataset, modelName, sessionID, strategy string) (*RunSummary, error) {
	prefix := r.resultPrefix(dataset, modelName)
	logger := NewConversationLogger(r.cfg.Storage.ResultPath, prefix, sessionID)

	r.mu.Lock()
	r.errs = nil
	r.mu.Unlock()

	startTime := float64(time.Now().UnixNano()) / float64(time.Second)
	evaluated, evalFailed, err := r.evaluatePass(ctx, logger, sessionID, strategy)
	if err != nil {
		return nil, err
	}

	entries, err := logger.ListBySession(sessionID)
	if err != nil {
		return nil, err
	}
	endTime := float64(time.Now().UnixNano()) / float64(time.Second)

	save := &SaveRequest{
		SessionID:    sessionID,
		ResultPrefix: prefix,
		Dataset:      dataset,
		Model:        modelName,
		StartTime:    startTime,
		EndTime:      endTime,
		Entries:      entries,
		File:         BuildResultsFile(entries),
	}
	if err := r.store.SaveResults(ctx, save); err != nil {
		return nil, err
	}

	r.mu.Lock()
	summary := &RunSummary{
		SessionID:    sessionID,
		ResultPrefix: prefix,
		Dataset:      dataset,
		Model:        modelName,
		Evaluated:    evaluated,
		EvalFailed:   evalFailed,
		Errors:       append([]UnitError(nil), r.errs...),
		StartTime:    startTime,
		EndTime:      endTime,
	}
	r.mu.Unlock()
	return summary, nil
}

// evaluatePass 对未评估日志跑一轮评估。
// 重复标记（ErrAlreadyEvaluated）按无害跳过处理。
func (r *BatchRunner) evaluatePass(ctx context.Context, logger *ConversationLogger, sessionID, strategy string) (evaluated, evalFailed int, err error) {
	pending, err := logger.ListUnevaluated(sessionID, strategy)
	if err != nil {
		return 0, 0, err
	}
	log.Printf("开始评估 %d 条对话日志", len(pending))

	evaluator := NewEvaluator(r.client, &r.cfg.OpenAI, &r.cfg.Batch)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Batch.Workers)
	for _, entry := range pending {
		entry := entry
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			result, err := evaluator.Evaluate(gctx, entry)
			if err != nil {
				log.Printf("评估日志时出错: %v", err)
				mu.Lock()
				evalFailed++
				mu.Unlock()
				r.recordEvalError(entry, err)
				return nil
			}

			if _, err := logger.MarkEvaluated(entry.LogFile, result); err != nil {
				if errors.Is(err, ErrAlreadyEvaluated) {
					return nil
				}
				log.Printf("标记日志已评估失败: %v", err)
				mu.Lock()
				evalFailed++
				mu.Unlock()
				r.recordEvalError(entry, err)
				return nil
			}

			mu.Lock()
			evaluated++
			mu.Unlock()
			r.mu.Lock()
			r.progress.Evaluated++
			r.mu.Unlock()
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return evaluated, evalFailed, err
	}

	r.mu.Lock()
	r.progress.EvalFailed = evalFailed
	r.mu.Unlock()
	return evaluated, evalFailed, nil
}

// resultPrefix 配置里指定了前缀就用配置的，否则按 数据集_模型 派生
func (r *BatchRunner) resultPrefix(dataset, modelName string) string {
	if r.cfg.Storage.ResultPrefix != "" {
		return r.cfg.Storage.ResultPrefix
	}
	return PrefixFor(dataset, modelName)
}

func (r *BatchRunner) recordEvalError(entry *LoggedEntry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, UnitError{
		QuestionID: entry.QuestionID,
		Strategy:   entry.Strategy,
		Stage:      UnitEvalFailed,
		Error:      err.Error(),
	})
}

func (r *BatchRunner) setUnitRunning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Pending--
	r.progress.Running++
}

func (r *BatchRunner) setUnitDone(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Running--
	if ok {
		r.progress.Succeeded++
	} else {
		r.progress.Failed++
	}
}

package service

import "errors"

// 失败分类：单元级错误被隔离并计入运行摘要，不影响其它单元；
// 存储打不开、模型端点完全不可达属于致命错误，直接中止本次运行。
var (
	// ErrRetrieval 嵌入或向量索引不可用
	ErrRetrieval = errors.New("向量检索失败")
	// ErrGeneration 补全调用失败或超时
	ErrGeneration = errors.New("生成回答失败")
	// ErrEvaluationParse 评估模型输出无法解析为得分
	ErrEvaluationParse = errors.New("评估结果解析失败")
	// ErrAlreadyEvaluated 重复写入同一评估键，按空操作拒绝
	ErrAlreadyEvaluated = errors.New("该记录已评估")
	// ErrNotFound 请求的结果不存在
	ErrNotFound = errors.New("结果不存在")
	// ErrUnknownStrategy 策略名未注册
	ErrUnknownStrategy = errors.New("未知的策略名称")
)

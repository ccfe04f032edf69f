package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Batch      BatchConfig      `yaml:"batch"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Data       DataConfig       `yaml:"data"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StorageConfig struct {
	// 后端类型：json/sqlite
	Backend string `yaml:"backend"`
	// JSON后端的结果目录（对话日志也存放在此目录下）
	ResultPath string `yaml:"result_path"`
	// SQLite后端的数据库文件路径
	SQLitePath string `yaml:"sqlite_path"`
	// 结果文件前缀，为空时按 数据集_模型 自动生成
	ResultPrefix string `yaml:"result_prefix"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// 模型配置：回答/评估/嵌入/推理链
	LLMModel        string `yaml:"llm_model"`
	EvaluationModel string `yaml:"evaluation_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
	ReasoningModel  string `yaml:"reasoning_model"`
}

type BatchConfig struct {
	// 并发worker数量
	Workers int `yaml:"workers"`
	// 单个单元的最大重试次数
	MaxRetries int `yaml:"max_retries"`
	// 评估结果解析失败时的重试次数
	EvalParseRetries int `yaml:"eval_parse_retries"`
}

type StrategiesConfig struct {
	// 检索的示例数量
	NumExamples int `yaml:"num_examples"`
	// Zero-shot提示后缀
	ZeroShotSuffix string `yaml:"zero_shot_suffix"`
	// Auto-CoT推理前缀
	CoTPrefix string `yaml:"cot_prefix"`
	// AutoReason推理链生成提示
	ReasoningPrompt string `yaml:"reasoning_prompt"`
	// 每个数据集使用独立向量索引（避免few-shot跨数据集泄漏）
	SeparateIndexes bool `yaml:"separate_indexes"`
}

type DataConfig struct {
	// 问题集JSON文件目录
	QuestionsDir string `yaml:"questions_dir"`
	// 向量索引持久化目录
	VectorStoreDir string `yaml:"vector_store_dir"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "json"
	}
	if c.Storage.ResultPath == "" {
		c.Storage.ResultPath = "results"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/backup.db"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.LLMModel == "" {
		c.OpenAI.LLMModel = "gpt-4"
	}
	if c.OpenAI.EvaluationModel == "" {
		c.OpenAI.EvaluationModel = "gpt-4"
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-3-large"
	}
	if c.OpenAI.ReasoningModel == "" {
		c.OpenAI.ReasoningModel = c.OpenAI.LLMModel
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = 4
	}
	if c.Batch.MaxRetries <= 0 {
		c.Batch.MaxRetries = 3
	}
	if c.Batch.EvalParseRetries <= 0 {
		c.Batch.EvalParseRetries = 2
	}
	if c.Strategies.NumExamples <= 0 {
		c.Strategies.NumExamples = 2
	}
	if c.Strategies.ZeroShotSuffix == "" {
		c.Strategies.ZeroShotSuffix = "Let's think step by step."
	}
	if c.Strategies.CoTPrefix == "" {
		c.Strategies.CoTPrefix = "Let's think step by step."
	}
	if c.Strategies.ReasoningPrompt == "" {
		c.Strategies.ReasoningPrompt = "您将获得一个问题，并使用该问题将其分解为一系列逻辑推理轨迹。仅写下推理过程，不要自己回答问题"
	}
	if c.Data.QuestionsDir == "" {
		c.Data.QuestionsDir = "data/questions"
	}
	if c.Data.VectorStoreDir == "" {
		c.Data.VectorStoreDir = "data/vector_store"
	}
}

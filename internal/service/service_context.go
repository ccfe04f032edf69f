package service

import (
	"fmt"

	"cot-eval/internal/config"
	"cot-eval/internal/db"
)

type ServiceContext struct {
	Config  *config.Config
	Client  ChatClient
	Indexes *IndexManager
	Store   SessionStore
	Runner  *BatchRunner
}

func NewServiceContext(cfg *config.Config) (*ServiceContext, error) {
	client := NewOpenAIClient(&cfg.OpenAI)
	indexes := NewIndexManager(cfg.Data.VectorStoreDir, cfg.OpenAI.EmbeddingModel, cfg.Strategies.SeparateIndexes)

	var store SessionStore
	switch cfg.Storage.Backend {
	case "sqlite":
		if db.DB == nil {
			return nil, fmt.Errorf("SQLite后端需要先初始化数据库")
		}
		store = NewSQLiteStore(db.DB)
	case "json", "":
		jsonStore, err := NewJSONStore(cfg.Storage.ResultPath)
		if err != nil {
			return nil, err
		}
		store = jsonStore
	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", cfg.Storage.Backend)
	}

	runner := NewBatchRunner(cfg, client, indexes, NewCoTCache(), store)

	return &ServiceContext{
		Config:  cfg,
		Client:  client,
		Indexes: indexes,
		Store:   store,
		Runner:  runner,
	}, nil
}

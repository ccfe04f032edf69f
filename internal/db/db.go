package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"cot-eval/internal/config"
	"cot-eval/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB(cfg *config.Config) error {
	dir := filepath.Dir(cfg.Storage.SQLitePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(cfg.Storage.SQLitePath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}

	// 自动迁移
	if err := DB.AutoMigrate(
		&model.EvaluationResultRow{},
		&model.SessionRow{},
		&model.StrategyMetadataRow{},
		&model.OverallMetricsRow{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	log.Println("数据库初始化成功")
	return nil
}
